// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package web

import "github.com/goccy/go-json"

// Websocket frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameEvent       = "event"
	frameCommand     = "command"
	framePing        = "ping"
	framePong        = "pong"
	frameReload      = "reload"
)

// inboundFrame is the union of everything a UI client may send. Fields
// are populated according to Type; irrelevant ones stay zero.
type inboundFrame struct {
	Type       string          `json:"type"`
	EventTypes []string        `json:"event_types,omitempty"`
	RequestID  *int            `json:"request_id,omitempty"`
	Command    string          `json:"command,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// eventFrame is a server push for one subscribed event type.
type eventFrame struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	Data      any    `json:"data"`
}

// subscribeResponse answers a subscribe request with current values for
// every requested event type.
type subscribeResponse struct {
	Type        string         `json:"type"`
	InitialData map[string]any `json:"initial_data"`
	RequestID   *int           `json:"request_id,omitempty"`
}

// unsubscribeResponse lists the subscriptions remaining after an
// unsubscribe request.
type unsubscribeResponse struct {
	Type                   string   `json:"type"`
	UnsubscribedEventTypes []string `json:"unsubscribed_event_types"`
	RequestID              *int     `json:"request_id,omitempty"`
}

// pingFrame is the server-initiated keepalive probe.
type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// simpleFrame covers pong and reload.
type simpleFrame struct {
	Type string `json:"type"`
}
