// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

var clientIDCounter atomic.Uint64

// Client is one connected UI panel. Each client runs a read pump and a
// write pump; the hub owns the send channel's lifecycle.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan any
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	subs     map[string]bool
	lastPong time.Time
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := clientIDCounter.Add(1)
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		send:     make(chan any, sendBufferSize),
		limiter:  rate.NewLimiter(rate.Limit(hub.cfg.CommandRate), hub.cfg.CommandBurst),
		log:      logging.Component("websocket").With().Uint64("client_id", id).Logger(),
		subs:     make(map[string]bool),
		lastPong: time.Now(),
	}
}

func (c *Client) subscribed(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[eventType]
}

// readPump consumes frames from the panel until the connection drops.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Warn().Err(err).Msg("malformed websocket frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame inboundFrame) {
	switch frame.Type {
	case frameSubscribe:
		c.handleSubscribe(frame)
	case frameUnsubscribe:
		c.handleUnsubscribe(frame)
	case frameCommand:
		c.handleCommand(frame)
	case framePing:
		c.reply(simpleFrame{Type: framePong})
	case framePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	default:
		c.log.Warn().Str("type", frame.Type).Msg("unknown websocket frame type")
	}
}

// handleSubscribe adds the requested event types and replies with their
// current values so the panel never renders from a blank state.
func (c *Client) handleSubscribe(frame inboundFrame) {
	initial := c.hub.snapshot(frame.EventTypes)

	c.mu.Lock()
	for eventType := range initial {
		c.subs[eventType] = true
	}
	c.mu.Unlock()

	c.reply(subscribeResponse{
		Type:        frameSubscribe,
		InitialData: initial,
		RequestID:   frame.RequestID,
	})
}

func (c *Client) handleUnsubscribe(frame inboundFrame) {
	c.mu.Lock()
	for _, eventType := range frame.EventTypes {
		delete(c.subs, eventType)
	}
	remaining := make([]string, 0, len(c.subs))
	for eventType := range c.subs {
		remaining = append(remaining, eventType)
	}
	c.mu.Unlock()
	sort.Strings(remaining)

	c.reply(unsubscribeResponse{
		Type:                   frameUnsubscribe,
		UnsubscribedEventTypes: remaining,
		RequestID:              frame.RequestID,
	})
}

// handleCommand forwards an operator command into the dispatch queue,
// subject to the per-client rate limit.
func (c *Client) handleCommand(frame inboundFrame) {
	if frame.Command == "" {
		metrics.CommandsDropped.WithLabelValues("empty").Inc()
		c.log.Warn().Msg("command frame without a command name")
		return
	}
	if !c.limiter.Allow() {
		metrics.CommandsDropped.WithLabelValues("rate_limited").Inc()
		c.log.Warn().Str("command", frame.Command).Msg("client command rate limited")
		return
	}
	c.hub.forwardCommand(dispatch.ClientCommand{
		Command: frame.Command,
		Data:    frame.Data,
	})
}

// reply queues a frame for this client only.
func (c *Client) reply(frame any) {
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Msg("client send buffer full, dropping reply")
	}
}

// writePump drains the send channel to the socket and drives the JSON
// keepalive. A panel that misses the pong deadline is disconnected.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.writeJSON(frame); err != nil {
				c.log.Warn().Err(err).Msg("websocket write error")
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			silent := time.Since(c.lastPong)
			c.mu.Unlock()
			if silent > c.hub.cfg.PingInterval+c.hub.cfg.PongTimeout {
				c.log.Warn().Dur("silent_for", silent).Msg("client missed pong deadline, disconnecting")
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.writeJSON(pingFrame{Type: framePing, Timestamp: time.Now().UnixMilli()}); err != nil {
				c.log.Warn().Err(err).Msg("websocket ping write error")
				return
			}
		}
	}
}

func (c *Client) writeJSON(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
