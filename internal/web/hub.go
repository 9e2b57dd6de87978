// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package web is the client event bus and HTTP surface: one websocket per
// UI panel with per-client subscriptions, snapshot-on-subscribe, JSON
// keepalive, and command forwarding into the dispatch queue.
package web

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
)

// Emitter produces the current value for one event type. Emitters must be
// safe for concurrent use; they read controller snapshots.
type Emitter func() any

// UISettings is the ui_settings event payload.
type UISettings struct {
	SwapRedBlue bool `json:"swap_red_blue"`
}

// Config configures the client bus.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	CommandRate  float64
	CommandBurst int
	UISettings   UISettings
}

// Hub maintains the set of active clients and fans event updates out to
// the ones subscribed to each type.
type Hub struct {
	cfg   Config
	queue *dispatch.Queue

	register      chan *Client
	unregister    chan *Client
	notifications chan string
	reload        chan struct{}

	mu       sync.RWMutex
	emitters map[string]Emitter
	clients  map[*Client]bool
}

// NewHub creates the hub. Event types are registered before Run; the hub
// registers ui_settings itself.
func NewHub(cfg Config, queue *dispatch.Queue) *Hub {
	h := &Hub{
		cfg:           cfg,
		queue:         queue,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		notifications: make(chan string, 256),
		reload:        make(chan struct{}, 1),
		emitters:      make(map[string]Emitter),
		clients:       make(map[*Client]bool),
	}
	settings := cfg.UISettings
	h.AddEventType("ui_settings", func() any { return settings })
	return h
}

// AddEventType registers an event type and its snapshot emitter. Must be
// called before Run.
func (h *Hub) AddEventType(eventType string, emitter Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.emitters[eventType]; exists {
		panic("duplicate websocket event type: " + eventType)
	}
	h.emitters[eventType] = emitter
	logging.Debug().Str("event_type", eventType).Msg("registered websocket event type")
}

// Notify schedules a push of the event type's current value to all its
// subscribers. Safe to call from any goroutine; a full queue drops the
// notification because a fresher one will follow.
func (h *Hub) Notify(eventType string) {
	select {
	case h.notifications <- eventType:
	default:
		logging.Warn().Str("event_type", eventType).Msg("notification queue full, dropping")
	}
}

// ReloadClients asks every connected panel to refresh itself.
func (h *Hub) ReloadClients() {
	select {
	case h.reload <- struct{}{}:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve runs the hub loop until ctx is canceled, then closes every
// client.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(total))
			logging.Info().Uint64("client_id", client.id).Int("total_clients", total).
				Msg("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebsocketClients.Set(float64(total))
			logging.Info().Uint64("client_id", client.id).Int("total_clients", total).
				Msg("websocket client disconnected")

		case eventType := <-h.notifications:
			h.push(eventType)

		case <-h.reload:
			logging.Info().Msg("requesting reload on all panels")
			h.fanOut(simpleFrame{Type: frameReload}, nil)
		}
	}
}

// push emits the event type's current value to its subscribers. The
// emitter runs once per notification; every subscriber sees the same
// snapshot.
func (h *Hub) push(eventType string) {
	h.mu.RLock()
	emitter, ok := h.emitters[eventType]
	h.mu.RUnlock()
	if !ok {
		logging.Warn().Str("event_type", eventType).Msg("notification for unknown event type")
		return
	}

	frame := eventFrame{
		Type:      frameEvent,
		EventType: eventType,
		Data:      emitter(),
	}
	h.fanOut(frame, func(c *Client) bool { return c.subscribed(eventType) })
	metrics.EventsPushed.WithLabelValues(eventType).Inc()
}

// fanOut queues a frame on every client passing the filter, in client id
// order. Clients whose send buffer is full are dropped; a stalled panel
// must not hold match data back from the rest.
func (h *Hub) fanOut(frame any, filter func(*Client) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		if filter != nil && !filter(client) {
			continue
		}
		select {
		case client.send <- frame:
		default:
			logging.Warn().Uint64("client_id", client.id).Msg("client send buffer full, dropping connection")
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// snapshot builds the initial_data map for a subscribe request. Unknown
// event types are skipped with a warning.
func (h *Hub) snapshot(eventTypes []string) map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data := make(map[string]any, len(eventTypes))
	for _, eventType := range eventTypes {
		emitter, ok := h.emitters[eventType]
		if !ok {
			logging.Warn().Str("event_type", eventType).Msg("unknown event type in subscription")
			continue
		}
		data[eventType] = emitter()
	}
	return data
}

// forwardCommand hands an operator command to the state machine.
func (h *Hub) forwardCommand(cmd dispatch.ClientCommand) {
	if err := h.queue.Publish(dispatch.KindClientCommand, cmd); err != nil {
		logging.Error().Err(err).Str("command", cmd.Command).Msg("failed to forward client command")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WebsocketClients.Set(0)
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// String identifies the hub in the supervision tree.
func (h *Hub) String() string {
	return "websocket-hub"
}
