// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package hyperdeck drives a Blackmagic HyperDeck recorder over its HTTP
// control API. Commands are serialized through a single executor so the
// device never sees interleaved requests; state flows back through the
// notification websocket and is mirrored into dispatch envelopes.
package hyperdeck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/varbooth/varbooth/internal/dispatch"
	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
	"github.com/varbooth/varbooth/internal/model"
	"github.com/varbooth/varbooth/internal/retry"
)

const (
	apiBasePath   = "/control/api/v1"
	eventWsPath   = "/control/api/v1/event/websocket"
	dialTimeout   = 5 * time.Second
	commandBuffer = 16
)

// Subscribed push properties.
const (
	propPlayback  = "/transports/0/playback"
	propTransport = "/transports/0"
	propTimeline  = "/timelines/0"
	propRecord    = "/transports/0/record"
)

// ErrClipNotFound indicates a warp referenced a clip the recorder does not
// have.
var ErrClipNotFound = errors.New("clip not found on recorder")

// ClipFinalized is the payload of the clip_finalized envelope, tying the
// recorder's clip back to the match whose stop command produced it.
type ClipFinalized struct {
	VarID    string `json:"var_id"`
	ClipID   int    `json:"clip_id"`
	FilePath string `json:"file_path"`
}

// Config configures the recorder adapter.
type Config struct {
	Address           string
	CommandAttempts   int
	CommandRetryDelay time.Duration
	ReconnectInterval time.Duration
	ClipPollInterval  time.Duration
	ClipPollTimeout   time.Duration
}

// Client is the recorder adapter. Commands are fire-and-forget from the
// caller's perspective; results and state changes come back through the
// dispatch queue.
type Client struct {
	cfg      Config
	queue    *dispatch.Queue
	clock    retry.Clock
	http     *http.Client
	dialer   *websocket.Dialer
	breaker  *gobreaker.CircuitBreaker[any]
	commands chan command
	log      zerolog.Logger

	mu            sync.RWMutex
	connected     bool
	transportMode model.TransportMode
	playback      model.PlaybackState
	record        model.RecordStatus
	clips         map[int]model.Clip
	timeline      map[int]model.TimelineClip
}

// New creates a recorder client.
func New(cfg Config, queue *dispatch.Queue, clock retry.Clock) *Client {
	log := logging.Component("hyperdeck")

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "hyperdeck",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("recorder circuit breaker state changed")
		},
	})

	return &Client{
		cfg:           cfg,
		queue:         queue,
		clock:         clock,
		http:          &http.Client{Timeout: dialTimeout},
		dialer:        &websocket.Dialer{HandshakeTimeout: dialTimeout},
		breaker:       breaker,
		commands:      make(chan command, commandBuffer),
		log:           log,
		transportMode: model.TransportInputPreview,
		playback:      model.PlaybackState{Type: model.PlaybackJog, SingleClip: true},
		clips:         make(map[int]model.Clip),
		timeline:      make(map[int]model.TimelineClip),
	}
}

// Connected reports whether the notification websocket is up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Recording reports whether the recorder is currently capturing.
func (c *Client) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportMode == model.TransportInputRecord
}

// HasPlayableClip reports whether the clip exists and is on the timeline.
func (c *Client) HasPlayableClip(clipID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, hasClip := c.clips[clipID]
	_, onTimeline := c.timeline[clipID]
	return hasClip && onTimeline
}

// Clip returns the recorder's metadata for a clip.
func (c *Client) Clip(clipID int) (model.Clip, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clip, ok := c.clips[clipID]
	return clip, ok
}

// Status builds the device status snapshot pushed to UI clients. clipID
// selects the clip whose local time the playback position is resolved
// against; zero means no clip is under review.
func (c *Client) Status(clipID int) model.HyperdeckStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := model.HyperdeckStatus{
		TransportMode:          c.transportMode,
		Playing:                c.playback.Speed != 0,
		RemainingRecordTimeSec: float64(c.record.RemainingRecordTime),
		RemainingSpaceBytes:    c.record.RemainingSpace,
		TotalSpaceBytes:        c.record.TotalSpace,
	}
	if clipID != 0 {
		status.ClipTimeSec = c.timeWithinClipLocked(clipID)
	}
	return status
}

// TimeWithinClip converts the current timeline playback position into
// seconds from the start of the given clip, clamped to the clip bounds.
func (c *Client) TimeWithinClip(clipID int) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeWithinClipLocked(clipID)
}

func (c *Client) timeWithinClipLocked(clipID int) float64 {
	clip, hasClip := c.clips[clipID]
	entry, onTimeline := c.timeline[clipID]
	if !hasClip || !onTimeline || clip.VideoFormat.FrameRate <= 0 {
		return 0
	}

	currentFrame := c.playback.Position - entry.TimelineIn
	if currentFrame < 0 {
		currentFrame = 0
	}
	if currentFrame > entry.FrameCount-1 {
		currentFrame = entry.FrameCount - 1
	}
	return float64(entry.ClipIn+currentFrame) / clip.VideoFormat.FrameRate
}

// RunEvents maintains the notification websocket until ctx is canceled.
func (c *Client) RunEvents(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runEventsOnce(ctx)
		if errors.Is(err, context.Canceled) {
			return err
		}

		c.setConnected(false)
		metrics.PeerReconnects.WithLabelValues("hyperdeck").Inc()
		c.log.Warn().Err(err).
			Dur("retry_in", c.cfg.ReconnectInterval).
			Msg("recorder connection lost")

		if err := retry.Sleep(ctx, c.clock, c.cfg.ReconnectInterval); err != nil {
			return err
		}
	}
}

func (c *Client) runEventsOnce(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.cfg.Address, Path: eventWsPath}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	c.setConnected(true)
	metrics.PeerConnected.WithLabelValues("hyperdeck").Set(1)
	c.log.Info().Str("address", c.cfg.Address).Msg("connected to recorder")

	if err := c.refreshClipList(ctx); err != nil {
		return fmt.Errorf("clip list resync: %w", err)
	}

	sub := wsRequest{
		Type: "request",
		ID:   1,
		Data: wsRequestData{
			Action:     "subscribe",
			Properties: []string{propPlayback, propTransport, propTimeline, propRecord},
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recorder read: %w", err)
		}
		if err := c.handleEventMessage(data); err != nil {
			return err
		}
	}
}

// wsRequest and friends mirror the recorder's notification protocol.
type wsRequest struct {
	Type string        `json:"type"`
	ID   int           `json:"id"`
	Data wsRequestData `json:"data"`
}

type wsRequestData struct {
	Action     string   `json:"action"`
	Properties []string `json:"properties"`
}

type wsInbound struct {
	Type string          `json:"type"`
	ID   int             `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

type wsSubscribeResponse struct {
	Action  string                     `json:"action"`
	Success bool                       `json:"success"`
	Values  map[string]json.RawMessage `json:"values"`
}

type wsEventData struct {
	Action   string          `json:"action"`
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`
}

func (c *Client) handleEventMessage(data []byte) error {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(err).Msg("malformed recorder message")
		return nil
	}

	switch msg.Type {
	case "response":
		var resp wsSubscribeResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			c.log.Warn().Err(err).Msg("malformed recorder response")
			return nil
		}
		if resp.Action != "subscribe" {
			return nil
		}
		if !resp.Success {
			return errors.New("recorder subscription rejected")
		}
		// The subscribe response carries the initial property values.
		for prop, value := range resp.Values {
			c.handlePropertyChange(prop, value)
		}

	case "event":
		var ev wsEventData
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed recorder event")
			return nil
		}
		if ev.Action == "propertyValueChanged" {
			c.handlePropertyChange(ev.Property, ev.Value)
		}
	}
	return nil
}

func (c *Client) handlePropertyChange(property string, value json.RawMessage) {
	switch property {
	case propPlayback:
		var pb model.PlaybackState
		if err := json.Unmarshal(value, &pb); err != nil {
			c.log.Warn().Err(err).Str("property", property).Msg("malformed property value")
			return
		}
		c.mu.Lock()
		c.playback = pb
		c.mu.Unlock()

	case propTransport:
		var mode struct {
			Mode model.TransportMode `json:"mode"`
		}
		if err := json.Unmarshal(value, &mode); err != nil {
			c.log.Warn().Err(err).Str("property", property).Msg("malformed property value")
			return
		}
		c.mu.Lock()
		c.transportMode = mode.Mode
		c.mu.Unlock()

	case propTimeline:
		var timeline struct {
			Clips []model.TimelineClip `json:"clips"`
		}
		if err := json.Unmarshal(value, &timeline); err != nil {
			c.log.Warn().Err(err).Str("property", property).Msg("malformed property value")
			return
		}
		c.mu.Lock()
		c.timeline = make(map[int]model.TimelineClip, len(timeline.Clips))
		for _, clip := range timeline.Clips {
			c.timeline[clip.ClipUniqueID] = clip
		}
		c.mu.Unlock()

	case propRecord:
		var rec model.RecordStatus
		if err := json.Unmarshal(value, &rec); err != nil {
			c.log.Warn().Err(err).Str("property", property).Msg("malformed property value")
			return
		}
		c.mu.Lock()
		c.record = rec
		c.mu.Unlock()

	default:
		return
	}

	c.publish(dispatch.KindDeviceStatus, nil)
}

// refreshClipList resyncs the full clip inventory over REST, recovering
// clips recorded while the connection was down.
func (c *Client) refreshClipList(ctx context.Context) error {
	var list struct {
		Clips []model.Clip `json:"clips"`
	}
	if err := c.getJSON(ctx, "/clips", &list); err != nil {
		return err
	}

	c.mu.Lock()
	c.clips = make(map[int]model.Clip, len(list.Clips))
	for _, clip := range list.Clips {
		c.clips[clip.ClipUniqueID] = clip
	}
	c.mu.Unlock()

	c.log.Info().Int("clips", len(list.Clips)).Msg("clip list resynced")
	return nil
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	c.mu.Unlock()

	if !connected {
		metrics.PeerConnected.WithLabelValues("hyperdeck").Set(0)
	}
	if changed {
		c.publish(dispatch.KindDeviceConnection, model.ConnectionStatus{Connected: connected})
	}
}

func (c *Client) publish(kind string, payload any) {
	if err := c.queue.Publish(kind, payload); err != nil {
		c.log.Error().Err(err).Str("kind", kind).Msg("dispatch publish failed")
	}
}

// String identifies the event pump in the supervision tree.
func (c *Client) String() string {
	return "hyperdeck-events"
}
