// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package dispatch is the serialized in-process message queue between the
// adapters and the controller. Everything that mutates controller state
// (arena messages, recorder results, client commands, timer expiries) is
// published here as an envelope and consumed by a single goroutine, which
// keeps the match cycle logic free of locking.
package dispatch

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/varbooth/varbooth/internal/logging"
	"github.com/varbooth/varbooth/internal/metrics"
)

// Topic is the single controller input topic.
const Topic = "controller.events"

// Envelope kinds. The payload type for each kind is fixed by convention;
// the controller switches on Kind and unmarshals accordingly.
const (
	KindArenaConnection    = "arena.connection"
	KindArenaMatchLoad     = "arena.match_load"
	KindArenaTiming        = "arena.match_timing"
	KindArenaMatchTime     = "arena.match_time"
	KindArenaRealtimeScore = "arena.realtime_score"
	KindArenaStatus        = "arena.status"
	KindArenaScoringStatus = "arena.scoring_status"
	KindArenaHrReview      = "arena.hr_review"
	KindArenaMatchResults  = "arena.match_results"
	KindMatchStarted       = "arena.match_started"
	KindAutoEnded          = "arena.auto_ended"
	KindTeleopStarted      = "arena.teleop_started"
	KindMatchEnded         = "arena.match_ended"
	KindMatchCommitted     = "arena.match_committed"

	KindDeviceConnection = "hyperdeck.connection"
	KindDeviceStatus     = "hyperdeck.status"
	KindClipFinalized    = "hyperdeck.clip_finalized"

	KindClientCommand = "client.command"
	KindTimerFired    = "timer.fired"
)

// Envelope is the unit of work on the controller queue.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientCommand is the client.command envelope payload: an operator
// command forwarded verbatim from a UI connection.
type ClientCommand struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Queue wraps an in-process Pub/Sub with a fixed topic and JSON envelopes.
type Queue struct {
	pubsub *gochannel.GoChannel
}

// New creates the queue. The buffer absorbs bursts from the arena feed
// while the controller is busy with a device command result.
func New() *Queue {
	return &Queue{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent:          false,
			},
			newWatermillLogger(logging.Logger()),
		),
	}
}

// Publish marshals payload and enqueues an envelope of the given kind.
// A nil payload produces an envelope with no payload.
func (q *Queue) Publish(kind string, payload any) error {
	env := Envelope{Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := q.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	metrics.DispatchQueueDepth.Inc()
	return nil
}

// Subscribe returns the stream of envelopes. Malformed messages are acked
// and dropped with a warning; the queue must never wedge the controller.
func (q *Queue) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	msgs, err := q.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range msgs {
			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logging.Warn().Err(err).Msg("dropping malformed dispatch envelope")
				msg.Ack()
				continue
			}
			select {
			case out <- env:
				metrics.DispatchQueueDepth.Dec()
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the underlying pub/sub down, closing subscriber channels.
func (q *Queue) Close() error {
	return q.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's logging contract.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger.With().Str("component", "dispatch").Logger()}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	logger := l.logger
	for k, v := range fields {
		logger = logger.With().Interface(k, v).Logger()
	}
	return &watermillLogger{logger: logger}
}

func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
