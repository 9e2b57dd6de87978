// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package metrics exposes Prometheus instrumentation for the VAR workflow:
// peer connection state, device command outcomes, review event activity and
// websocket fanout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeerConnected tracks connection state per upstream peer
	// ("arena", "hyperdeck"). 1 = connected, 0 = disconnected.
	PeerConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "varbooth_peer_connected",
			Help: "Connection state of upstream peers (1 connected, 0 disconnected)",
		},
		[]string{"peer"},
	)

	// PeerReconnects counts reconnect attempts per upstream peer.
	PeerReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varbooth_peer_reconnects_total",
			Help: "Total reconnect attempts toward upstream peers",
		},
		[]string{"peer"},
	)

	// DeviceCommands counts recorder commands by name and outcome
	// ("ok", "retried", "failed").
	DeviceCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varbooth_device_commands_total",
			Help: "Total recorder commands issued, by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	// DeviceCommandDuration observes recorder command latency end to end,
	// including retries.
	DeviceCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "varbooth_device_command_duration_seconds",
			Help:    "Duration of recorder commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// CircuitBreakerState tracks the recorder circuit breaker
	// (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "varbooth_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// ReviewEvents counts review events added, by kind.
	ReviewEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varbooth_review_events_total",
			Help: "Total review events added to recorded matches, by kind",
		},
		[]string{"kind"},
	)

	// RecordingsStarted counts match recordings started.
	RecordingsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "varbooth_recordings_started_total",
			Help: "Total match recordings started",
		},
	)

	// WebsocketClients tracks currently connected UI clients.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "varbooth_websocket_clients",
			Help: "Currently connected UI websocket clients",
		},
	)

	// EventsPushed counts event frames pushed to UI clients, by event type.
	EventsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varbooth_events_pushed_total",
			Help: "Total event frames pushed to UI clients, by event type",
		},
		[]string{"event_type"},
	)

	// CommandsDropped counts client commands dropped as malformed or unknown.
	CommandsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "varbooth_client_commands_dropped_total",
			Help: "Total client commands dropped, by reason",
		},
		[]string{"reason"},
	)

	// DispatchQueueDepth tracks the controller dispatch queue backlog.
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "varbooth_dispatch_queue_depth",
			Help: "Messages buffered in the controller dispatch queue",
		},
	)
)
