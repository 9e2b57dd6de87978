// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

// Package config defines the application configuration and its layered
// loading (struct defaults, optional YAML file, environment variables).
package config

import "time"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Arena     ArenaConfig     `koanf:"arena"`
	Hyperdeck HyperdeckConfig `koanf:"hyperdeck"`
	VAR       VARConfig       `koanf:"var"`
	Database  DatabaseConfig  `koanf:"database"`
	Web       WebConfig       `koanf:"web"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// ArenaConfig configures the arena feed adapter.
type ArenaConfig struct {
	// Address is the arena server host:port, without a scheme.
	Address  string `koanf:"address"`
	Password string `koanf:"password"`

	// CompatMode connects to the referee panel websocket instead of the
	// dedicated video referee endpoint, for arena builds that lack it.
	CompatMode bool `koanf:"compat_mode"`

	ReconnectInterval time.Duration `koanf:"reconnect_interval"`
}

// HyperdeckConfig configures the recorder adapter.
type HyperdeckConfig struct {
	// Address is the recorder host:port, without a scheme.
	Address string `koanf:"address"`

	CommandAttempts   int           `koanf:"command_attempts"`
	CommandRetryDelay time.Duration `koanf:"command_retry_delay"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`

	// Clip finalization: how often to poll for the recorded clip after a
	// stop command, and how long before giving up on it.
	ClipPollInterval time.Duration `koanf:"clip_poll_interval"`
	ClipPollTimeout  time.Duration `koanf:"clip_poll_timeout"`
}

// VARConfig tunes the review workflow timings, in seconds of match time.
type VARConfig struct {
	// AutoScoringDelay is how long after the autonomous period ends the
	// auto scoring snapshot event is marked.
	AutoScoringDelay float64 `koanf:"auto_scoring_delay"`

	// EndgameScoringDelay is how long after the match ends the endgame
	// scoring snapshot event is marked.
	EndgameScoringDelay float64 `koanf:"endgame_scoring_delay"`

	// RecordingExtraTime is how long recording continues past the
	// endgame scoring mark before the recorder is stopped.
	RecordingExtraTime float64 `koanf:"recording_extra_time"`
}

// DatabaseConfig configures the embedded key-value store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// WebConfig configures the operator websocket and admin surface.
type WebConfig struct {
	// SwapRedBlue flips the rendered alliance sides for venues where the
	// booth faces the field from behind.
	SwapRedBlue bool `koanf:"swap_red_blue"`

	PingInterval time.Duration `koanf:"ping_interval"`
	PongTimeout  time.Duration `koanf:"pong_timeout"`

	// Admin credentials guard the status and reload endpoints. Empty
	// username disables them.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`

	// CommandRate limits client commands per second per connection.
	CommandRate  float64 `koanf:"command_rate"`
	CommandBurst int     `koanf:"command_burst"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
