// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values that would break the
// service at runtime. It returns all problems joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.Timeout <= 0 {
		errs = append(errs, errors.New("server.timeout must be positive"))
	}

	if c.Arena.Address == "" {
		errs = append(errs, errors.New("arena.address is required"))
	}
	if strings.Contains(c.Arena.Address, "://") {
		errs = append(errs, fmt.Errorf("arena.address must be host:port without a scheme, got %q", c.Arena.Address))
	}
	if c.Arena.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("arena.reconnect_interval must be positive"))
	}

	if strings.Contains(c.Hyperdeck.Address, "://") {
		errs = append(errs, fmt.Errorf("hyperdeck.address must be host:port without a scheme, got %q", c.Hyperdeck.Address))
	}
	if c.Hyperdeck.CommandAttempts < 1 {
		errs = append(errs, errors.New("hyperdeck.command_attempts must be at least 1"))
	}
	if c.Hyperdeck.CommandRetryDelay < 0 {
		errs = append(errs, errors.New("hyperdeck.command_retry_delay must not be negative"))
	}
	if c.Hyperdeck.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("hyperdeck.reconnect_interval must be positive"))
	}
	if c.Hyperdeck.ClipPollInterval <= 0 {
		errs = append(errs, errors.New("hyperdeck.clip_poll_interval must be positive"))
	}
	if c.Hyperdeck.ClipPollTimeout < c.Hyperdeck.ClipPollInterval {
		errs = append(errs, errors.New("hyperdeck.clip_poll_timeout must be at least clip_poll_interval"))
	}

	if c.VAR.AutoScoringDelay < 0 {
		errs = append(errs, errors.New("var.auto_scoring_delay must not be negative"))
	}
	if c.VAR.EndgameScoringDelay < 0 {
		errs = append(errs, errors.New("var.endgame_scoring_delay must not be negative"))
	}
	if c.VAR.RecordingExtraTime < 0 {
		errs = append(errs, errors.New("var.recording_extra_time must not be negative"))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.Web.PingInterval <= 0 {
		errs = append(errs, errors.New("web.ping_interval must be positive"))
	}
	if c.Web.PongTimeout <= 0 {
		errs = append(errs, errors.New("web.pong_timeout must be positive"))
	}
	if c.Web.AdminUsername != "" && c.Web.AdminPassword == "" {
		errs = append(errs, errors.New("web.admin_password is required when web.admin_username is set"))
	}
	if c.Web.CommandRate <= 0 {
		errs = append(errs, errors.New("web.command_rate must be positive"))
	}
	if c.Web.CommandBurst < 1 {
		errs = append(errs, errors.New("web.command_burst must be at least 1"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of trace/debug/info/warn/error, got %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
