// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/varbooth/config.yaml",
	"/etc/varbooth/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8000,
			Timeout: 30 * time.Second,
		},
		Arena: ArenaConfig{
			Address:           "10.0.100.5:8080",
			Password:          "",
			CompatMode:        false,
			ReconnectInterval: 3 * time.Second,
		},
		Hyperdeck: HyperdeckConfig{
			Address:           "",
			CommandAttempts:   3,
			CommandRetryDelay: 250 * time.Millisecond,
			ReconnectInterval: 3 * time.Second,
			ClipPollInterval:  500 * time.Millisecond,
			ClipPollTimeout:   10 * time.Second,
		},
		VAR: VARConfig{
			AutoScoringDelay:    3.0,
			EndgameScoringDelay: 3.0,
			RecordingExtraTime:  2.0,
		},
		Database: DatabaseConfig{
			Path: "/data/varbooth",
		},
		Web: WebConfig{
			SwapRedBlue:   false,
			PingInterval:  10 * time.Second,
			PongTimeout:   5 * time.Second,
			AdminUsername: "",
			AdminPassword: "",
			CommandRate:   20,
			CommandBurst:  40,
			CORSOrigins:   []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads the configuration using layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches the env override, then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the paths parsed as comma-separated slices when
// they arrive from env vars as strings.
var sliceConfigPaths = []string{
	"web.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - ARENA_ADDRESS -> arena.address
//   - HYPERDECK_ADDRESS -> hyperdeck.address
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Arena mappings
		"arena_address":            "arena.address",
		"arena_password":           "arena.password",
		"arena_compat_mode":        "arena.compat_mode",
		"arena_reconnect_interval": "arena.reconnect_interval",

		// Hyperdeck mappings
		"hyperdeck_address":             "hyperdeck.address",
		"hyperdeck_command_attempts":    "hyperdeck.command_attempts",
		"hyperdeck_command_retry_delay": "hyperdeck.command_retry_delay",
		"hyperdeck_reconnect_interval":  "hyperdeck.reconnect_interval",
		"hyperdeck_clip_poll_interval":  "hyperdeck.clip_poll_interval",
		"hyperdeck_clip_poll_timeout":   "hyperdeck.clip_poll_timeout",

		// VAR workflow mappings
		"var_auto_scoring_delay":    "var.auto_scoring_delay",
		"var_endgame_scoring_delay": "var.endgame_scoring_delay",
		"var_recording_extra_time":  "var.recording_extra_time",

		// Database mappings
		"database_path": "database.path",

		// Web mappings
		"web_swap_red_blue": "web.swap_red_blue",
		"web_ping_interval": "web.ping_interval",
		"web_pong_timeout":  "web.pong_timeout",
		"admin_username":    "web.admin_username",
		"admin_password":    "web.admin_password",
		"web_command_rate":  "web.command_rate",
		"web_command_burst": "web.command_burst",
		"cors_origins":      "web.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are skipped so stray environment variables do not
	// pollute the config.
	return ""
}
