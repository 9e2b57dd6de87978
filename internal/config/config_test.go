// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero timeout", func(c *Config) { c.Server.Timeout = 0 }, "server.timeout"},
		{"empty arena address", func(c *Config) { c.Arena.Address = "" }, "arena.address"},
		{"arena address with scheme", func(c *Config) { c.Arena.Address = "ws://10.0.100.5:8080" }, "arena.address"},
		{"hyperdeck address with scheme", func(c *Config) { c.Hyperdeck.Address = "http://deck" }, "hyperdeck.address"},
		{"zero command attempts", func(c *Config) { c.Hyperdeck.CommandAttempts = 0 }, "command_attempts"},
		{"poll timeout below interval", func(c *Config) {
			c.Hyperdeck.ClipPollInterval = time.Second
			c.Hyperdeck.ClipPollTimeout = time.Millisecond
		}, "clip_poll_timeout"},
		{"negative auto scoring delay", func(c *Config) { c.VAR.AutoScoringDelay = -1 }, "auto_scoring_delay"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"admin username without password", func(c *Config) { c.Web.AdminUsername = "admin" }, "admin_password"},
		{"zero command rate", func(c *Config) { c.Web.CommandRate = 0 }, "command_rate"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = -1
	cfg.Arena.Address = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"server.port", "arena.address", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"ARENA_ADDRESS", "arena.address"},
		{"HYPERDECK_ADDRESS", "hyperdeck.address"},
		{"HTTP_PORT", "server.port"},
		{"VAR_AUTO_SCORING_DELAY", "var.auto_scoring_delay"},
		{"ADMIN_USERNAME", "web.admin_username"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
arena:
  address: "192.168.1.10:8080"
  password: "secret"
hyperdeck:
  address: "192.168.1.20"
var:
  auto_scoring_delay: 5.5
web:
  cors_origins:
    - "http://panel1.local"
    - "http://panel2.local"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Arena.Address != "192.168.1.10:8080" {
		t.Errorf("Arena.Address = %q", cfg.Arena.Address)
	}
	if cfg.Arena.Password != "secret" {
		t.Errorf("Arena.Password = %q", cfg.Arena.Password)
	}
	if cfg.VAR.AutoScoringDelay != 5.5 {
		t.Errorf("AutoScoringDelay = %v, want 5.5", cfg.VAR.AutoScoringDelay)
	}
	// Unset sections keep their defaults.
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
	if len(cfg.Web.CORSOrigins) != 2 || cfg.Web.CORSOrigins[0] != "http://panel1.local" {
		t.Errorf("CORSOrigins = %v", cfg.Web.CORSOrigins)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("arena:\n  address: \"1.2.3.4:8080\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ARENA_ADDRESS", "5.6.7.8:8080")
	t.Setenv("CORS_ORIGINS", "http://a.local, http://b.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Arena.Address != "5.6.7.8:8080" {
		t.Errorf("Arena.Address = %q, want env override", cfg.Arena.Address)
	}
	want := []string{"http://a.local", "http://b.local"}
	if len(cfg.Web.CORSOrigins) != 2 || cfg.Web.CORSOrigins[0] != want[0] || cfg.Web.CORSOrigins[1] != want[1] {
		t.Errorf("CORSOrigins = %v, want %v", cfg.Web.CORSOrigins, want)
	}
}
