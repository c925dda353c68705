package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "agent": {"name": "relay", "intake_mode": "structured"},
	  "bridge": {"base_url": "http://127.0.0.1:3000/", "request_timeout_seconds": 120},
	  "structuring": {"provider": "openai", "model": "gpt-4o-mini"},
	  "sessions": {"capacity": 16},
	  "channels": {"http": {"enabled": true}},
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv(envConfigPath, path)
	t.Setenv(envBaseURL, "")
	t.Setenv(envIntakeMode, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Agent.IntakeMode != IntakeStructured {
		t.Fatalf("agent.intake_mode = %q, want %q", cfg.Agent.IntakeMode, IntakeStructured)
	}
	if cfg.Agent.Address != "agent:relay" {
		t.Fatalf("agent.address = %q, want %q", cfg.Agent.Address, "agent:relay")
	}
	if cfg.Bridge.BaseURL != "http://127.0.0.1:3000" {
		t.Fatalf("bridge.base_url = %q, want trailing slash trimmed", cfg.Bridge.BaseURL)
	}
	if cfg.Bridge.GraphPath != DefaultGraphPath {
		t.Fatalf("bridge.graph_path = %q, want %q", cfg.Bridge.GraphPath, DefaultGraphPath)
	}
	if cfg.Bridge.RequestTimeoutSeconds != 120 {
		t.Fatalf("bridge.request_timeout_seconds = %d, want 120", cfg.Bridge.RequestTimeoutSeconds)
	}
	if cfg.Channels.HTTP.ReplyTimeout != 150 {
		t.Fatalf("channels.http.reply_timeout_seconds = %d, want 150", cfg.Channels.HTTP.ReplyTimeout)
	}
	if cfg.Sessions.Capacity != 16 {
		t.Fatalf("sessions.capacity = %d, want 16", cfg.Sessions.Capacity)
	}
	if cfg.Sessions.TTLSeconds != DefaultSessionTTLSeconds {
		t.Fatalf("sessions.ttl_seconds = %d, want %d", cfg.Sessions.TTLSeconds, DefaultSessionTTLSeconds)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv(envConfigPath, filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigRejectsUnknownIntakeMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"agent": {"intake_mode": "fancy"}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envIntakeMode, "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected validation error for unknown intake mode")
	}
}

func TestValidateRequiresBadgerPath(t *testing.T) {
	t.Setenv(envBaseURL, "")
	t.Setenv(envIntakeMode, "")

	cfg := Default()
	cfg.Sessions.Backend = SessionBackendBadger
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when badger backend has no path")
	}

	cfg.Sessions.Path = t.TempDir()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(envBaseURL, "http://remote.test")
	t.Setenv(envIntakeMode, "STRUCTURED")
	t.Setenv(envTelegramBotToken, "token")
	t.Setenv(envTelegramAllowFrom, " 1, ,2 ")

	cfg := Default()
	if cfg.Bridge.BaseURL != "http://remote.test" {
		t.Fatalf("bridge.base_url = %q", cfg.Bridge.BaseURL)
	}
	if cfg.Agent.IntakeMode != IntakeStructured {
		t.Fatalf("agent.intake_mode = %q", cfg.Agent.IntakeMode)
	}
	if cfg.Channels.Telegram.Token != "token" {
		t.Fatalf("telegram token = %q", cfg.Channels.Telegram.Token)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 {
		t.Fatalf("allow_from = %#v, want 2 entries", cfg.Channels.Telegram.AllowFrom)
	}
}

func TestLoadConfigMissingFileIsErrNotFound(t *testing.T) {
	t.Setenv(envConfigPath, "")
	t.Chdir(t.TempDir())

	_, err := LoadConfig()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadConfig error = %v, want ErrNotFound", err)
	}
}
