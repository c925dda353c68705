package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	envConfigPath        = "CHATRELAY_CONFIG"
	envBaseURL           = "CHATRELAY_BASE_URL"
	envIntakeMode        = "CHATRELAY_INTAKE_MODE"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

const (
	IntakeSimple     = "simple"
	IntakeStructured = "structured"

	StructurerOpenAI      = "openai"
	StructurerPassthrough = "passthrough"

	SessionBackendMemory = "memory"
	SessionBackendBadger = "badger"
)

const (
	DefaultBaseURL               = "http://127.0.0.1:3000"
	DefaultGraphPath             = "/api/graph"
	DefaultResponseField         = "veniceResponse"
	DefaultRequestTimeoutSeconds = 300
	DefaultHealthTimeoutSeconds  = 30
	DefaultAgentName             = "chatrelay"
	DefaultStructuringAddress    = "structuring:default"
	DefaultSessionCapacity       = 1024
	DefaultSessionTTLSeconds     = 900
	DefaultHTTPChannelAddr       = "127.0.0.1:8001"
)

var validate = validator.New()

// ErrNotFound is returned by LoadConfig when no config file exists.
var ErrNotFound = errors.New("config.json not found")

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Bridge      BridgeConfig      `json:"bridge"`
	Structuring StructuringConfig `json:"structuring"`
	Sessions    SessionsConfig    `json:"sessions"`
	Channels    ChannelsConfig    `json:"channels"`
	Gateway     GatewayConfig     `json:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// AgentConfig names the agent and selects which intake variant handles chat.
type AgentConfig struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	IntakeMode string `json:"intake_mode" validate:"omitempty,oneof=simple structured"`
}

// BridgeConfig describes the remote graph endpoint.
type BridgeConfig struct {
	BaseURL               string `json:"base_url" validate:"required,url"`
	GraphPath             string `json:"graph_path"`
	ResponseField         string `json:"response_field"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" validate:"gte=0"`
	HealthTimeoutSeconds  int    `json:"health_timeout_seconds" validate:"gte=0"`
}

// StructuringConfig configures the free-text to request structuring service.
type StructuringConfig struct {
	Address               string `json:"address"`
	Provider              string `json:"provider" validate:"omitempty,oneof=openai passthrough"`
	Model                 string `json:"model"`
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" validate:"gte=0"`
}

// SessionsConfig bounds the session token to sender table.
type SessionsConfig struct {
	Backend    string `json:"backend" validate:"omitempty,oneof=memory badger"`
	Path       string `json:"path"`
	Capacity   int    `json:"capacity" validate:"gte=0"`
	TTLSeconds int    `json:"ttl_seconds" validate:"gte=0"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allow_from"`
}

// HTTPConfig configures the JSON chat endpoint.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr"`
	ReplyTimeout int    `json:"reply_timeout_seconds" validate:"gte=0"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port" validate:"gte=0,lte=65535"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	// A missing .env file is the common case.
	_ = godotenv.Load()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if strings.TrimSpace(cfg.Agent.Name) == "" {
		cfg.Agent.Name = DefaultAgentName
	}
	if strings.TrimSpace(cfg.Agent.Address) == "" {
		cfg.Agent.Address = "agent:" + cfg.Agent.Name
	}
	if cfg.Agent.IntakeMode == "" {
		cfg.Agent.IntakeMode = IntakeSimple
	}

	if strings.TrimSpace(cfg.Bridge.BaseURL) == "" {
		cfg.Bridge.BaseURL = DefaultBaseURL
	}
	cfg.Bridge.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.Bridge.BaseURL), "/")
	if cfg.Bridge.GraphPath == "" {
		cfg.Bridge.GraphPath = DefaultGraphPath
	}
	if cfg.Bridge.ResponseField == "" {
		cfg.Bridge.ResponseField = DefaultResponseField
	}
	if cfg.Bridge.RequestTimeoutSeconds == 0 {
		cfg.Bridge.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if cfg.Bridge.HealthTimeoutSeconds == 0 {
		cfg.Bridge.HealthTimeoutSeconds = DefaultHealthTimeoutSeconds
	}

	if cfg.Structuring.Address == "" {
		cfg.Structuring.Address = DefaultStructuringAddress
	}
	if cfg.Structuring.Provider == "" {
		cfg.Structuring.Provider = StructurerPassthrough
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = SessionBackendMemory
	}
	if cfg.Sessions.Capacity == 0 {
		cfg.Sessions.Capacity = DefaultSessionCapacity
	}
	if cfg.Sessions.TTLSeconds == 0 {
		cfg.Sessions.TTLSeconds = DefaultSessionTTLSeconds
	}

	if cfg.Channels.HTTP.Addr == "" {
		cfg.Channels.HTTP.Addr = DefaultHTTPChannelAddr
	}
	if cfg.Channels.HTTP.ReplyTimeout == 0 {
		cfg.Channels.HTTP.ReplyTimeout = cfg.Bridge.RequestTimeoutSeconds + 30
	}
}

// Validate checks field constraints and cross-field requirements.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Sessions.Backend == SessionBackendBadger && strings.TrimSpace(cfg.Sessions.Path) == "" {
		return errors.New("invalid config: sessions.path is required for the badger backend")
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if baseURL := strings.TrimSpace(os.Getenv(envBaseURL)); baseURL != "" {
		cfg.Bridge.BaseURL = baseURL
	}

	if mode := strings.TrimSpace(os.Getenv(envIntakeMode)); mode != "" {
		cfg.Agent.IntakeMode = strings.ToLower(mode)
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is CHATRELAY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s and %s)", ErrNotFound, candidates[0], candidates[1])
}
