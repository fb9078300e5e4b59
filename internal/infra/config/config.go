package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Provider     ProviderConfig     `yaml:"provider"`
	Breaker      BreakerConfig      `yaml:"breaker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Auth         AuthConfig         `yaml:"auth"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RateRPS         float64       `yaml:"rate_rps"`
	RateBurst       int           `yaml:"rate_burst"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PoolConfig holds HTTP connection pool settings for the LLM provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for the LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// BreakerConfig holds circuit breaker settings for the LLM provider.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// OrchestratorConfig holds message orchestration settings.
type OrchestratorConfig struct {
	Model        string `yaml:"model"`
	MaxHistory   int    `yaml:"max_history"`
	MaxTurns     int    `yaml:"max_turns"`
	PromptBudget int    `yaml:"prompt_budget"`
}

// AuthConfig holds token issuing settings.
type AuthConfig struct {
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// KeyFile stores the Ed25519 signing seed; generated on first run
	// when missing.
	KeyFile string `yaml:"key_file"`
}

// WebhookConfig holds inbound messaging webhook settings.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults for local use.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			RateRPS:         10,
			RateBurst:       20,
		},
		Database: DatabaseConfig{
			Path: "relay.db",
		},
		Provider: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxHistory:   50,
			MaxTurns:     5,
			PromptBudget: 8000,
		},
		Auth: AuthConfig{
			Issuer:   "relay-ai",
			TokenTTL: 30 * time.Minute,
			KeyFile:  "relay.key",
		},
		Webhook: WebhookConfig{
			Enabled: false,
			Path:    "/webhook/sms",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads the config file at path, layered over Defaults and under
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies RELAY_* environment variables on top of cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RELAY_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("RELAY_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("RELAY_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("RELAY_ORCHESTRATOR_MAX_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.MaxHistory = n
		}
	}
	if v := os.Getenv("RELAY_ORCHESTRATOR_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.MaxTurns = n
		}
	}
	if v := os.Getenv("RELAY_ORCHESTRATOR_PROMPT_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.PromptBudget = n
		}
	}
	if v := os.Getenv("RELAY_AUTH_KEY_FILE"); v != "" {
		cfg.Auth.KeyFile = v
	}
	if v := os.Getenv("RELAY_AUTH_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Auth.TokenTTL = d
		}
	}
	if v := os.Getenv("RELAY_WEBHOOK_ENABLED"); v == "true" {
		cfg.Webhook.Enabled = true
	}
	if v := os.Getenv("RELAY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RELAY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("RELAY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("RELAY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks cfg for values that cannot work at runtime.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url must not be empty")
	}
	if cfg.Orchestrator.MaxHistory < 1 {
		return fmt.Errorf("orchestrator.max_history must be at least 1")
	}
	if cfg.Orchestrator.MaxTurns < 1 {
		return fmt.Errorf("orchestrator.max_turns must be at least 1")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if cfg.Server.RateRPS < 0 || cfg.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit values must not be negative")
	}
	return nil
}
