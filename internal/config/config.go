// Package config loads and validates the arealink daemon configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// Listen is the address the webhook/admin HTTP server binds to.
	Listen string `yaml:"listen"`

	// StateDBPath is the path to the SQLite state database.
	// ":memory:" or empty with Backend "memory" disables durability.
	StateDBPath string `yaml:"state_db_path"`

	// Backend selects the storage backend: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// AdapterTimeout bounds every adapter call made by the worker
	// (Trigger, PrepareData, ProcessDelayedJob, ProcessPullingJob).
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`

	// PollTimeout bounds a single poll fetch cycle.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// MinPollInterval is the lowest accepted polling interval.
	MinPollInterval time.Duration `yaml:"min_poll_interval"`

	// FetchRatePerSecond limits outbound polling HTTP requests.
	FetchRatePerSecond float64 `yaml:"fetch_rate_per_second"`

	// WebhookSecret is the shared HMAC secret for inbound webhooks.
	// Empty disables signature verification (development only).
	WebhookSecret string `yaml:"webhook_secret"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:             "127.0.0.1:8380",
		Backend:            "sqlite",
		StateDBPath:        "",
		AdapterTimeout:     30 * time.Second,
		PollTimeout:        10 * time.Second,
		MinPollInterval:    10 * time.Second,
		FetchRatePerSecond: 5,
		Metrics:            true,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from AREALINK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("AREALINK_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("AREALINK_STATE_DB"); v != "" {
		c.StateDBPath = v
	}
	if v := os.Getenv("AREALINK_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AREALINK_WEBHOOK_SECRET"); v != "" {
		c.WebhookSecret = v
	}
	if v := os.Getenv("AREALINK_METRICS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Metrics = b
		}
	}
	if v := os.Getenv("AREALINK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AREALINK_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid backend %q: must be memory or sqlite", c.Backend)
	}

	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter_timeout must be positive, got %s", c.AdapterTimeout)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive, got %s", c.PollTimeout)
	}
	if c.MinPollInterval < time.Second {
		return fmt.Errorf("min_poll_interval must be at least 1s, got %s", c.MinPollInterval)
	}
	if c.FetchRatePerSecond <= 0 {
		return fmt.Errorf("fetch_rate_per_second must be positive, got %v", c.FetchRatePerSecond)
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", c.Log.Format)
	}

	return nil
}
