// Package config loads engine configuration from YAML with validated
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig selects and tunes the language-model backend.
type BackendConfig struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// LoopConfig tunes the orchestration loop budgets.
type LoopConfig struct {
	MaxIterations   int  `yaml:"max_iterations"`
	MaxCorrections  int  `yaml:"max_corrections"`
	MaxEmptyTurns   int  `yaml:"max_empty_turns"`
	MaxFollowUps    int  `yaml:"max_follow_ups"`
	RequireEnvelope bool `yaml:"require_envelope"`
	TurnTimeoutSec  int  `yaml:"turn_timeout_sec"`
}

// RetryConfig tunes the transient-error retry policy.
type RetryConfig struct {
	MaxRetries     int `yaml:"max_retries"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dev   bool   `yaml:"dev"`
}

// Config is the root engine configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Loop    LoopConfig    `yaml:"loop"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		Loop: LoopConfig{
			MaxIterations:   100,
			MaxCorrections:  5,
			MaxEmptyTurns:   3,
			MaxFollowUps:    12,
			RequireEnvelope: true,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialDelayMs: 1000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from path, layered over the defaults. A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	// Unmarshal overwrites only the fields present in the YAML, which gives
	// a simple merge over the defaults.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges the engine depends on.
func (c *Config) Validate() error {
	if c.Backend.Provider == "" {
		return fmt.Errorf("backend.provider must be set")
	}
	if c.Backend.Model == "" {
		return fmt.Errorf("backend.model must be set")
	}
	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be at least 1, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.MaxCorrections < 1 {
		return fmt.Errorf("loop.max_corrections must be at least 1, got %d", c.Loop.MaxCorrections)
	}
	if c.Loop.MaxEmptyTurns < 1 {
		return fmt.Errorf("loop.max_empty_turns must be at least 1, got %d", c.Loop.MaxEmptyTurns)
	}
	if c.Loop.MaxFollowUps < 1 {
		return fmt.Errorf("loop.max_follow_ups must be at least 1, got %d", c.Loop.MaxFollowUps)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelayMs < 0 {
		return fmt.Errorf("retry.initial_delay_ms must not be negative, got %d", c.Retry.InitialDelayMs)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

// ResolveAPIKey returns the literal key when set, otherwise the value of the
// configured environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.Backend.APIKey != "" {
		return c.Backend.APIKey
	}
	if c.Backend.APIKeyEnv != "" {
		return os.Getenv(c.Backend.APIKeyEnv)
	}
	return ""
}

// InitialRetryDelay converts the configured delay into a duration.
func (c *Config) InitialRetryDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelayMs) * time.Millisecond
}

// TurnTimeout converts the configured per-turn bound into a duration.
// Zero disables the bound.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Loop.TurnTimeoutSec) * time.Second
}
