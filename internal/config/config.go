// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT"         envDefault:"8080"`
	GRPCPort    string `env:"GRPC_PORT"    envDefault:"9090"`
	FrontendURL string `env:"FRONTEND_URL"`
	DBPath      string `env:"DB_PATH"      envDefault:"./data/cuepoint.db"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`

	Playback PlaybackConfig
	Storage  StorageConfig
}

// PlaybackConfig tunes live playback sessions.
type PlaybackConfig struct {
	PollInterval   time.Duration `env:"POLL_INTERVAL"    envDefault:"500ms"`
	IdleSessionTTL time.Duration `env:"IDLE_SESSION_TTL" envDefault:"60m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL"   envDefault:"5m"`
	RearmOnSeek    bool          `env:"REARM_ON_SEEK"    envDefault:"false"`
}

// StorageConfig controls retries on SQLite write conflicts.
type StorageConfig struct {
	MaxRetries     int           `env:"DB_MAX_RETRIES"      envDefault:"3"`
	RetryBaseDelay time.Duration `env:"DB_RETRY_BASE_DELAY" envDefault:"100ms"`
	HealthInterval time.Duration `env:"DB_HEALTH_INTERVAL"  envDefault:"10s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Playback.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.Playback.IdleSessionTTL <= 0 {
		return fmt.Errorf("IDLE_SESSION_TTL must be > 0")
	}
	if c.Playback.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Storage.MaxRetries < 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be >= 0")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LOG_LEVEL.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
