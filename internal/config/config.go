// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for the connect service. Environment
// variables are parsed from the CONNECT_ prefix, e.g. CONNECT_HTTP_PORT.
type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage: postgres in deployment, sqlite for local development.
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"connect.db"`

	// Notification collaborator. Empty disables outbound notifications.
	NotifierURL string `envconfig:"NOTIFIER_URL" default:""`

	// Realtime tuning
	BrokerBuffer    int           `envconfig:"BROKER_BUFFER" default:"64"`
	TypingTTL       time.Duration `envconfig:"TYPING_TTL" default:"3s"`
	PresenceWindow  time.Duration `envconfig:"PRESENCE_WINDOW" default:"30s"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Health monitoring
	HealthInterval     time.Duration `envconfig:"HEALTH_INTERVAL" default:"15s"`
	HealthProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"2s"`
}

// Validate checks driver selection and the values derived settings rely on.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("CONNECT_POSTGRES_DSN is required with the postgres driver")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("CONNECT_SQLITE_PATH is required with the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.TypingTTL <= 0 || c.PresenceWindow <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("typing TTL, presence window and sweep interval must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	return nil
}

// New creates a Config by parsing CONNECT_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CONNECT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
