// Package relay provides the configuration surface for the stampchat
// service, loaded from environment variables.
package relay

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backend selectors.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds the service configuration. Every field maps to an environment
// variable; unset variables fall back to the declared defaults.
type Config struct {
	Port           string   `envconfig:"PORT" default:":8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	HistoryFile  string `envconfig:"HISTORY_FILE" default:"history.txt"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"stampchat.db"`
	BadgerPath   string `envconfig:"BADGER_PATH" default:"stampchat-badger"`

	AdminSecret     string        `envconfig:"ADMIN_SECRET"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"100"`
	PresenceCounter bool          `envconfig:"PRESENCE_COUNTER" default:"true"`
	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	StampsDir string `envconfig:"STAMPS_DIR" default:"stamps"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendFile, BackendSQLite, BackendBadger:
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return &cfg, nil
}

// RelayOptions extracts the relay-level settings from the configuration.
func (c *Config) RelayOptions() Options {
	return Options{
		AdminSecret:     c.AdminSecret,
		HistoryLimit:    c.HistoryLimit,
		PresenceCounter: c.PresenceCounter,
		StoreTimeout:    c.StoreTimeout,
	}
}
