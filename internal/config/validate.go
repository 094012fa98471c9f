package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Endpoint.URL == "" {
		return errors.New("endpoint.url is required")
	}
	if !strings.HasPrefix(c.Endpoint.URL, "ws://") && !strings.HasPrefix(c.Endpoint.URL, "wss://") {
		return fmt.Errorf("endpoint.url must be a ws:// or wss:// URL, got %q", c.Endpoint.URL)
	}
	if c.Endpoint.MaxAttempts < 1 {
		return errors.New("endpoint.max_attempts must be >= 1")
	}
	if c.Endpoint.BackoffFactor < 1 {
		return errors.New("endpoint.backoff_factor must be >= 1")
	}
	if c.Endpoint.EventBuffer < 1 {
		return errors.New("endpoint.event_buffer must be >= 1")
	}

	if c.Journal.Enabled {
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Health.Enabled {
		if c.Health.Port < 1 || c.Health.Port > 65535 {
			return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
		}
	}

	if c.Liveness.Enabled {
		switch c.Liveness.Signal {
		case "SIGUSR1", "SIGUSR2", "SIGHUP":
		default:
			return fmt.Errorf("liveness.signal must be SIGUSR1, SIGUSR2 or SIGHUP, got %q", c.Liveness.Signal)
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Port < 1 || db.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, db.Port)
	}
	return nil
}
