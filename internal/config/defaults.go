package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxAttempts          = 3
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffFactor        = 1.5
	DefaultMinReconnectInterval = 100 * time.Millisecond
	DefaultWriteTimeout         = 5 * time.Second
	DefaultEventBuffer          = 1024
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 5 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultLivenessSignal       = "SIGUSR1"
	DefaultHealthPort           = 8080
)

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	// Endpoint defaults
	if c.Endpoint.ConnectTimeout == 0 {
		c.Endpoint.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Endpoint.MaxAttempts == 0 {
		c.Endpoint.MaxAttempts = DefaultMaxAttempts
	}
	if c.Endpoint.BackoffBase == 0 {
		c.Endpoint.BackoffBase = DefaultBackoffBase
	}
	if c.Endpoint.BackoffFactor == 0 {
		c.Endpoint.BackoffFactor = DefaultBackoffFactor
	}
	if c.Endpoint.MinReconnectInterval == 0 {
		c.Endpoint.MinReconnectInterval = DefaultMinReconnectInterval
	}
	if c.Endpoint.WriteTimeout == 0 {
		c.Endpoint.WriteTimeout = DefaultWriteTimeout
	}
	if c.Endpoint.EventBuffer == 0 {
		c.Endpoint.EventBuffer = DefaultEventBuffer
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Liveness defaults
	if c.Liveness.Signal == "" {
		c.Liveness.Signal = DefaultLivenessSignal
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}
