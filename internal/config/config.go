package config

import "time"

// Config is the root configuration for a tetherd instance.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Journal  JournalConfig  `yaml:"journal"`
	Database DBConfig       `yaml:"database"`
	Liveness LivenessConfig `yaml:"liveness"`
	Health   HealthConfig   `yaml:"health"`
}

// EndpointConfig describes the remote endpoint and the retry behavior.
type EndpointConfig struct {
	URL                  string        `yaml:"url"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	MaxAttempts          int           `yaml:"max_attempts"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffFactor        float64       `yaml:"backoff_factor"`
	BackoffMax           time.Duration `yaml:"backoff_max"` // 0 = uncapped
	MinReconnectInterval time.Duration `yaml:"min_reconnect_interval"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	EventBuffer          int           `yaml:"event_buffer"`
}

// JournalConfig holds transition journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds the Postgres connection for the transition journal.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LivenessConfig holds reachability monitor settings.
type LivenessConfig struct {
	Enabled bool   `yaml:"enabled"`
	Signal  string `yaml:"signal"` // SIGUSR1, SIGUSR2 or SIGHUP
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}
