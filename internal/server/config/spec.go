// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for wisp-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Protocol ProtocolSection `koanf:"protocol"`
	Keyspace KeyspaceSection `koanf:"keyspace"`
	Metrics  MetricsSection  `koanf:"metrics"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures the TCP listener.
type ServerSection struct {
	// Addr is the TCP bind address (e.g., "127.0.0.1:6379").
	Addr string `koanf:"addr"`

	// ReadTimeout bounds a single read from a client connection.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds a single write to a client connection.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// IdleTimeout closes connections with no complete command for this long.
	// Zero disables the idle check.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// RateLimit is the per-client-IP command budget in commands per second.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
}

// ProtocolSection bounds request framing.
type ProtocolSection struct {
	// MaxArrayLen caps the number of arguments in one request.
	MaxArrayLen int `koanf:"max_array_len"`

	// MaxBulkLen caps the byte length of a single argument.
	MaxBulkLen int `koanf:"max_bulk_len"`
}

// KeyspaceSection configures the key-value store.
type KeyspaceSection struct {
	// SweepInterval is the period of the background expiry sweep.
	// Zero disables the sweeper; expired keys are then reclaimed
	// lazily on read only.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
