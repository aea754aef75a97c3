package config

import "time"

// Default configuration values.
const (
	DefaultAddr         = "127.0.0.1:6379"
	DefaultReadTimeout  = 5 * time.Minute
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 0 * time.Second
	DefaultRateLimit    = 0

	DefaultMaxArrayLen = 1024
	DefaultMaxBulkLen  = 512 * 1024

	DefaultSweepInterval = time.Minute

	DefaultMetricsAddr = "127.0.0.1:9121"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:         DefaultAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			RateLimit:    DefaultRateLimit,
		},
		Protocol: ProtocolSection{
			MaxArrayLen: DefaultMaxArrayLen,
			MaxBulkLen:  DefaultMaxBulkLen,
		},
		Keyspace: KeyspaceSection{
			SweepInterval: DefaultSweepInterval,
		},
		Metrics: MetricsSection{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
