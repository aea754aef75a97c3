package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Verify(cfg); err != nil {
		t.Fatalf("default configuration failed verification: %v", err)
	}
	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Protocol.MaxBulkLen != DefaultMaxBulkLen {
		t.Errorf("max_bulk_len = %d", cfg.Protocol.MaxBulkLen)
	}
	if cfg.Keyspace.SweepInterval != time.Minute {
		t.Errorf("sweep_interval = %v", cfg.Keyspace.SweepInterval)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr bool
	}{
		{
			name:   "valid default",
			mutate: func(*ServerConfig) {},
		},
		{
			name:    "empty addr",
			mutate:  func(c *ServerConfig) { c.Server.Addr = "" },
			wantErr: true,
		},
		{
			name:    "addr without port",
			mutate:  func(c *ServerConfig) { c.Server.Addr = "127.0.0.1" },
			wantErr: true,
		},
		{
			name:   "wildcard addr",
			mutate: func(c *ServerConfig) { c.Server.Addr = ":6379" },
		},
		{
			name:    "negative read timeout",
			mutate:  func(c *ServerConfig) { c.Server.ReadTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *ServerConfig) { c.Server.RateLimit = -1 },
			wantErr: true,
		},
		{
			name:   "rate limit set",
			mutate: func(c *ServerConfig) { c.Server.RateLimit = 100 },
		},
		{
			name:    "zero max array len",
			mutate:  func(c *ServerConfig) { c.Protocol.MaxArrayLen = 0 },
			wantErr: true,
		},
		{
			name:    "zero max bulk len",
			mutate:  func(c *ServerConfig) { c.Protocol.MaxBulkLen = 0 },
			wantErr: true,
		},
		{
			name:   "sweeper disabled",
			mutate: func(c *ServerConfig) { c.Keyspace.SweepInterval = 0 },
		},
		{
			name: "metrics enabled bad addr",
			mutate: func(c *ServerConfig) {
				c.Metrics.Enabled = true
				c.Metrics.Addr = "nonsense"
			},
			wantErr: true,
		},
		{
			name: "metrics disabled bad addr ignored",
			mutate: func(c *ServerConfig) {
				c.Metrics.Enabled = false
				c.Metrics.Addr = "nonsense"
			},
		},
		{
			name: "metrics enabled valid addr",
			mutate: func(c *ServerConfig) {
				c.Metrics.Enabled = true
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Verify(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
