// Package metric provides Prometheus metrics for Wisp.
//
// It exposes connection, command, and keyspace metrics on a dedicated
// HTTP endpoint.
package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// Command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram

	// Keyspace metrics
	ExpiredKeysTotal prometheus.Counter

	// Protocol metrics
	FramingErrorsTotal prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
//
// keysFn, when non-nil, is sampled on scrape as the wisp_keys gauge
// (physically present entries, expired-but-unswept included).
func New(keysFn func() int) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wisp_connections_active",
			Help: "Number of currently open client connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_connections_total",
			Help: "Total number of accepted client connections.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wisp_commands_total",
			Help: "Total number of processed commands.",
		}, []string{"command", "status"}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wisp_command_duration_seconds",
			Help:    "Command execution latency.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		ExpiredKeysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_expired_keys_total",
			Help: "Total number of keys reclaimed by expiry.",
		}),
		FramingErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wisp_framing_errors_total",
			Help: "Total number of connections closed due to malformed framing.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.CommandsTotal,
		m.CommandDuration,
		m.ExpiredKeysTotal,
		m.FramingErrorsTotal,
	)

	if keysFn != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wisp_keys",
			Help: "Number of entries in the keyspace, unswept expired entries included.",
		}, func() float64 {
			return float64(keysFn())
		}))
	}

	return m
}

// ObserveCommand records one processed command.
func (m *Metrics) ObserveCommand(name, status string, seconds float64) {
	m.CommandsTotal.WithLabelValues(name, status).Inc()
	m.CommandDuration.Observe(seconds)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
