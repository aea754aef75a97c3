// Package server provides the Wisp TCP server.
//
// It accepts client connections, frames requests off a per-connection
// buffer and executes them against the keyspace, one goroutine per
// connection.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/wispkv/wisp/internal/keyspace"
	"github.com/wispkv/wisp/internal/server/config"
	"github.com/wispkv/wisp/internal/telemetry/metric"
	"github.com/wispkv/wisp/pkg/cmap"
)

// Server is the Wisp protocol server.
type Server struct {
	cfg     *config.ServerConfig
	store   *keyspace.Store
	logger  *slog.Logger
	metrics *metric.Metrics

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	// conns tracks live connections by ULID so Shutdown can close
	// stragglers when its context expires.
	conns *cmap.Map[*conn]

	// limiters holds one token bucket per client IP.
	limiters *cmap.Map[*rate.Limiter]
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new server for the given store.
func New(cfg *config.ServerConfig, store *keyspace.Store, logger *slog.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		conns:    cmap.New[*conn](),
		limiters: cmap.New[*rate.Limiter](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; the accept loop runs in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.running.Store(true)
	s.logger.Info("server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ctx); err != nil && s.running.Load() {
			s.logger.Error("accept loop error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, useful when the configured
// address had port 0.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting connections and waits for in-flight
// connections to finish. When ctx expires, remaining connections are
// force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var firstErr error
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return firstErr
	case <-ctx.Done():
	}

	s.conns.Range(func(id string, c *conn) bool {
		s.logger.Warn("force closing connection", "conn_id", id)
		_ = c.Close()
		return true
	})

	select {
	case <-done:
	case <-ctx.Done():
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		c := newConn(nc, ulid.Make().String())
		s.conns.Set(c.id, c)
		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ConnectionsActive.Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.conns.Delete(c.id)
				if s.metrics != nil {
					s.metrics.ConnectionsActive.Dec()
				}
			}()
			s.serveConn(c)
		}()
	}
}

// limiter returns the per-IP token bucket, creating it on first use.
func (s *Server) limiter(ip string) *rate.Limiter {
	if lim, ok := s.limiters.Get(ip); ok {
		return lim
	}
	fresh := rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.RateLimit)
	lim, _ := s.limiters.GetOrSet(ip, fresh)
	return lim
}
