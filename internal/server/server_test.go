package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/wispkv/wisp/internal/keyspace"
	"github.com/wispkv/wisp/internal/proto"
	"github.com/wispkv/wisp/internal/server/config"
	"github.com/wispkv/wisp/internal/telemetry/metric"
)

// ============================================================================
// Helpers
// ============================================================================

func startServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}

	srv := New(cfg, keyspace.New(), nil, WithMetrics(metric.New(nil)))
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv, srv.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func send(t *testing.T, nc net.Conn, args ...string) {
	t.Helper()
	bin := make([][]byte, len(args))
	for i, a := range args {
		bin[i] = []byte(a)
	}
	if _, err := nc.Write(proto.AppendRequest(nil, bin...)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readReply decodes exactly one reply off the connection.
func readReply(t *testing.T, nc net.Conn) proto.Reply {
	t.Helper()
	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))

	var buf []byte
	chunk := make([]byte, 512)
	for {
		if len(buf) > 0 {
			r, _, err := proto.DecodeReply(buf)
			if err == nil {
				return r
			}
			if !errors.Is(err, proto.ErrIncomplete) {
				t.Fatalf("bad reply %q: %v", buf, err)
			}
		}
		n, err := nc.Read(chunk)
		if err != nil {
			t.Fatalf("read reply: %v (buffered %q)", err, buf)
		}
		buf = append(buf, chunk[:n]...)
	}
}

func wantSimple(t *testing.T, r proto.Reply, value string) {
	t.Helper()
	s, ok := r.(proto.SimpleReply)
	if !ok || s.Value != value {
		t.Errorf("reply = %#v, want +%s", r, value)
	}
}

func wantBulk(t *testing.T, r proto.Reply, value string) {
	t.Helper()
	b, ok := r.(proto.BulkReply)
	if !ok || !bytes.Equal(b.Value, []byte(value)) {
		t.Errorf("reply = %#v, want bulk %q", r, value)
	}
}

func wantNull(t *testing.T, r proto.Reply) {
	t.Helper()
	if _, ok := r.(proto.NullBulkReply); !ok {
		t.Errorf("reply = %#v, want null bulk", r)
	}
}

// ============================================================================
// End-to-end
// ============================================================================

func TestPingPong(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	send(t, nc, "PING")
	wantSimple(t, readReply(t, nc), "PONG")

	send(t, nc, "ping", "hello")
	wantBulk(t, readReply(t, nc), "hello")
}

func TestSetGetRoundTrip(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	send(t, nc, "SET", "greeting", "hello world")
	wantSimple(t, readReply(t, nc), "OK")

	send(t, nc, "GET", "greeting")
	wantBulk(t, readReply(t, nc), "hello world")

	send(t, nc, "GET", "missing")
	wantNull(t, readReply(t, nc))
}

func TestEchoBinarySafe(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	send(t, nc, "ECHO", string(payload))
	r := readReply(t, nc)
	b, ok := r.(proto.BulkReply)
	if !ok || !bytes.Equal(b.Value, payload) {
		t.Errorf("binary payload corrupted: %#v", r)
	}
}

func TestPipelinedRequests(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	var batch []byte
	batch = proto.AppendRequest(batch, []byte("SET"), []byte("k"), []byte("v"))
	batch = proto.AppendRequest(batch, []byte("GET"), []byte("k"))
	batch = proto.AppendRequest(batch, []byte("PING"))
	if _, err := nc.Write(batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	wantSimple(t, readReply(t, nc), "OK")
	wantBulk(t, readReply(t, nc), "v")
	wantSimple(t, readReply(t, nc), "PONG")
}

func TestRequestSpanningWrites(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	wire := proto.AppendRequest(nil, []byte("SET"), []byte("slow"), []byte("value"))
	for _, b := range wire {
		if _, err := nc.Write([]byte{b}); err != nil {
			t.Fatalf("write byte: %v", err)
		}
	}
	wantSimple(t, readReply(t, nc), "OK")

	send(t, nc, "GET", "slow")
	wantBulk(t, readReply(t, nc), "value")
}

func TestInterpreterErrorKeepsConnectionOpen(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	send(t, nc, "FLUSHALL")
	e, ok := readReply(t, nc).(proto.ErrorReply)
	if !ok || e.Message != "ERR unknown command 'FLUSHALL'" {
		t.Errorf("reply = %#v", e)
	}

	send(t, nc, "SET", "k")
	e, ok = readReply(t, nc).(proto.ErrorReply)
	if !ok || e.Message != "ERR wrong number of arguments for 'set' command" {
		t.Errorf("reply = %#v", e)
	}

	// The connection must still serve commands.
	send(t, nc, "PING")
	wantSimple(t, readReply(t, nc), "PONG")
}

func TestMalformedFramingClosesConnection(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	if _, err := nc.Write([]byte("GET key\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := nc.Read(buf)
	if err == nil || n > 0 {
		t.Errorf("expected close without reply, got %d bytes (%q), err %v", n, buf[:n], err)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Error("connection not closed after malformed frame")
		}
	}
}

func TestExpiryOverTCP(t *testing.T) {
	_, addr := startServer(t, nil)
	nc := dial(t, addr)

	send(t, nc, "SET", "flash", "gone", "PX", "50")
	wantSimple(t, readReply(t, nc), "OK")

	send(t, nc, "GET", "flash")
	wantBulk(t, readReply(t, nc), "gone")

	time.Sleep(80 * time.Millisecond)
	send(t, nc, "GET", "flash")
	wantNull(t, readReply(t, nc))
}

func TestRateLimit(t *testing.T) {
	_, addr := startServer(t, func(c *config.ServerConfig) {
		c.Server.RateLimit = 1
	})
	nc := dial(t, addr)

	send(t, nc, "PING")
	wantSimple(t, readReply(t, nc), "PONG")

	send(t, nc, "PING")
	e, ok := readReply(t, nc).(proto.ErrorReply)
	if !ok || e.Message != "ERR rate limit exceeded" {
		t.Errorf("reply = %#v, want rate limit error", e)
	}
}

func TestConcurrentClients(t *testing.T) {
	_, addr := startServer(t, nil)

	const clients = 8
	errCh := make(chan error, clients)
	for i := 0; i < clients; i++ {
		go func(id byte) {
			nc, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				errCh <- err
				return
			}
			defer nc.Close()

			key := string([]byte{'k', id})
			value := string(bytes.Repeat([]byte{id}, 32))
			for j := 0; j < 50; j++ {
				if _, err := nc.Write(proto.AppendRequest(nil, []byte("SET"), []byte(key), []byte(value))); err != nil {
					errCh <- err
					return
				}
				if _, err := nc.Write(proto.AppendRequest(nil, []byte("GET"), []byte(key))); err != nil {
					errCh <- err
					return
				}
				var buf []byte
				chunk := make([]byte, 256)
				replies := 0
				_ = nc.SetReadDeadline(time.Now().Add(2 * time.Second))
				for replies < 2 {
					r, n, derr := proto.DecodeReply(buf)
					if derr == nil {
						buf = buf[n:]
						replies++
						if b, ok := r.(proto.BulkReply); ok && string(b.Value) != value {
							errCh <- errors.New("read a torn or foreign value")
							return
						}
						continue
					}
					rn, rerr := nc.Read(chunk)
					if rerr != nil {
						errCh <- rerr
						return
					}
					buf = append(buf, chunk[:rn]...)
				}
			}
			errCh <- nil
		}(byte('a' + i))
	}

	for i := 0; i < clients; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("client %d: %v", i, err)
		}
	}
}

func TestShutdownClosesConnections(t *testing.T) {
	srv, addr := startServer(t, nil)
	nc := dial(t, addr)

	send(t, nc, "PING")
	wantSimple(t, readReply(t, nc), "PONG")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// The listener must be closed.
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("listener still accepting after Shutdown")
	}
}
