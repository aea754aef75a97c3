package server

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/wispkv/wisp/internal/command"
	"github.com/wispkv/wisp/internal/proto"
)

const readChunkSize = 4 * 1024

// conn is a single client connection.
type conn struct {
	id      string
	netConn net.Conn
	closed  atomic.Bool
}

func newConn(nc net.Conn, id string) *conn {
	return &conn{id: id, netConn: nc}
}

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// clientIP returns the remote IP without the port, for rate limiting.
func (c *conn) clientIP() string {
	host, _, err := net.SplitHostPort(c.netConn.RemoteAddr().String())
	if err != nil {
		return c.netConn.RemoteAddr().String()
	}
	return host
}

// serveConn runs the read-decode-execute-reply loop for one connection.
//
// Requests are framed off a growing buffer with proto.DecodeRequest, so a
// single read may yield several pipelined requests, and a request may span
// several reads. Replies for all requests framed from one read are written
// in one batch, in arrival order.
func (s *Server) serveConn(c *conn) {
	defer c.Close()

	log := s.logger.With("conn_id", c.id, "remote", c.netConn.RemoteAddr().String())
	log.Debug("connection accepted")

	lim := proto.Limits{
		MaxArrayLen: s.cfg.Protocol.MaxArrayLen,
		MaxBulkLen:  s.cfg.Protocol.MaxBulkLen,
	}

	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	var out []byte

	for {
		out = out[:0]
		for len(buf) > 0 {
			args, n, err := proto.DecodeRequestWithLimits(buf, lim)
			if errors.Is(err, proto.ErrIncomplete) {
				break
			}
			if err != nil {
				// Framing errors are fatal; no reply is owed on a
				// stream that can no longer be parsed.
				log.Warn("malformed request, closing connection", "error", err)
				if s.metrics != nil {
					s.metrics.FramingErrorsTotal.Inc()
				}
				return
			}
			buf = append(buf[:0], buf[n:]...)
			out = s.dispatch(c, args, out)
		}

		if len(out) > 0 {
			if s.cfg.Server.WriteTimeout > 0 {
				if err := c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.Server.WriteTimeout)); err != nil {
					return
				}
			}
			if _, err := c.netConn.Write(out); err != nil {
				log.Debug("write error", "error", err)
				return
			}
		}

		// Idle deadline between requests, read deadline mid-request.
		// A zero timeout clears any deadline left by the other mode.
		timeout := s.cfg.Server.IdleTimeout
		if len(buf) > 0 {
			timeout = s.cfg.Server.ReadTimeout
		}
		var deadline time.Time
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := c.netConn.SetReadDeadline(deadline); err != nil {
			return
		}

		n, err := c.netConn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("connection closed by client")
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Debug("connection timed out")
				return
			}
			if !c.closed.Load() {
				log.Debug("read error", "error", err)
			}
			return
		}
	}
}

// dispatch interprets and executes one request, appending the encoded
// reply to out.
func (s *Server) dispatch(c *conn, args [][]byte, out []byte) []byte {
	start := time.Now()
	name := commandName(args)

	if s.cfg.Server.RateLimit > 0 && !s.limiter(c.clientIP()).Allow() {
		s.observe(name, "ratelimited", start)
		return proto.ErrorReply{Message: "ERR rate limit exceeded"}.AppendTo(out)
	}

	cmd, err := command.Parse(args)
	if err != nil {
		s.observe(name, "error", start)
		return proto.ErrorReply{Message: err.Error()}.AppendTo(out)
	}

	reply := s.store.Execute(cmd)
	s.observe(cmd.Name(), "ok", start)
	return reply.AppendTo(out)
}

func (s *Server) observe(name, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveCommand(name, status, time.Since(start).Seconds())
}

// commandName extracts an uppercased command name for metrics labels
// before the request has been interpreted.
func commandName(args [][]byte) string {
	if len(args) == 0 {
		return "(empty)"
	}
	name := args[0]
	if len(name) > 32 {
		name = name[:32]
	}
	up := make([]byte, len(name))
	for i, b := range name {
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		up[i] = b
	}
	return string(up)
}
