// Package client provides a minimal Wisp protocol client.
//
// It covers the command surface of wisp-cli: one synchronous request and
// reply per call over a single connection.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/wispkv/wisp/internal/proto"
)

// DefaultTimeout bounds dialing and each request round trip.
const DefaultTimeout = 5 * time.Second

// ServerError is an error reply received from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Client is a single-connection Wisp client. It is not safe for
// concurrent use.
type Client struct {
	nc      net.Conn
	buf     []byte
	chunk   []byte
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Dial connects to a Wisp server.
func Dial(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		chunk:   make([]byte, 4*1024),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	nc, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.nc = nc
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// Do sends one request and returns the decoded reply. An error reply from
// the server is returned as a *ServerError.
func (c *Client) Do(args ...[]byte) (proto.Reply, error) {
	deadline := time.Now().Add(c.timeout)
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := c.nc.Write(proto.AppendRequest(nil, args...)); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	for {
		if len(c.buf) > 0 {
			r, n, err := proto.DecodeReply(c.buf)
			if err == nil {
				c.buf = append(c.buf[:0], c.buf[n:]...)
				if e, ok := r.(proto.ErrorReply); ok {
					return nil, &ServerError{Message: e.Message}
				}
				return r, nil
			}
			if !errors.Is(err, proto.ErrIncomplete) {
				return nil, fmt.Errorf("decode reply: %w", err)
			}
		}
		n, err := c.nc.Read(c.chunk)
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		c.buf = append(c.buf, c.chunk[:n]...)
	}
}

// Ping checks liveness. With a non-empty message the server echoes it back.
func (c *Client) Ping(message string) (string, error) {
	var r proto.Reply
	var err error
	if message == "" {
		r, err = c.Do([]byte("PING"))
	} else {
		r, err = c.Do([]byte("PING"), []byte(message))
	}
	if err != nil {
		return "", err
	}
	switch v := r.(type) {
	case proto.SimpleReply:
		return v.Value, nil
	case proto.BulkReply:
		return string(v.Value), nil
	default:
		return "", fmt.Errorf("unexpected reply %T", r)
	}
}

// Echo returns the message round-tripped through the server.
func (c *Client) Echo(message []byte) ([]byte, error) {
	r, err := c.Do([]byte("ECHO"), message)
	if err != nil {
		return nil, err
	}
	b, ok := r.(proto.BulkReply)
	if !ok {
		return nil, fmt.Errorf("unexpected reply %T", r)
	}
	return b.Value, nil
}

// Set stores value under key without expiry.
func (c *Client) Set(key string, value []byte) error {
	r, err := c.Do([]byte("SET"), []byte(key), value)
	if err != nil {
		return err
	}
	if s, ok := r.(proto.SimpleReply); !ok || s.Value != "OK" {
		return fmt.Errorf("unexpected reply %#v", r)
	}
	return nil
}

// SetEx stores value under key with a relative expiry, rounded down to
// whole milliseconds.
func (c *Client) SetEx(key string, value []byte, ttl time.Duration) error {
	ms := ttl.Milliseconds()
	r, err := c.Do([]byte("SET"), []byte(key), value, []byte("PX"), []byte(fmt.Sprintf("%d", ms)))
	if err != nil {
		return err
	}
	if s, ok := r.(proto.SimpleReply); !ok || s.Value != "OK" {
		return fmt.Errorf("unexpected reply %#v", r)
	}
	return nil
}

// Get reads the value stored under key. The second return is false when
// the key is absent or expired.
func (c *Client) Get(key string) ([]byte, bool, error) {
	r, err := c.Do([]byte("GET"), []byte(key))
	if err != nil {
		return nil, false, err
	}
	switch v := r.(type) {
	case proto.BulkReply:
		return v.Value, true, nil
	case proto.NullBulkReply:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("unexpected reply %T", r)
	}
}
