// Package proto implements the RESP wire codec: incremental decoding of
// client requests and encoding/decoding of server replies.
//
// Requests are RESP arrays of bulk strings. Decoding is a pure function of
// the caller's accumulating buffer: the caller reads bytes, appends them,
// and retries while DecodeRequest reports ErrIncomplete. The codec never
// performs I/O.
package proto

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Protocol limits to prevent resource exhaustion by hostile peers.
const (
	// DefaultMaxArrayLen limits the number of elements in a request array.
	DefaultMaxArrayLen = 1024

	// DefaultMaxBulkLen limits the size of a single bulk string (512KB).
	DefaultMaxBulkLen = 512 * 1024

	// maxHeaderLen bounds a length header like "*123\r\n" or "$456\r\n".
	maxHeaderLen = 32
)

var (
	// ErrIncomplete reports that the buffer holds a prefix of a valid
	// request and more bytes are needed. Not a failure.
	ErrIncomplete = errors.New("proto: incomplete")

	// ErrMalformed reports that the buffer's prefix can never become a
	// valid request. Fatal to the connection's framing.
	ErrMalformed = errors.New("proto: malformed")
)

var crlf = []byte("\r\n")

// Limits bounds the size of decoded requests.
type Limits struct {
	MaxArrayLen int
	MaxBulkLen  int
}

// DefaultLimits returns the default protocol limits.
func DefaultLimits() Limits {
	return Limits{
		MaxArrayLen: DefaultMaxArrayLen,
		MaxBulkLen:  DefaultMaxBulkLen,
	}
}

// DecodeRequest attempts to parse exactly one request from the front of buf
// using the default limits. See DecodeRequestWithLimits.
func DecodeRequest(buf []byte) ([][]byte, int, error) {
	return DecodeRequestWithLimits(buf, DefaultLimits())
}

// DecodeRequestWithLimits attempts to parse exactly one request from the
// front of buf.
//
// On success it returns the request's arguments and the number of bytes
// consumed. The returned arguments are copies, detached from buf, so the
// caller may reuse or compact the buffer freely.
//
// A zero-element array decodes to an empty (non-nil) argument slice; it is
// a valid request at the framing layer and is rejected downstream.
func DecodeRequestWithLimits(buf []byte, lim Limits) ([][]byte, int, error) {
	if lim.MaxArrayLen <= 0 {
		lim.MaxArrayLen = DefaultMaxArrayLen
	}
	if lim.MaxBulkLen <= 0 {
		lim.MaxBulkLen = DefaultMaxBulkLen
	}

	n, pos, err := readHeader(buf, 0, '*')
	if err != nil {
		return nil, 0, err
	}
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: negative array length %d", ErrMalformed, n)
	}
	if n > lim.MaxArrayLen {
		return nil, 0, fmt.Errorf("%w: array length %d exceeds limit %d", ErrMalformed, n, lim.MaxArrayLen)
	}

	args := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		l, next, err := readHeader(buf, pos, '$')
		if err != nil {
			return nil, 0, err
		}
		if l < 0 {
			return nil, 0, fmt.Errorf("%w: negative bulk length %d", ErrMalformed, l)
		}
		if l > lim.MaxBulkLen {
			return nil, 0, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrMalformed, l, lim.MaxBulkLen)
		}

		// Subtraction form cannot overflow for any in-limit l.
		if l > len(buf)-next-len(crlf) {
			return nil, 0, ErrIncomplete
		}
		end := next + l + len(crlf)
		if buf[next+l] != '\r' || buf[next+l+1] != '\n' {
			return nil, 0, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrMalformed)
		}

		arg := make([]byte, l)
		copy(arg, buf[next:next+l])
		args = append(args, arg)
		pos = end
	}

	return args, pos, nil
}

// readHeader parses a "<marker><decimal>\r\n" header starting at pos.
// It returns the decoded integer and the offset just past the CRLF.
func readHeader(buf []byte, pos int, marker byte) (int, int, error) {
	if pos >= len(buf) {
		return 0, 0, ErrIncomplete
	}
	if buf[pos] != marker {
		return 0, 0, fmt.Errorf("%w: expected %q, got %q", ErrMalformed, marker, buf[pos])
	}

	window := buf[pos:]
	if len(window) > maxHeaderLen {
		window = window[:maxHeaderLen]
	}
	idx := bytes.Index(window, crlf)
	if idx < 0 {
		if len(buf)-pos < maxHeaderLen {
			return 0, 0, ErrIncomplete
		}
		return 0, 0, fmt.Errorf("%w: length header too long", ErrMalformed)
	}

	field := buf[pos+1 : pos+idx]
	if !validLength(field) {
		return 0, 0, fmt.Errorf("%w: invalid length field", ErrMalformed)
	}
	n, err := strconv.Atoi(string(field))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid length field", ErrMalformed)
	}

	return n, pos + idx + len(crlf), nil
}

// validLength accepts a decimal integer with an optional leading minus.
// strconv.Atoi alone would also accept a leading plus, which the wire
// format does not allow.
func validLength(b []byte) bool {
	if len(b) > 0 && b[0] == '-' {
		b = b[1:]
	}
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
