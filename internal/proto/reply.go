package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is a value the server sends back to a client. The concrete types
// below form the closed set of RESP reply shapes, one wire tag each.
type Reply interface {
	// AppendTo appends the reply's exact wire representation to dst.
	AppendTo(dst []byte) []byte
}

// Encode returns the wire representation of a reply.
func Encode(r Reply) []byte {
	return r.AppendTo(nil)
}

// SimpleReply is a single-line status string, e.g. "+OK\r\n".
type SimpleReply struct {
	Value string
}

// ErrorReply is a single-line error message, e.g. "-ERR syntax error\r\n".
type ErrorReply struct {
	Message string
}

// IntegerReply is a signed 64-bit integer, e.g. ":42\r\n".
type IntegerReply struct {
	Value int64
}

// BulkReply is a length-prefixed binary-safe string. A zero-length value
// encodes as "$0\r\n\r\n", distinct from the null bulk reply.
type BulkReply struct {
	Value []byte
}

// NullBulkReply is the "no value" marker "$-1\r\n".
type NullBulkReply struct{}

// ArrayReply is a sequence of nested replies.
type ArrayReply struct {
	Items []Reply
}

// Canonical replies.
var (
	OK   = SimpleReply{Value: "OK"}
	Pong = SimpleReply{Value: "PONG"}
	Null = NullBulkReply{}
)

// sanitizeLine strips the CRLF framing bytes from single-line payloads so
// a message can never corrupt framing.
func sanitizeLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	r := strings.NewReplacer("\r", " ", "\n", " ")
	return r.Replace(s)
}

func (r SimpleReply) AppendTo(dst []byte) []byte {
	dst = append(dst, '+')
	dst = append(dst, sanitizeLine(r.Value)...)
	return append(dst, crlf...)
}

func (r ErrorReply) AppendTo(dst []byte) []byte {
	dst = append(dst, '-')
	dst = append(dst, sanitizeLine(r.Message)...)
	return append(dst, crlf...)
}

func (r IntegerReply) AppendTo(dst []byte) []byte {
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, r.Value, 10)
	return append(dst, crlf...)
}

func (r BulkReply) AppendTo(dst []byte) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(r.Value)), 10)
	dst = append(dst, crlf...)
	dst = append(dst, r.Value...)
	return append(dst, crlf...)
}

func (NullBulkReply) AppendTo(dst []byte) []byte {
	return append(dst, "$-1\r\n"...)
}

func (r ArrayReply) AppendTo(dst []byte) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(r.Items)), 10)
	dst = append(dst, crlf...)
	for _, item := range r.Items {
		dst = item.AppendTo(dst)
	}
	return dst
}

// AppendRequest appends the wire form of a request (an array of bulk
// strings) to dst. Used by clients and tests; the server only decodes.
func AppendRequest(dst []byte, args ...[]byte) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, crlf...)
	for _, arg := range args {
		dst = BulkReply{Value: arg}.AppendTo(dst)
	}
	return dst
}

// maxReplyDepth bounds array nesting so a hostile peer cannot drive the
// decoder into unbounded recursion.
const maxReplyDepth = 32

// DecodeReply attempts to parse exactly one reply from the front of buf.
// It follows the same ErrIncomplete/ErrMalformed discipline as
// DecodeRequestWithLimits and returns the number of bytes consumed.
// The default protocol limits apply: a reply announcing an array or bulk
// length beyond them is malformed, never allocated.
func DecodeReply(buf []byte) (Reply, int, error) {
	return decodeReply(buf, 0)
}

func decodeReply(buf []byte, depth int) (Reply, int, error) {
	if depth > maxReplyDepth {
		return nil, 0, fmt.Errorf("%w: array nesting exceeds depth %d", ErrMalformed, maxReplyDepth)
	}
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}

	switch buf[0] {
	case '+':
		line, n, err := readLine(buf)
		if err != nil {
			return nil, 0, err
		}
		return SimpleReply{Value: line}, n, nil

	case '-':
		line, n, err := readLine(buf)
		if err != nil {
			return nil, 0, err
		}
		return ErrorReply{Message: line}, n, nil

	case ':':
		line, n, err := readLine(buf)
		if err != nil {
			return nil, 0, err
		}
		v, perr := strconv.ParseInt(line, 10, 64)
		if perr != nil {
			return nil, 0, fmt.Errorf("%w: invalid integer reply", ErrMalformed)
		}
		return IntegerReply{Value: v}, n, nil

	case '$':
		l, pos, err := readHeader(buf, 0, '$')
		if err != nil {
			return nil, 0, err
		}
		if l == -1 {
			return Null, pos, nil
		}
		if l < 0 {
			return nil, 0, fmt.Errorf("%w: negative bulk length %d", ErrMalformed, l)
		}
		if l > DefaultMaxBulkLen {
			return nil, 0, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrMalformed, l, DefaultMaxBulkLen)
		}
		// Subtraction form cannot overflow for any in-limit l.
		if l > len(buf)-pos-len(crlf) {
			return nil, 0, ErrIncomplete
		}
		end := pos + l + len(crlf)
		if buf[pos+l] != '\r' || buf[pos+l+1] != '\n' {
			return nil, 0, fmt.Errorf("%w: bulk reply not terminated by CRLF", ErrMalformed)
		}
		value := make([]byte, l)
		copy(value, buf[pos:pos+l])
		return BulkReply{Value: value}, end, nil

	case '*':
		n, pos, err := readHeader(buf, 0, '*')
		if err != nil {
			return nil, 0, err
		}
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: negative array length %d", ErrMalformed, n)
		}
		if n > DefaultMaxArrayLen {
			return nil, 0, fmt.Errorf("%w: array length %d exceeds limit %d", ErrMalformed, n, DefaultMaxArrayLen)
		}
		items := make([]Reply, 0, n)
		for i := 0; i < n; i++ {
			item, used, err := decodeReply(buf[pos:], depth+1)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			pos += used
		}
		return ArrayReply{Items: items}, pos, nil

	default:
		return nil, 0, fmt.Errorf("%w: unknown reply tag %q", ErrMalformed, buf[0])
	}
}

// maxLineLen bounds single-line replies (simple strings, errors, integers).
const maxLineLen = 8 * 1024

// readLine reads a "<tag><payload>\r\n" line starting at buf[0] and returns
// the payload and the offset just past the CRLF.
func readLine(buf []byte) (string, int, error) {
	window := buf
	if len(window) > maxLineLen {
		window = window[:maxLineLen]
	}
	idx := indexCRLF(window)
	if idx < 0 {
		if len(buf) < maxLineLen {
			return "", 0, ErrIncomplete
		}
		return "", 0, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineLen)
	}
	return string(buf[1:idx]), idx + len(crlf), nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
