// Package command maps decoded requests to typed commands.
//
// Parse classifies an array of binary-safe arguments into one of the
// command types below or an *Error carrying the client-visible message.
// Command names and option tokens match case-insensitively.
package command

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Command is a typed, validated client command.
type Command interface {
	// Name returns the canonical (uppercase) command name.
	Name() string
}

// Ping checks liveness. With a message attached it echoes the message back
// as a bulk reply instead of +PONG.
type Ping struct {
	Message []byte
	HasMsg  bool
}

// Echo returns its argument verbatim as a bulk reply.
type Echo struct {
	Message []byte
}

// Set stores a value under a key, optionally with a relative expiry.
type Set struct {
	Key   string
	Value []byte

	// TTL is the relative expiry from the PX option. Only meaningful when
	// HasTTL is true; a zero TTL means the key expires on the next read.
	TTL    time.Duration
	HasTTL bool
}

// Get reads the value stored under a key.
type Get struct {
	Key string
}

// Info answers the COMMAND handshake some clients issue on connect.
type Info struct{}

func (Ping) Name() string { return "PING" }
func (Echo) Name() string { return "ECHO" }
func (Set) Name() string  { return "SET" }
func (Get) Name() string  { return "GET" }
func (Info) Name() string { return "COMMAND" }

// Error is a request-local protocol or argument error. Its message is sent
// to the client as an error reply; the connection stays open and the
// keyspace is never touched.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func errWrongArgs(cmd string) *Error {
	return &Error{Message: "ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command"}
}

var (
	errEmpty     = &Error{Message: "ERR empty command"}
	errSyntax    = &Error{Message: "ERR syntax error"}
	errNotAnInt  = &Error{Message: "ERR value is not an integer or out of range"}
	expiryOption = "PX"
)

// Parse classifies a decoded request. The error, when non-nil, is always an
// *Error suitable for direct client reporting.
func Parse(args [][]byte) (Command, error) {
	if len(args) == 0 {
		return nil, errEmpty
	}

	name := normalizeName(args[0])
	switch name {
	case "PING":
		switch len(args) {
		case 1:
			return Ping{}, nil
		case 2:
			return Ping{Message: args[1], HasMsg: true}, nil
		default:
			return nil, errWrongArgs(name)
		}

	case "ECHO":
		if len(args) != 2 {
			return nil, errWrongArgs(name)
		}
		return Echo{Message: args[1]}, nil

	case "SET":
		return parseSet(args)

	case "GET":
		if len(args) != 2 {
			return nil, errWrongArgs(name)
		}
		return Get{Key: string(args[1])}, nil

	case "COMMAND":
		return Info{}, nil

	default:
		return nil, &Error{Message: "ERR unknown command '" + name + "'"}
	}
}

// parseSet handles both forms: SET key value and SET key value PX ms.
func parseSet(args [][]byte) (Command, error) {
	switch len(args) {
	case 3:
		return Set{Key: string(args[1]), Value: args[2]}, nil

	case 5:
		if normalizeName(args[3]) != expiryOption {
			return nil, errSyntax
		}
		ms, err := strconv.ParseInt(string(args[4]), 10, 64)
		if err != nil || ms < 0 {
			return nil, errNotAnInt
		}
		return Set{
			Key:    string(args[1]),
			Value:  args[2],
			TTL:    time.Duration(ms) * time.Millisecond,
			HasTTL: true,
		}, nil

	default:
		return nil, errWrongArgs("SET")
	}
}

// normalizeName uppercases an ASCII token without allocating for tokens
// that are already uppercase.
func normalizeName(b []byte) string {
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
