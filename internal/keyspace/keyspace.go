// Package keyspace implements the in-memory key-value engine.
//
// A Store maps keys to byte-string values with optional absolute expiry.
// Every command executes inside a single whole-keyspace critical section:
// command bodies are O(1) and never block, so coarse locking keeps the
// engine simple without measurable contention. Expiry is lazy — an expired
// entry is discovered and reclaimed on the read that finds it — with an
// optional background sweep (see Sweeper) reclaiming never-read keys.
package keyspace

import (
	"sync"
	"time"

	"github.com/wispkv/wisp/internal/command"
	"github.com/wispkv/wisp/internal/proto"
)

// entry is a stored value with an optional absolute expiry.
// expiresAt is unix milliseconds; 0 means no expiry.
type entry struct {
	value     []byte
	expiresAt int64
}

// expired reports whether the entry is logically absent at the given
// instant. An entry whose expiry equals the current instant is expired.
func (e entry) expired(nowMs int64) bool {
	return e.expiresAt != 0 && e.expiresAt <= nowMs
}

// Store is the shared keyspace. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	now       func() int64
	onExpired func(count int)
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock (unix milliseconds). For tests.
func WithClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithExpiryHook registers a callback invoked with the number of entries
// reclaimed, both by lazy expiry and by sweeps. Used for metrics.
func WithExpiryHook(fn func(count int)) Option {
	return func(s *Store) {
		s.onExpired = fn
	}
}

// New creates an empty keyspace.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     func() int64 { return time.Now().UnixMilli() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Execute runs a typed command against the keyspace and returns its reply.
// Execution is atomic with respect to the keyspace; no two commands
// interleave their map accesses. Execute never performs I/O and never fails
// on a well-typed command.
func (s *Store) Execute(cmd command.Command) proto.Reply {
	switch c := cmd.(type) {
	case command.Ping:
		if c.HasMsg {
			return proto.BulkReply{Value: c.Message}
		}
		return proto.Pong

	case command.Echo:
		return proto.BulkReply{Value: c.Message}

	case command.Info:
		// Handshake reply; stock clients only need a well-formed answer.
		return proto.SimpleReply{}

	case command.Set:
		s.set(c)
		return proto.OK

	case command.Get:
		return s.get(c.Key)

	default:
		return proto.ErrorReply{Message: "ERR unsupported command '" + cmd.Name() + "'"}
	}
}

// set inserts or overwrites unconditionally. A plain SET clears any prior
// expiry; SET with a TTL of zero produces a key that is already expired on
// the next read.
func (s *Store) set(c command.Set) {
	var expiresAt int64
	if c.HasTTL {
		expiresAt = s.now() + c.TTL.Milliseconds()
	}

	// Store a copy so the entry never aliases a network buffer.
	value := make([]byte, len(c.Value))
	copy(value, c.Value)

	s.mu.Lock()
	s.entries[c.Key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
}

// get returns the value as a bulk reply, or the null bulk reply for a
// missing or expired key. An expired entry is deleted on discovery; the
// removal is pure cleanup, invisible to the client.
func (s *Store) get(key string) proto.Reply {
	nowMs := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.expired(nowMs) {
		delete(s.entries, key)
		s.mu.Unlock()
		if s.onExpired != nil {
			s.onExpired(1)
		}
		return proto.Null
	}
	s.mu.Unlock()

	if !ok {
		return proto.Null
	}
	// Stored values are never mutated after insertion, so handing out the
	// slice is safe.
	return proto.BulkReply{Value: e.value}
}

// Len returns the number of physically present entries, including entries
// that are expired but not yet reclaimed.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// DeleteExpired removes every expired entry and returns how many were
// reclaimed. Called by the background sweeper.
func (s *Store) DeleteExpired() int {
	nowMs := s.now()

	s.mu.Lock()
	var removed int
	for key, e := range s.entries {
		if e.expired(nowMs) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 && s.onExpired != nil {
		s.onExpired(removed)
	}
	return removed
}
