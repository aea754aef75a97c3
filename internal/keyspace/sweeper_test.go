package keyspace

import (
	"testing"
	"time"

	"github.com/wispkv/wisp/internal/command"
	"github.com/wispkv/wisp/internal/proto"
)

func TestSweeperReclaimsExpiredKeys(t *testing.T) {
	clock := newFakeClock(1000)
	s := New(WithClock(clock.Now))

	s.Execute(command.Set{Key: "a", Value: []byte("1"), TTL: 5 * time.Millisecond, HasTTL: true})
	s.Execute(command.Set{Key: "b", Value: []byte("2")})
	clock.Advance(10)

	sw := NewSweeper(s, time.Millisecond, nil)
	sw.Start()

	deadline := time.After(2 * time.Second)
	for s.Len() != 1 {
		select {
		case <-deadline:
			t.Fatalf("sweeper did not reclaim expired key, Len = %d", s.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}

	sw.Stop()

	if b, ok := get(s, "b").(proto.BulkReply); !ok || string(b.Value) != "2" {
		t.Error("unexpired key was removed")
	}
}

func TestSweeperStopTerminates(t *testing.T) {
	s := New()
	sw := NewSweeper(s, time.Millisecond, nil)
	sw.Start()

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestSweeperDefaultInterval(t *testing.T) {
	sw := NewSweeper(New(), 0, nil)
	if sw.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", sw.interval, DefaultSweepInterval)
	}
}
