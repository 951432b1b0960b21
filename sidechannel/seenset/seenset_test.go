package seenset

import (
	"fmt"
	"testing"

	"sidechannel-node/clock"
)

func TestEmptyIDNeverRecorded(t *testing.T) {
	s := New(10, 10000, clock.NewManual(0))
	if s.RememberSeen("") {
		t.Fatal("empty id must never be reported as a duplicate")
	}
	if s.Len() != 0 {
		t.Fatal("empty id must never be recorded")
	}
}

func TestDuplicateDetected(t *testing.T) {
	s := New(10, 10000, clock.NewManual(0))
	if s.RememberSeen("a") {
		t.Fatal("first sighting of id must not be a duplicate")
	}
	if !s.RememberSeen("a") {
		t.Fatal("second sighting of the same id must be a duplicate")
	}
}

func TestBoundedEviction(t *testing.T) {
	s := New(3, 1_000_000, clock.NewManual(0))
	for i := 0; i < 5; i++ {
		s.RememberSeen(fmt.Sprintf("id-%d", i))
	}
	if s.Len() != 3 {
		t.Fatalf("expected size capped at 3, got %d", s.Len())
	}
	if s.RememberSeen("id-0") {
		t.Fatal("id-0 should have been evicted and thus not a duplicate")
	}
	if !s.RememberSeen("id-4") {
		t.Fatal("id-4 should still be tracked")
	}
}

func TestTTLEviction(t *testing.T) {
	c := clock.NewManual(0)
	s := New(100, 1000, c)
	s.RememberSeen("old")
	c.Advance(500)
	s.RememberSeen("mid")
	c.Advance(600) // old is now 1100ms stale, mid is 600ms stale
	s.RememberSeen("new")
	if s.RememberSeen("old") {
		t.Fatal("expected old id to have been purged by ttl, not a duplicate anymore")
	}
	if !s.RememberSeen("mid") {
		t.Fatal("expected mid id to still be tracked (not yet expired)")
	}
}
