package presence

import (
	"testing"
	"time"

	"github.com/majlis/chat-app/internal/protocol"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "10.0.0.1")

	e, ok := r.Get("c1")
	if !ok {
		t.Fatal("expected entry for c1")
	}
	if e.Addr != "10.0.0.1" {
		t.Errorf("expected addr 10.0.0.1, got %q", e.Addr)
	}
	if e.Username != "" || e.Room != "" {
		t.Errorf("new entry should have no username or room, got %q/%q", e.Username, e.Room)
	}
	if e.LastActive.IsZero() {
		t.Error("expected LastActive to be initialized")
	}
}

func TestConnectionScopedMutation(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "10.0.0.1")
	r.Register("c2", "10.0.0.2")

	r.SetUsername("c1", "ali")
	r.SetRoom("c1", "general")
	r.SetProfile("c1", protocol.Profile{Status: "around"})

	if got := r.Username("c1"); got != "ali" {
		t.Errorf("Username(c1) = %q, want ali", got)
	}
	if got := r.Room("c1"); got != "general" {
		t.Errorf("Room(c1) = %q, want general", got)
	}

	// c2 must be untouched.
	e2, _ := r.Get("c2")
	if e2.Username != "" || e2.Room != "" || e2.Profile.Status != "" {
		t.Errorf("c2 mutated by writes to c1: %+v", e2)
	}
}

func TestMutateUnknownIDIsNoop(t *testing.T) {
	r := NewRegistry()
	r.SetUsername("ghost", "ali")
	r.SetRoom("ghost", "general")
	r.Touch("ghost")

	if r.Count() != 0 {
		t.Errorf("expected no entries, got %d", r.Count())
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "10.0.0.1")
	r.SetUsername("c1", "ali")
	r.SetRoom("c1", "general")

	e, ok := r.Unregister("c1")
	if !ok {
		t.Fatal("expected Unregister to find c1")
	}
	if e.Username != "ali" || e.Room != "general" {
		t.Errorf("Unregister returned wrong last state: %+v", e)
	}
	if _, ok := r.Get("c1"); ok {
		t.Error("entry still present after Unregister")
	}

	if _, ok := r.Unregister("c1"); ok {
		t.Error("second Unregister should report not found")
	}
}

func TestTouchMonotonic(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "10.0.0.1")

	first, _ := r.Get("c1")
	time.Sleep(2 * time.Millisecond)
	r.Touch("c1")
	second, _ := r.Get("c1")

	if second.LastActive.Before(first.LastActive) {
		t.Error("LastActive moved backwards after Touch")
	}
}

func TestIdleSince(t *testing.T) {
	r := NewRegistry()
	r.Register("old", "10.0.0.1")
	r.Register("fresh", "10.0.0.2")

	// Backdate "old" by mutating through the map directly is not possible
	// from outside; use a cutoff in the future instead and then verify a
	// past cutoff excludes both.
	past := time.Now().Add(-time.Minute)
	if ids := r.IdleSince(past); len(ids) != 0 {
		t.Errorf("expected no idle entries for past cutoff, got %v", ids)
	}

	future := time.Now().Add(time.Minute)
	ids := r.IdleSince(future)
	if len(ids) != 2 {
		t.Errorf("expected both entries idle for future cutoff, got %v", ids)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "10.0.0.1")

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(snap))
	}
	snap[0].Username = "tampered"

	if got := r.Username("c1"); got != "" {
		t.Errorf("mutating snapshot leaked into registry: %q", got)
	}
}
