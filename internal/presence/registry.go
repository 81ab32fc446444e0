// Package presence tracks per-connection state: display name, current room,
// source address, last-activity timestamp, and profile. It is the single
// authority on "who is connected and where"; all mutation is scoped to one
// connection, so no handler can rewrite another connection's record.
package presence

import (
	"sync"
	"time"

	"github.com/majlis/chat-app/internal/protocol"
)

// Entry is one connection's presence record.
type Entry struct {
	ID         string
	Username   string
	Room       string
	Addr       string // source network address, used for ban enforcement
	LastActive time.Time
	Profile    protocol.Profile
}

// Registry is a goroutine-safe map of connection id to presence entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register creates a record for a newly connected id. The last-activity
// timestamp starts at now.
func (r *Registry) Register(connID, addr string) {
	r.mu.Lock()
	r.entries[connID] = &Entry{
		ID:         connID,
		Addr:       addr,
		LastActive: time.Now(),
	}
	r.mu.Unlock()
}

// Touch updates the connection's last-activity timestamp to now. Unknown ids
// are ignored. The timestamp never moves backwards.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	if e, ok := r.entries[connID]; ok {
		if now := time.Now(); now.After(e.LastActive) {
			e.LastActive = now
		}
	}
	r.mu.Unlock()
}

// SetUsername records the connection's display name.
func (r *Registry) SetUsername(connID, name string) {
	r.mu.Lock()
	if e, ok := r.entries[connID]; ok {
		e.Username = name
	}
	r.mu.Unlock()
}

// SetRoom records the connection's current room. An empty room means the
// connection is not in any room.
func (r *Registry) SetRoom(connID, room string) {
	r.mu.Lock()
	if e, ok := r.entries[connID]; ok {
		e.Room = room
	}
	r.mu.Unlock()
}

// SetProfile replaces the connection's profile.
func (r *Registry) SetProfile(connID string, profile protocol.Profile) {
	r.mu.Lock()
	if e, ok := r.entries[connID]; ok {
		e.Profile = profile
	}
	r.mu.Unlock()
}

// Unregister removes every record for the connection as one step. It returns
// the removed entry so callers can run cleanup against its last known state,
// and false if the id was not registered.
func (r *Registry) Unregister(connID string) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	r.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Get returns a copy of the connection's entry.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[connID]
	r.mu.RUnlock()

	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Username returns the connection's display name, or "" if the connection is
// unknown or has not joined a room yet.
func (r *Registry) Username(connID string) string {
	e, _ := r.Get(connID)
	return e.Username
}

// Room returns the connection's current room, or "" if none.
func (r *Registry) Room(connID string) string {
	e, _ := r.Get(connID)
	return e.Room
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	return n
}

// Snapshot returns a copy of every entry, for diagnostics and for the
// inactivity sweep. The copies are safe to inspect without holding any lock.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.RUnlock()
	return out
}

// IdleSince returns the ids of connections whose last activity is older than
// cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	var ids []string
	for id, e := range r.entries {
		if e.LastActive.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	return ids
}
