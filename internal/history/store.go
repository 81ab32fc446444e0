// Package history keeps the bounded per-room message log used for replay to
// late joiners. Each room retains at most a fixed number of messages; when the
// bound is exceeded the oldest entry is evicted first.
package history

import (
	"sync"

	"github.com/majlis/chat-app/internal/protocol"
)

// DefaultLimit is the number of messages retained per room when no explicit
// limit is configured.
const DefaultLimit = 50

// DeleteResult is the outcome of a Delete call.
type DeleteResult int

const (
	// Removed means the message existed, belonged to the requester, and was
	// deleted.
	Removed DeleteResult = iota
	// NotFound means no message with the given id exists in the room's log.
	NotFound
	// NotOwner means the message exists but its author is not the requester;
	// the log is unchanged.
	NotOwner
)

// Store holds one bounded FIFO log per room. It is goroutine-safe.
type Store struct {
	mu    sync.RWMutex
	limit int
	rooms map[string][]protocol.RoomMessage
}

// NewStore creates a Store retaining at most limit messages per room.
// A non-positive limit falls back to DefaultLimit.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit: limit,
		rooms: make(map[string][]protocol.RoomMessage),
	}
}

// Append pushes a message onto the room's log, evicting the oldest entry if
// the log would exceed the retention bound. Amortized O(1).
func (s *Store) Append(room string, msg protocol.RoomMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.rooms[room], msg)
	if len(log) > s.limit {
		// Copy down instead of re-slicing so the evicted head does not pin
		// the backing array.
		copy(log, log[1:])
		log = log[:s.limit]
	}
	s.rooms[room] = log
}

// Delete removes the message with the given id from the room's log, but only
// if its stored author equals requester.
func (s *Store) Delete(room, messageID, requester string) DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.rooms[room]
	if !ok {
		return NotFound
	}

	for i, msg := range log {
		if msg.ID != messageID {
			continue
		}
		if msg.User != requester {
			return NotOwner
		}
		s.rooms[room] = append(log[:i], log[i+1:]...)
		return Removed
	}
	return NotFound
}

// All returns the room's log oldest-first. The returned slice is a copy.
func (s *Store) All(room string) []protocol.RoomMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room]
	out := make([]protocol.RoomMessage, len(log))
	copy(out, log)
	return out
}

// Len returns the number of messages currently retained for the room.
func (s *Store) Len(room string) int {
	s.mu.RLock()
	n := len(s.rooms[room])
	s.mu.RUnlock()
	return n
}

// First returns the oldest retained message for the room, if any. Used to
// report a room's approximate creation time in listings.
func (s *Store) First(room string) (protocol.RoomMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.rooms[room]
	if len(log) == 0 {
		return protocol.RoomMessage{}, false
	}
	return log[0], true
}
