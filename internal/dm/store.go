// Package dm stores private message threads. A thread is keyed by the
// unordered pair of the two participant connection ids, so (A,B) and (B,A)
// address the same log. Threads are append-only and live for the process
// lifetime; they are not tied to either connection still being present.
package dm

import (
	"sort"
	"strings"
	"sync"

	"github.com/majlis/chat-app/internal/protocol"
)

// ThreadKey canonicalizes an id pair: the two ids sorted and joined, so both
// orderings map to the same thread.
func ThreadKey(idA, idB string) string {
	pair := []string{idA, idB}
	sort.Strings(pair)
	return strings.Join(pair, "-")
}

// Store holds every private thread. It is goroutine-safe and unbounded;
// callers that need retention limits should externalize old threads.
type Store struct {
	mu      sync.RWMutex
	threads map[string][]protocol.PrivateMsg
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{threads: make(map[string][]protocol.PrivateMsg)}
}

// Append records a message in the thread between the two ids and returns the
// thread key.
func (s *Store) Append(idA, idB string, msg protocol.PrivateMsg) string {
	key := ThreadKey(idA, idB)

	s.mu.Lock()
	s.threads[key] = append(s.threads[key], msg)
	s.mu.Unlock()

	return key
}

// Read returns the thread between the two ids oldest-first. The returned
// slice is a copy.
func (s *Store) Read(idA, idB string) []protocol.PrivateMsg {
	key := ThreadKey(idA, idB)

	s.mu.RLock()
	defer s.mu.RUnlock()

	thread := s.threads[key]
	out := make([]protocol.PrivateMsg, len(thread))
	copy(out, thread)
	return out
}

// ThreadCount returns the number of distinct threads, for diagnostics.
func (s *Store) ThreadCount() int {
	s.mu.RLock()
	n := len(s.threads)
	s.mu.RUnlock()
	return n
}
