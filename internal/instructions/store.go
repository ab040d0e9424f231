// Package instructions holds the short-lived per-user caption instructions.
//
// A text message stores an instruction under its sender's user ID; the next
// image from the same user consumes it. Entries live in memory only and are
// lost on restart, which is acceptable: a lost instruction only affects
// caption flavor, never correctness.
package instructions

import "sync"

// Store is the interface the event dispatcher depends on. The in-memory
// implementation below can be swapped for a shared store without touching
// the dispatcher.
type Store interface {
	// Set records the instruction for a user, replacing any previous one.
	Set(userID, text string)

	// Take returns and removes the instruction for a user. The second
	// return value is false when no instruction was stored. The read and
	// the removal are atomic per key.
	Take(userID string) (string, bool)
}

// MemoryStore is a mutex-guarded in-memory Store. At most one instruction is
// live per user at any time (last write wins).
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryStore creates an empty in-memory instruction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]string),
	}
}

// Set records the instruction for a user, replacing any previous one.
func (s *MemoryStore) Set(userID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = text
}

// Take returns and removes the instruction for a user.
func (s *MemoryStore) Take(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.entries[userID]
	if ok {
		delete(s.entries, userID)
	}
	return text, ok
}

// Len returns the number of stored instructions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
