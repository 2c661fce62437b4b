package dlock

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/guardkit/clock"
)

// MemoryStore is an in-process Store. It is useful for tests and for
// single-process deployments where mutual exclusion across processes is
// not needed.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-process store. A nil clock falls
// back to the system clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System()
	}
	return &MemoryStore{
		clock:   c,
		entries: make(map[string]memEntry),
	}
}

// SetIfAbsent stores value under key unless a live entry exists.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.liveLocked(key); live {
		return false, nil
	}
	s.entries[key] = memEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

// CompareAndDelete deletes key if its live value equals expected.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, live := s.liveLocked(key)
	if !live || entry.value != expected {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// CompareAndExtend resets the TTL of key if its live value equals
// expected.
func (s *MemoryStore) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, live := s.liveLocked(key)
	if !live || entry.value != expected {
		return false, nil
	}
	entry.expiresAt = s.clock.Now().Add(ttl)
	s.entries[key] = entry
	return true, nil
}

// liveLocked returns the entry for key, evicting it first if expired.
func (s *MemoryStore) liveLocked(key string) (memEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return entry, true
}
