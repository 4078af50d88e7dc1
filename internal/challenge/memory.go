package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memorySweepInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps challenges in process memory. Suitable for a single instance.
type MemoryStore struct {
	mu        sync.Mutex
	nowFn     func() time.Time
	entries   map[string]memoryEntry
	nextSweep time.Time
}

// NewMemoryStore constructs a MemoryStore. nowFn defaults to time.Now.
func NewMemoryStore(nowFn func() time.Time) *MemoryStore {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryStore{nowFn: nowFn, entries: make(map[string]memoryEntry), nextSweep: nowFn().Add(memorySweepInterval)}
}

// Put stores a copy of value under key for ttl.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("challenge: non-positive ttl %s", ttl)
	}
	now := s.nowFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweep(now)
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: now.Add(ttl)}
	return nil
}

// Get reads key without consuming it.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Take reads and deletes key.
func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, key)
	return entry.value, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// live must be called with mu held.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.nowFn().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// maybeSweep drops expired entries at most once per interval. Must be called with mu held.
func (s *MemoryStore) maybeSweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(memorySweepInterval)
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
