package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memorySweepEvery = 1024

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryLimiter implements a fixed-window counter store in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	nowFn    func() time.Time
	counters map[string]*memoryEntry
	ops      int
}

// NewMemoryLimiter constructs a MemoryLimiter. nowFn defaults to time.Now.
func NewMemoryLimiter(nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		nowFn:    nowFn,
		counters: make(map[string]*memoryEntry),
	}
}

// Increment bumps key, opening a new window when the previous one expired.
func (l *MemoryLimiter) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Second
	}
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeSweep(now)

	entry := l.counters[key]
	if entry == nil || !now.Before(entry.expiresAt) {
		entry = &memoryEntry{expiresAt: now.Add(window)}
		l.counters[key] = entry
	}
	entry.count++
	return entry.count, entry.expiresAt.Sub(now), nil
}

// Get returns the live count for key.
func (l *MemoryLimiter) Get(_ context.Context, key string) (int64, error) {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.counters[key]
	if entry == nil || !now.Before(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

// Delete removes key.
func (l *MemoryLimiter) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.counters, key)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLimiter) maybeSweep(now time.Time) {
	l.ops++
	if l.ops < memorySweepEvery {
		return
	}
	l.ops = 0
	for key, entry := range l.counters {
		if !now.Before(entry.expiresAt) {
			delete(l.counters, key)
		}
	}
}
