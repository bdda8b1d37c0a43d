// Package ratelimit counts requests per key in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store keeps per-key counters. Implementations must be safe for concurrent
// use.
type Store interface {
	// Increment adds one hit to key and returns the count in the current
	// window and when that window ends.
	Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error)
	// Decrement removes one hit, used to forgive successful requests.
	Decrement(ctx context.Context, key string) error
}

type bucket struct {
	count     int
	windowEnd time.Time
}

// MemoryStore is a fixed-window counter held in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Increment starts a new window for key when the previous one has ended.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.windowEnd) {
		b = &bucket{windowEnd: now.Add(window)}
		s.buckets[key] = b
	}
	b.count++
	return b.count, b.windowEnd, nil
}

// Decrement never takes a count below zero.
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[key]; ok && b.count > 0 {
		b.count--
	}
	return nil
}

// Cleanup removes expired buckets.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
			n++
		}
	}
	return n
}

// Run calls Cleanup on every tick until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
