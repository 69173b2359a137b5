package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	count     int64
	at        time.Time
	expiresAt time.Time // zero = never
}

// MemoryStore is an in-process CounterStore. Suitable for development, tests,
// and single-instance deployments; counters are lost on restart.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]memEntry
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]memEntry),
		nowF: time.Now,
	}
}

// Incr atomically increments key and returns the new value. The ttl is set
// when the key is created and left untouched afterwards.
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	e, ok := s.m[key]
	if !ok || s.expired(e, now) {
		e = memEntry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	e.count++
	s.m[key] = e
	return e.count, nil
}

// Get returns the counter value, or 0 when missing or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || s.expired(e, s.nowF()) {
		delete(s.m, key)
		return 0, nil
	}
	return e.count, nil
}

// SetTime stores a timestamp under key with the given ttl.
func (s *MemoryStore) SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{at: t}
	if ttl > 0 {
		e.expiresAt = s.nowF().Add(ttl)
	}
	s.m[key] = e
	return nil
}

// GetTime returns the stored timestamp; ok is false when missing or expired.
func (s *MemoryStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || s.expired(e, s.nowF()) {
		delete(s.m, key)
		return time.Time{}, false, nil
	}
	return e.at, true, nil
}

func (s *MemoryStore) expired(e memEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}
