package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the backend for rate-limit counters and timestamps. Keys
// self-expire via TTL; implementations must make Incr a single atomic
// round-trip (increment plus expiry), not read-modify-write from the caller.
type CounterStore interface {
	// Incr atomically increments key, sets ttl on first increment, and
	// returns the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the counter value, or 0 when the key is missing or expired.
	Get(ctx context.Context, key string) (int64, error)
	// SetTime stores a timestamp under key with the given ttl (0 = no expiry).
	SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error
	// GetTime returns the stored timestamp; ok is false when missing or expired.
	GetTime(ctx context.Context, key string) (t time.Time, ok bool, err error)
}
