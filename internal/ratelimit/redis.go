package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by Redis, for multi-instance
// deployments. Increments pipeline INCR with EXPIRE NX so the window TTL is
// set exactly once per key in a single round-trip.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a counter store on the given Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Incr atomically increments key and applies ttl on first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Get returns the counter value, or 0 when the key is missing.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// SetTime stores a timestamp under key with the given ttl.
func (s *RedisStore) SetTime(ctx context.Context, key string, t time.Time, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, t.UnixMilli(), ttl).Err()
}

// GetTime returns the stored timestamp; ok is false when the key is missing.
func (s *RedisStore) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
