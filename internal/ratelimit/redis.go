package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares counters between instances. Redis errors fail open:
// the request is counted as the first in a fresh window.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore shares counters between instances through client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

// Increment uses INCR and sets the window expiry on the first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	k := s.prefix + key
	now := time.Now()

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		slog.Warn("rate limit store unavailable, allowing request", "error", err)
		return 1, now.Add(window), nil
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, k, window).Err(); err != nil {
			slog.Warn("rate limit expiry not set", "key", k, "error", err)
		}
		return 1, now.Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		// key without expiry; reset it so it cannot block forever
		_ = s.client.PExpire(ctx, k, window).Err()
		ttl = window
	}
	return int(count), now.Add(ttl), nil
}

// Decrement forgives one hit with DECR.
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	k := s.prefix + key
	n, err := s.client.Decr(ctx, k).Result()
	if err != nil {
		slog.Warn("rate limit decrement failed", "key", k, "error", err)
		return nil
	}
	if n < 0 {
		_ = s.client.Set(ctx, k, 0, redis.KeepTTL).Err()
	}
	return nil
}
