package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether a caller identified by key may proceed. When the
// answer is no, retryAfter tells the caller how long to back off.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisLimiter is a fixed-window counter per key. The first request in a
// window sets the expiry; every request increments the count.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	countKey := fmt.Sprintf("wh:count:%s", key)

	// One pipeline round trip: ExpireNX arms the window only when the key has
	// no TTL yet, so the counter can never be stranded without one.
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.ExpireNX(ctx, countKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", countKey, err)
	}

	if int(incr.Val()) > l.max {
		ttl, err := l.client.TTL(ctx, countKey).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// AllowAll never limits; used in development when redis is absent.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string) (bool, time.Duration, error) {
	return true, 0, nil
}
