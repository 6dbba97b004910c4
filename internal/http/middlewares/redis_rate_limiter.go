package middlewares

import (
	"context"
	"time"

	"github.com/geocoder89/tourhub/internal/redisclient"
)

// RedisRateLimiter shares its windows across every API instance.
type RedisRateLimiter struct {
	client *redisclient.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client *redisclient.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "tourhub:ratelimit:",
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, ttl, err := rl.client.Hit(ctx, rl.prefix+key, rl.window)
	if err != nil {
		return false, 0, err
	}

	if count > int64(rl.limit) {
		return false, ttl, nil
	}
	return true, 0, nil
}
