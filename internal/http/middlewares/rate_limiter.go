package middlewares

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RateLimiter is the in-process fixed window limiter. Counts are per instance;
// NewRedisRateLimiter shares them across instances.
type RateLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	limit     int
	buckets   map[string]*windowCount
	nextPrune time.Time
	now       func() time.Time
}

type windowCount struct {
	hits  int
	reset time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*windowCount),
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.prune(now)

	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.reset) {
		rl.buckets[key] = &windowCount{hits: 1, reset: now.Add(rl.window)}
		return true, 0, nil
	}

	if b.hits >= rl.limit {
		return false, b.reset.Sub(now), nil
	}

	b.hits++
	return true, 0, nil
}

// prune drops finished windows at most once per window length so the map does
// not keep every address ever seen.
func (rl *RateLimiter) prune(now time.Time) {
	if now.Before(rl.nextPrune) {
		return
	}
	for k, b := range rl.buckets {
		if !now.Before(b.reset) {
			delete(rl.buckets, k)
		}
	}
	rl.nextPrune = now.Add(rl.window)
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit enforces l for the key derived by keyFn. A limiter error lets the
// request through.
func RateLimit(l Limiter, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			key = KeyByIP(c)
		}

		ok, retryAfter, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Default().WarnContext(c.Request.Context(), "rate limiter unavailable", "err", err)
			c.Next()
			return
		}

		if !ok {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWithStatus(c, http.StatusTooManyRequests, "rate_limited",
				"Too many requests from this IP, please try again later.")
			return
		}

		c.Next()
	}
}

func KeyByIP(c *gin.Context) string {
	// ClientIP honours X-Forwarded-For only from the engine's trusted proxies
	ip := c.ClientIP()

	if host, _, err := net.SplitHostPort(ip); err == nil && host != "" {
		ip = host
	}
	return "ip:" + ip
}
