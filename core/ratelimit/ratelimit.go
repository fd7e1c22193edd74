// Package ratelimit throttles pickup verification attempts.
//
// A handoff device (or, without device auth, a client IP) gets a fixed
// number of verification attempts per window. The memory limiter suits a
// single replica; RedisRateLimiter shares counters across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow checks if the request should be allowed based on the key and rate limit.
	// remaining indicates how many requests are left in the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)

	// Reset clears the rate limit counter for the given key.
	Reset(ctx context.Context, key string) error
}

// RateLimitError is returned when a request is rate limited.
type RateLimitError struct {
	RetryAfter time.Duration
	Remaining  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %v", e.RetryAfter)
}

// ---- Sliding Window Rate Limiter (Memory) ----

// MemoryRateLimiter implements rate limiting using in-memory sliding window.
// Keys with no attempt inside their window are swept at most once per window.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	entries   map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (r *MemoryRateLimiter) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-window)
	if now.Sub(r.lastSweep) >= window {
		r.sweep(cutoff)
		r.lastSweep = now
	}

	valid := r.entries[key][:0]
	for _, ts := range r.entries[key] {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= limit {
		r.entries[key] = valid
		return false, 0, nil
	}

	valid = append(valid, now)
	r.entries[key] = valid
	return true, limit - len(valid), nil
}

// sweep drops keys whose newest attempt is not after cutoff. Callers hold mu.
func (r *MemoryRateLimiter) sweep(cutoff time.Time) {
	for key, timestamps := range r.entries {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(r.entries, key)
		}
	}
}

func (r *MemoryRateLimiter) Reset(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

// ---- Fixed Window Rate Limiter (Redis) ----

var incrScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RedisRateLimiter counts attempts per fixed window in Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	if prefix == "" {
		prefix = "ebox:ratelimit:"
	}
	return &RedisRateLimiter{client: client, prefix: prefix}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	result, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis ratelimit: increment failed: %w", err)
	}
	count, ok := result.(int64)
	if !ok {
		return false, 0, fmt.Errorf("redis ratelimit: unexpected result type %T", result)
	}
	if count > int64(limit) {
		return false, 0, nil
	}
	return true, limit - int(count), nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis ratelimit: reset failed: %w", err)
	}
	return nil
}

// ---- Echo Middleware ----

// Config holds configuration for the middleware.
type Config struct {
	Limit  int
	Window time.Duration

	// KeyFunc extracts the rate limit key. Defaults to the client IP.
	KeyFunc func(c echo.Context) string

	// FailOpen allows requests when the limiter errors.
	FailOpen bool

	// OnDeny is called when a request is rejected.
	OnDeny func(c echo.Context, key string)
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func Middleware(limiter RateLimiter, cfg Config) echo.MiddlewareFunc {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c echo.Context) string { return "ip:" + c.RealIP() }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.KeyFunc(c)
			allowed, remaining, err := limiter.Allow(c.Request().Context(), key, cfg.Limit, cfg.Window)
			if err != nil {
				if cfg.FailOpen {
					return next(c)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
					"status": "Rate limiter unavailable",
					"code":   http.StatusServiceUnavailable,
				})
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				if cfg.OnDeny != nil {
					cfg.OnDeny(c, key)
				}
				retry := &RateLimitError{RetryAfter: cfg.Window}
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(cfg.Window.Seconds()))))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"status": "Too many requests",
					"code":   http.StatusTooManyRequests,
					"error":  retry.Error(),
				})
			}
			return next(c)
		}
	}
}
