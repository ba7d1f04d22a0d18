package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// WindowCounter counts hits on key inside a fixed window. ttl is the time
// left until the window resets.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// RedisCounter keeps windows as expiring redis counters.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

// Hit increments and reads the ttl in one round trip. A counter left without
// an expiry, e.g. by a crash between INCR and PEXPIRE, gets one here.
func (r *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := r.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	ttl := pttl.Val()
	if ttl < 0 {
		if err := r.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = window
	}
	return incr.Val(), ttl, nil
}

// RateLimitMiddleware limits each client IP to limit requests per window and
// path. Without redis every request passes.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	if rdb == nil {
		return RateLimit(nil, limit, window)
	}
	return RateLimit(NewRedisCounter(rdb), limit, window)
}

// RateLimit enforces limit hits per window using counter. Limit headers are
// set on every counted response. Counter errors let the request through.
func RateLimit(counter WindowCounter, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if counter == nil || limit <= 0 {
			return c.Next()
		}
		key := rateLimitKey(c)

		count, ttl, err := counter.Hit(c.UserContext(), key, window)
		if err != nil {
			return c.Next() // fail open
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		reset := int64((ttl + time.Second - 1) / time.Second)
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if count > int64(limit) {
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(reset, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": reset,
			})
		}

		return c.Next()
	}
}

func rateLimitKey(c *fiber.Ctx) string {
	return fmt.Sprintf("rl:%s:%s:%s", c.Method(), c.Path(), c.IP())
}
