package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens when Redis cannot answer.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

// ErrNoRateLimitStore is returned when no Redis client is configured.
var ErrNoRateLimitStore = errors.New("rate limit store unavailable")

func rateLimitingDisabled() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// RateLimitStoreTimeout bounds each rate limit round trip to Redis.
const RateLimitStoreTimeout = 200 * time.Millisecond

// CheckRateLimit counts one hit of id against resource in a fixed window and
// reports whether it is within limit. Limiting is off for the development,
// test and stress profiles.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (bool, error) {
	if rateLimitingDisabled() || limit <= 0 {
		return true, nil
	}
	if rdb == nil {
		return false, ErrNoRateLimitStore
	}

	// A down store must not hold requests through the client's dial retries.
	ctx, cancel := context.WithTimeout(ctx, RateLimitStoreTimeout)
	defer cancel()

	key := fmt.Sprintf("rl:%s:%s", resource, id)
	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	return cnt <= int64(limit), nil
}

// RateLimit enforces limit requests per window, keyed by the authenticated
// user or else the client IP. It fails open.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name)
}

// RateLimitWithPolicy is RateLimit with an explicit failure policy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := "ip:" + c.IP()
		if uid := CurrentUserID(c); uid != 0 {
			id = fmt.Sprintf("user:%d", uid)
		}
		resource := name
		if resource == "" {
			resource = c.Path()
		}

		allowed, err := CheckRateLimit(c.UserContext(), rdb, resource, id, limit, window)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit store unavailable, rejecting",
					slog.String("resource", resource), slog.String("error", err.Error()))
				return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{Error: "rate limit unavailable"})
			}
			return c.Next()
		}
		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "rate limit exceeded",
				Code:  models.CodeRateLimited,
			})
		}
		return c.Next()
	}
}

// SendLimiter caps how many messages one user may send per window, across
// both transports.
type SendLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewSendLimiter returns a limiter allowing limit sends per minute. A nil
// client or a zero limit disables it.
func NewSendLimiter(rdb *redis.Client, limit int) *SendLimiter {
	return &SendLimiter{rdb: rdb, limit: limit, window: time.Minute}
}

// Allow reports whether userID may send now. Store failures let the send through.
func (l *SendLimiter) Allow(ctx context.Context, userID uint) bool {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true
	}
	allowed, err := CheckRateLimit(ctx, l.rdb, "chat-send", fmt.Sprintf("user:%d", userID), l.limit, l.window)
	if err != nil {
		Logger.WarnContext(ctx, "send rate limit check failed, allowing", slog.String("error", err.Error()))
		return true
	}
	return allowed
}
