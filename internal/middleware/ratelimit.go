package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relaychat-backend/pkg/logger"
	"relaychat-backend/pkg/response"
)

// RateLimiter implements Redis-backed fixed-window rate limiting for
// the REST surface. Socket events have their own process-local limiter.
type RateLimiter struct {
	redisClient *redis.Client
	requests    int
	window      time.Duration
}

// NewRateLimiter creates a new rate limiter allowing `requests` calls
// per `window`
func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
	}
}

// Middleware returns a Gin middleware enforcing the limit per user,
// falling back to per-IP for unauthenticated requests
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var identifier string
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		} else {
			identifier = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		allowed, remaining, resetAt, err := rl.check(c.Request.Context(), identifier)
		if err != nil {
			// Fail open so a Redis outage does not take the API down
			logger.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// check counts the request against the identifier's current window
func (rl *RateLimiter) check(ctx context.Context, identifier string) (bool, int, int64, error) {
	key := fmt.Sprintf("ratelimit:%s", identifier)

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, 0, err
	}

	if count == 1 {
		if err := rl.redisClient.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, 0, err
		}
	}

	ttl, err := rl.redisClient.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, 0, err
	}
	resetAt := time.Now().Add(ttl).Unix()

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= int64(rl.requests), remaining, resetAt, nil
}
