package middleware

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"user_console/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

//go:embed rate_limiter.lua
var luaScript string

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	Capacity   int     // Maximum number of tokens (max mutations in a burst)
	RefillRate float64 // Tokens refilled per second
}

// DefaultRateLimiterConfig returns default rate limiter settings
// 2 mutations per second with burst capacity of 20
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Capacity:   20,
		RefillRate: 2.0,
	}
}

// RateLimiterMiddleware limits create, update and delete actions per console
// session with a token bucket kept in Redis (Lua script, atomic per key).
func RateLimiterMiddleware(redisClient *redis.Client, config *RateLimiterConfig) (gin.HandlerFunc, error) {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if config.Capacity < 1 || config.RefillRate <= 0 {
		return nil, fmt.Errorf("invalid rate limiter config: capacity %d, refill rate %v", config.Capacity, config.RefillRate)
	}

	// Load Lua script into Redis (SHA hash will be cached)
	scriptSHA, err := redisClient.ScriptLoad(context.Background(), luaScript).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load rate limiter script: %w", err)
	}

	return func(c *gin.Context) {
		sessionID, ok := SessionID(c)
		if !ok {
			c.String(http.StatusBadRequest, "Missing console session")
			c.Abort()
			return
		}

		key := SessionRateLimiterKey(sessionID)
		now := time.Now().UnixMilli()

		result, err := redisClient.EvalSha(c.Request.Context(), scriptSHA, []string{key},
			config.Capacity,
			config.RefillRate,
			now,
		).Result()

		if err != nil {
			logrus.WithError(err).Error("Failed to execute rate limiter Lua script")
			// Fail open: allow request if Redis fails
			c.Next()
			return
		}

		if allowed, _ := result.(int64); allowed == 0 {
			observability.GlobalMetrics.MutationsTotal.WithLabelValues(c.FullPath(), "rate_limited").Inc()
			retryAfter := int(math.Ceil(1.0 / config.RefillRate))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.String(http.StatusTooManyRequests, "Rate limit exceeded, try again in %d seconds", retryAfter)
			c.Abort()
			return
		}

		c.Next()
	}, nil
}

// Build cache key for session rate limiting
func SessionRateLimiterKey(sessionID string) string {
	return fmt.Sprintf("rate_limiter:session:%s", sessionID)
}
