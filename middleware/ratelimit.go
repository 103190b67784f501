package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CounterStore is the fixed-window counter the limiter runs against. The
// Redis-backed cache.Store implements it; tests inject an in-memory fake.
type CounterStore interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit denies a request once the counter for ip+actor+route exceeds
// points within the fixed window. If the counter store is unreachable the
// request is allowed: availability wins over strict enforcement.
func RateLimit(store CounterStore, points int64, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := "anon"
		if staffID := c.GetInt("staff_id"); staffID != 0 {
			actor = "staff:" + strconv.Itoa(staffID)
		} else if sessionKey := c.GetString("session_key"); sessionKey != "" {
			actor = "session:" + sessionKey
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		key := fmt.Sprintf("rl:%s:%s:%s %s", c.ClientIP(), actor, c.Request.Method, endpoint)

		count, err := store.IncrWindow(c.Request.Context(), key, window)
		if err != nil {
			logger.Warn("Rate limit store unavailable, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		remaining := points - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(points, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > points {
			recordRateLimitDenied(endpoint)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		c.Next()
	}
}
