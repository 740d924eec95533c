package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"wintrust/internal/domainerrors"
	"wintrust/internal/metrics"
)

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// Middleware limits requests by client IP. Limiter failures let the
// request through.
func Middleware(l Limiter, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Errorf("rate limit check failed: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			m.IncrementRateLimited()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests, try again later",
				"code":  domainerrors.CodeRateLimited,
			})
			return
		}
		c.Next()
	}
}
