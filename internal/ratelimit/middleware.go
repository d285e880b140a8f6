package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type checkFunc func(ctx context.Context, ip string) (*Result, error)

// IPRateLimitMiddleware applies the general per-minute limit to every request
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return rl.middleware("X-RateLimit", rl.AllowIP)
}

// UploadRateLimitMiddleware applies the upload limit. Attach it to the routes
// that accept documents.
func (rl *RateLimiter) UploadRateLimitMiddleware() gin.HandlerFunc {
	return rl.middleware("X-RateLimit-Upload", rl.AllowUpload)
}

func (rl *RateLimiter) middleware(headerPrefix string, check checkFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := check(c.Request.Context(), ip)
		if err != nil {
			// limiter failures never block a request
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header(headerPrefix+"-Limit", strconv.Itoa(result.Limit))
		c.Header(headerPrefix+"-Remaining", strconv.Itoa(result.Remaining))
		if !result.ResetAt.IsZero() {
			c.Header(headerPrefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		}

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
			}

			retry := retrySeconds(result.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "RATE_LIMIT_EXCEEDED",
				"message":     fmt.Sprintf("You have exceeded the rate limit of %d requests per minute", result.Limit),
				"category":    "rate_limit",
				"retry_after": retry,
				"reset_at":    result.ResetAt.Unix(),
			})
			return
		}

		c.Next()
	}
}

func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// HandleStatus reports the limits that apply to the caller.
func (rl *RateLimiter) HandleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ip": c.ClientIP(),
			"limits": gin.H{
				"ip_per_minute":     rl.config.IPLimitPerMin,
				"upload_per_minute": rl.config.UploadLimitPerMin,
			},
			"stats":     rl.GetStats(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// HandleReset clears the limits recorded for the :ip path parameter.
func (rl *RateLimiter) HandleReset() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.Param("ip")
		if ip == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "IP address is required"})
			return
		}

		if err := rl.ResetIP(c.Request.Context(), ip); err != nil {
			c.Error(err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":   "rate limits reset",
			"ip":        ip,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
