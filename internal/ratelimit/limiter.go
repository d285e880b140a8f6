package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/yejinpRE/plan-checker/internal/monitoring"
	"github.com/yejinpRE/plan-checker/internal/resilience"
)

// Config holds rate limiter configuration
type Config struct {
	IPLimitPerMin     int           // requests per minute for every client IP
	UploadLimitPerMin int           // requests per minute for document uploads and batch runs
	CleanupInterval   time.Duration // how often idle fallback limiters are swept
	MaxFallbackKeys   int           // fallback limiters kept before a sweep clears them
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		IPLimitPerMin:     60,
		UploadLimitPerMin: 10,
		CleanupInterval:   time.Hour,
		MaxFallbackKeys:   1000,
	}
}

// Rate is a number of requests allowed per period.
type Rate struct {
	Limit  int
	Period time.Duration
}

// PerMinute returns a Rate of n requests per minute.
func PerMinute(n int) Rate {
	return Rate{Limit: n, Period: time.Minute}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type fallbackEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *RedisClient
	breaker      *resilience.CircuitBreaker
	config       Config
	metrics      *monitoring.Metrics

	fallback      map[string]*fallbackEntry
	fallbackMutex sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. A nil or disabled client selects
// in-memory limiting only.
func NewRateLimiter(redisClient *RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if redisClient == nil {
		redisClient = &RedisClient{}
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	if config.MaxFallbackKeys <= 0 {
		config.MaxFallbackKeys = 1000
	}

	rl := &RateLimiter{
		redisClient: redisClient,
		config:      config,
		metrics:     metrics,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		}),
		fallback: make(map[string]*fallbackEntry),
		stop:     make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Config returns the limiter configuration.
func (rl *RateLimiter) Config() Config {
	return rl.config
}

// AllowIP checks the general per-minute limit for an IP address
func (rl *RateLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	return rl.Allow(ctx, ipKey(ip), PerMinute(rl.config.IPLimitPerMin))
}

// AllowUpload checks the tighter per-minute limit that guards extraction-heavy endpoints
func (rl *RateLimiter) AllowUpload(ctx context.Context, ip string) (*Result, error) {
	return rl.Allow(ctx, uploadKey(ip), PerMinute(rl.config.UploadLimitPerMin))
}

func ipKey(ip string) string     { return fmt.Sprintf("ratelimit:ip:%s", ip) }
func uploadKey(ip string) string { return fmt.Sprintf("ratelimit:upload:%s", ip) }

// Allow checks key against r using Redis when available and the in-memory
// token bucket otherwise. A non-positive limit always allows.
func (rl *RateLimiter) Allow(ctx context.Context, key string, r Rate) (*Result, error) {
	if r.Limit <= 0 || r.Period <= 0 {
		return &Result{Allowed: true, Limit: r.Limit}, nil
	}

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		var result *Result
		err := rl.breaker.Call(func() error {
			var err error
			result, err = rl.allowRedis(ctx, key, r)
			return err
		})
		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, resilience.ErrOpen):
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitFallback()
			}
		default:
			slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitRedisError()
			}
		}
	} else if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}

	return rl.allowFallback(key, r), nil
}

// allowRedis performs rate limiting using the Redis GCRA limiter
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, r Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   r.Limit,
		Burst:  r.Limit,
		Period: r.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback performs rate limiting using an in-memory token bucket whose
// burst equals the limit
func (rl *RateLimiter) allowFallback(key string, r Rate) *Result {
	now := time.Now()

	rl.fallbackMutex.Lock()
	entry, exists := rl.fallback[key]
	if !exists {
		entry = &fallbackEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(r.Limit)/r.Period.Seconds()), r.Limit),
		}
		rl.fallback[key] = entry
	}
	entry.lastSeen = now
	rl.fallbackMutex.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)

	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     r.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(r.Period),
	}

	if !allowed {
		// time until one whole token is back
		missing := 1 - tokens
		wait := time.Duration(missing / float64(entry.limiter.Limit()) * float64(time.Second))
		if wait <= 0 {
			wait = time.Second
		}
		result.RetryAfter = wait
		result.ResetAt = now.Add(wait)
	}

	return result
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops fallback limiters idle for longer than the cleanup interval,
// and clears the map when it has still grown past MaxFallbackKeys.
func (rl *RateLimiter) cleanup() {
	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for key, entry := range rl.fallback {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.fallback, key)
		}
	}

	if len(rl.fallback) > rl.config.MaxFallbackKeys {
		slog.Info("Cleaning up fallback rate limiters", "count", len(rl.fallback))
		rl.fallback = make(map[string]*fallbackEntry)
	}
}

// ResetIP removes every limit recorded for an IP address.
func (rl *RateLimiter) ResetIP(ctx context.Context, ip string) error {
	keys := []string{ipKey(ip), uploadKey(ip)}

	rl.fallbackMutex.Lock()
	for _, k := range keys {
		delete(rl.fallback, k)
	}
	rl.fallbackMutex.Unlock()

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		for _, k := range keys {
			if err := rl.redisLimiter.Reset(ctx, k); err != nil {
				return fmt.Errorf("failed to reset %s: %w", k, err)
			}
		}
	}

	slog.Info("Reset rate limits", "ip", ip)
	return nil
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallback)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"config": map[string]interface{}{
			"ip_limit_per_min":     rl.config.IPLimitPerMin,
			"upload_limit_per_min": rl.config.UploadLimitPerMin,
		},
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
		stats["redis_breaker"] = rl.breaker.Stats()
	}
	if rl.metrics != nil {
		stats["metrics"] = rl.metrics.GetRateLimitStats()
	}

	return stats
}
