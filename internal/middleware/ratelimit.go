// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/logging"
)

const (
	RateLimitHeader          = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimitConfig tunes request throttling.
type RateLimitConfig struct {
	// Requests allowed per window.
	Requests int
	// Window is the counting interval.
	Window time.Duration
	// KeyFunc extracts the client key; defaults to client IP.
	KeyFunc func(*gin.Context) string
	// SkipFunc bypasses limiting for matching requests.
	SkipFunc func(*gin.Context) bool
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 100,
		Window:   time.Minute,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		SkipFunc: func(c *gin.Context) bool {
			return c.Request.URL.Path == "/health" || c.Request.URL.Path == "/live"
		},
	}
}

// counterScript atomically checks and bumps the window counter.
const counterScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = redis.call("GET", key)
if current == false then
  current = 0
else
  current = tonumber(current)
end

if current >= limit then
  local ttl = redis.call("TTL", key)
  return {0, limit - current, ttl}
end

current = redis.call("INCR", key)
if current == 1 then
  redis.call("EXPIRE", key, window)
end

local ttl = redis.call("TTL", key)
return {1, limit - current, ttl}
`

// RateLimiter throttles requests per client key. Counters live in Redis so
// every instance shares the same budget; without Redis it falls back to a
// per-process map.
type RateLimiter struct {
	config RateLimitConfig
	redis  *redis.Client
	logger logging.Logger

	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(config RateLimitConfig, redisClient *redis.Client, logger logging.Logger) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = DefaultRateLimitConfig().KeyFunc
	}
	return &RateLimiter{
		config:  config,
		redis:   redisClient,
		logger:  logger.WithComponent("ratelimit"),
		entries: make(map[string]*windowEntry),
	}
}

// Middleware returns the gin handler enforcing the limit. A failed Redis
// check fails open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc != nil && rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		allowed, remaining, resetAt, err := rl.check(c.Request.Context(), key)
		if err != nil {
			rl.logger.WithError(err).Warn("rate limit check failed", "key", key)
			c.Next()
			return
		}

		c.Header(RateLimitHeader, strconv.Itoa(rl.config.Requests))
		c.Header(RateLimitRemainingHeader, strconv.Itoa(remaining))
		c.Header(RateLimitResetHeader, strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": resetAt.Unix() - time.Now().Unix(),
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) check(ctx context.Context, key string) (bool, int, time.Time, error) {
	if rl.redis != nil {
		return rl.checkRedis(ctx, key)
	}
	return rl.checkLocal(key)
}

func (rl *RateLimiter) checkRedis(ctx context.Context, key string) (bool, int, time.Time, error) {
	result, err := rl.redis.Eval(ctx, counterScript,
		[]string{"ratelimit:" + key},
		rl.config.Requests, int(rl.config.Window.Seconds()),
	).Result()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	values, ok := result.([]any)
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected redis response %v", result)
	}
	allowed, aok := values[0].(int64)
	remaining, rok := values[1].(int64)
	ttl, tok := values[2].(int64)
	if !aok || !rok || !tok {
		return false, 0, time.Time{}, fmt.Errorf("unexpected redis response types %v", result)
	}

	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.Now().Add(time.Duration(ttl) * time.Second)
	return allowed == 1, int(remaining), resetAt, nil
}

func (rl *RateLimiter) checkLocal(key string) (bool, int, time.Time, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if len(rl.entries) > 1000 {
		for k, entry := range rl.entries {
			if now.After(entry.resetAt) {
				delete(rl.entries, k)
			}
		}
	}

	entry, exists := rl.entries[key]
	if !exists || now.After(entry.resetAt) {
		rl.entries[key] = &windowEntry{count: 1, resetAt: now.Add(rl.config.Window)}
		return true, rl.config.Requests - 1, now.Add(rl.config.Window), nil
	}

	if entry.count >= rl.config.Requests {
		return false, 0, entry.resetAt, nil
	}
	entry.count++
	return true, rl.config.Requests - entry.count, entry.resetAt, nil
}
