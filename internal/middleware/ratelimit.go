package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/stagehub/stages-api/pkg/config"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/response"
)

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter is a fixed-window rate limiter backed by Redis. A nil limiter
// allows everything, so the API degrades gracefully when Redis is absent.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisLimiter builds a limiter, or nil when no Redis client is configured.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	if client == nil {
		return nil
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(rateLimitScript),
	}
}

// Allow reports whether the key is still within its window. Errors fail open.
func (l *RedisLimiter) Allow(key string, limit int, window time.Duration) bool {
	if l == nil || l.client == nil {
		return true
	}
	if key == "" || limit <= 0 || window <= 0 {
		return true
	}
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{key}, ttl, limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}

// LoginRateLimit throttles authentication attempts per client IP.
func LoginRateLimit(limiter *RedisLimiter, cfg config.RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !cfg.Enabled {
			c.Next()
			return
		}
		key := "ratelimit:login:" + c.ClientIP()
		if !limiter.Allow(key, cfg.LoginLimit, cfg.LoginWindow) {
			response.Error(c, appErrors.New("RATE_LIMITED", http.StatusTooManyRequests, "too many login attempts, try again later"))
			c.Abort()
			return
		}
		c.Next()
	}
}
