package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"labReport/internal/api/middleware"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// Limiter 判断某个键在当前窗口内是否仍可请求。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter 是基于 INCR + EXPIRE 的固定窗口限流器，多个 API 实例共享计数。
type RedisLimiter struct {
	client redisRateCounter
	limit  int64
	window time.Duration
}

// NewRedisLimiter 创建限流器：每个键在 window 内最多 limit 次。
func NewRedisLimiter(client *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := incrWithTTL(ctx, l.client, "ratelimit:"+key, l.window)
	if err != nil {
		return false, err
	}
	return count <= l.limit, nil
}

// RateLimit 按客户端 IP 限流。l 为 nil 时不限流；redis 出错时放行并记录日志。
func RateLimit(l Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		ok, err := l.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			middleware.LoggerFromContext(c).Warn("rate limiter unavailable",
				slog.String("scope", scope),
				slog.Any("error", err),
			)
			c.Next()
			return
		}
		if !ok {
			AbortTooManyRequests(c)
			return
		}
		c.Next()
	}
}
