package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight 表示同一个键的生成任务已在进行中。
var ErrInFlight = errors.New("generation already in flight")

// DefaultFlagTTL 是 Redis 标记的过期时间，防止进程崩溃后标记永久残留。
const DefaultFlagTTL = 5 * time.Minute

// InFlight 是“进行中/未进行”标记。Acquire 成功后必须调用 release。
type InFlight interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	Held(ctx context.Context, key string) (bool, error)
}

// MemoryFlag 是进程内标记。
type MemoryFlag struct {
	held sync.Map
}

// NewMemoryFlag 返回进程内标记。
func NewMemoryFlag() *MemoryFlag {
	return &MemoryFlag{}
}

// Acquire 标记 key 为进行中；已被占用时返回 ErrInFlight。
func (f *MemoryFlag) Acquire(_ context.Context, key string) (func(), error) {
	token := new(struct{})
	if _, loaded := f.held.LoadOrStore(key, token); loaded {
		return nil, ErrInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() { f.held.CompareAndDelete(key, token) })
	}, nil
}

// Held 报告 key 是否处于进行中。
func (f *MemoryFlag) Held(_ context.Context, key string) (bool, error) {
	_, ok := f.held.Load(key)
	return ok, nil
}

// releaseScript 只删除自己持有的标记。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisFlag 是跨进程标记，API 与 worker 共享。
type RedisFlag struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisFlag 返回基于 SET NX 的标记；ttl <= 0 时使用 DefaultFlagTTL。
func NewRedisFlag(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisFlag {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFlag{client: client, ttl: ttl, logger: logger}
}

func flagKey(key string) string {
	return "inflight:" + key
}

// Acquire 标记 key 为进行中；已被占用时返回 ErrInFlight。
func (f *RedisFlag) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := f.client.SetNX(ctx, flagKey(key), token, f.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire in-flight flag %q: %w", key, err)
	}
	if !ok {
		return nil, ErrInFlight
	}
	var once sync.Once
	return func() {
		once.Do(func() { f.release(key, token) })
	}, nil
}

// release 释放标记。失败时标记会在 ttl 后过期，这里只记录日志。
func (f *RedisFlag) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, f.client, []string{flagKey(key)}, token).Err(); err != nil {
		f.logger.Warn("release in-flight flag failed",
			slog.String("key", key),
			slog.Duration("expires_in", f.ttl),
			slog.Any("error", err),
		)
	}
}

// Held 报告 key 是否处于进行中。
func (f *RedisFlag) Held(ctx context.Context, key string) (bool, error) {
	n, err := f.client.Exists(ctx, flagKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check in-flight flag %q: %w", key, err)
	}
	return n > 0, nil
}
