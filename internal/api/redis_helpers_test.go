package api

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestRedisLimiter(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
	l := &RedisLimiter{client: counter, limit: 2, window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "upload:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "upload:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "upload:5.6.7.8")
	assert.True(t, ok)
	assert.Equal(t, time.Minute, counter.expires["ratelimit:upload:1.2.3.4"])
}

func TestScaledLimiter(t *testing.T) {
	assert.Nil(t, scaled(nil, 10))

	base := &RedisLimiter{limit: 1, window: time.Hour}
	got := scaled(base, 10).(*RedisLimiter)
	assert.Equal(t, int64(10), got.limit)
	assert.Equal(t, time.Minute, got.window)
}
