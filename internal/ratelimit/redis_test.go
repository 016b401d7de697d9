package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketExhaustsAndRefills(t *testing.T) {
	mr, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "spend:1", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	denied, err := bucket.Allow(ctx, "spend:1", 1, 3)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Zero(t, denied.Remaining)
	assert.Equal(t, time.Second, denied.RetryAfter)

	other, err := bucket.Allow(ctx, "spend:2", 1, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per key")

	mr.SetTime(start.Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		res, err := bucket.Allow(ctx, "spend:1", 1, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "refilled request %d", i)
	}
	res, err := bucket.Allow(ctx, "spend:1", 1, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	assert.True(t, mr.Exists("spend:1"))
	assert.Equal(t, 6*time.Second, mr.TTL("spend:1"))
}

func TestLimiterDeniesOverBurst(t *testing.T) {
	mr, _ := newRedis(t)
	l, err := NewLimiter(Params{
		Config: config.Config{
			RedisAddr: mr.Addr(),
			RateLimit: config.RateLimitConfig{SpendRate: 1, SpendBurst: 2, MagicLinkRate: 0.1, MagicLinkBurst: 1},
		},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	require.True(t, l.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.AllowSpend(ctx, snowflake.ID(7))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.AllowSpend(ctx, snowflake.ID(7))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, res.Allowed)

	_, err = l.AllowMagicLink(ctx, "203.0.113.7")
	require.NoError(t, err)
	_, err = l.AllowMagicLink(ctx, "203.0.113.7")
	require.ErrorIs(t, err, ErrRateLimited)
	_, err = l.AllowMagicLink(ctx, "198.51.100.1")
	require.NoError(t, err)
}

func TestLimiterFailsOpenWhenRedisIsDown(t *testing.T) {
	mr, _ := newRedis(t)
	l, err := NewLimiter(Params{
		Config: config.Config{
			RedisAddr: mr.Addr(),
			RateLimit: config.RateLimitConfig{SpendRate: 1, SpendBurst: 1, MagicLinkRate: 1, MagicLinkBurst: 1},
		},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	mr.Close()

	res, err := l.AllowSpend(context.Background(), snowflake.ID(1))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLeaseContendAndRelease(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	first, err := acquireLease(ctx, client, "lease:job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := acquireLease(ctx, client, "lease:job", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second, "held lease cannot be taken")

	require.NoError(t, first.Release(ctx))
	third, err := acquireLease(ctx, client, "lease:job", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestStaleLeaseCannotReleaseNewHolder(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	stale, err := acquireLease(ctx, client, "lease:job", time.Second)
	require.NoError(t, err)
	require.NotNil(t, stale)

	mr.FastForward(2 * time.Second)
	current, err := acquireLease(ctx, client, "lease:job", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	require.NoError(t, stale.Release(ctx))
	held, err := mr.Get("lease:job")
	require.NoError(t, err)
	assert.Equal(t, current.token, held)

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists("lease:job"))
}

func TestLimiterAcquireJobWithRedis(t *testing.T) {
	mr, _ := newRedis(t)
	l, err := NewLimiter(Params{
		Config: config.Config{
			RedisAddr: mr.Addr(),
			RateLimit: config.RateLimitConfig{SpendRate: 1, SpendBurst: 1, MagicLinkRate: 1, MagicLinkBurst: 1},
		},
		Log: zap.NewNop(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	lease, ok, err := l.AcquireJob(ctx, "plan_renewal", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("creditkit:lock:job:plan_renewal"))

	_, ok, err = l.AcquireJob(ctx, "plan_renewal", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = l.AcquireJob(ctx, "plan_renewal", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
