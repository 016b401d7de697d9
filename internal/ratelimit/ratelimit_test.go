package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLimiterDisabledWithoutRedis(t *testing.T) {
	l, err := NewLimiter(Params{Config: config.Config{}, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.False(t, l.Enabled())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		res, err := l.AllowSpend(ctx, snowflake.ID(1))
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.AllowMagicLink(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	lease, ok, err := l.AcquireJob(ctx, "plan_renewal", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, lease)
	assert.NoError(t, lease.Release(ctx))
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	res, err := l.AllowSpend(context.Background(), snowflake.ID(1))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewLimiterValidatesRates(t *testing.T) {
	cfg := config.Config{RedisAddr: "localhost:6379"}
	_, err := NewLimiter(Params{Config: cfg, Log: zap.NewNop()})
	require.Error(t, err)

	cfg.RateLimit = config.RateLimitConfig{SpendRate: 1, SpendBurst: 1}
	_, err = NewLimiter(Params{Config: cfg, Log: zap.NewNop()})
	require.Error(t, err)
}

func TestTokenBucketValidation(t *testing.T) {
	var nilBucket *TokenBucket
	_, err := nilBucket.Allow(context.Background(), "k", 1, 1)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, NewTokenBucket(nil))
}

func TestParseReplyAllowed(t *testing.T) {
	res, err := parseReply([]interface{}{int64(1), int64(4500), int64(1_700_000_000_000)}, 2, 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 4, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}

func TestParseReplyDenied(t *testing.T) {
	res, err := parseReply([]interface{}{int64(0), int64(500), int64(1_700_000_000_000)}, 2, 5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 250*time.Millisecond, res.RetryAfter)
	assert.Equal(t, time.UnixMilli(1_700_000_000_250).UTC(), res.ResetTime)
}

func TestParseReplyShort(t *testing.T) {
	_, err := parseReply([]interface{}{int64(1)}, 1, 1)
	require.ErrorIs(t, err, ErrInvalidReply)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 10*time.Second, bucketTTL(1, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestAcquireLeaseValidation(t *testing.T) {
	ctx := context.Background()
	_, err := acquireLease(ctx, nil, "k", time.Second)
	require.ErrorIs(t, err, ErrNotConfigured)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err = acquireLease(ctx, client, "", time.Second)
	require.ErrorIs(t, err, ErrEmptyKey)
	_, err = acquireLease(ctx, client, "k", 0)
	require.ErrorIs(t, err, errInvalidTTL)
}
