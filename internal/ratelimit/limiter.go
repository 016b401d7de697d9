package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditkit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keySpend     = "creditkit:ratelimit:spend:%s"
	keyMagicLink = "creditkit:ratelimit:magic_link:%s"
	keyJobLock   = "creditkit:lock:job:%s"
)

var ErrRateLimited = errors.New("rate_limited")

// Limiter throttles credit spends per account and magic-link requests per
// client IP. A zero Limiter allows everything.
type Limiter struct {
	enabled bool
	log     *zap.Logger

	bucket *TokenBucket
	client redis.Cmdable

	spendRate      float64
	spendBurst     int
	magicLinkRate  float64
	magicLinkBurst int
}

type Params struct {
	fx.In

	Lc     fx.Lifecycle `optional:"true"`
	Config config.Config
	Log    *zap.Logger
}

func NewLimiter(p Params) (*Limiter, error) {
	log := p.Log.Named("ratelimit")
	addr := strings.TrimSpace(p.Config.RedisAddr)
	if addr == "" {
		log.Info("rate limiting disabled, REDIS_ADDR not set")
		return &Limiter{log: log}, nil
	}

	limitCfg := p.Config.RateLimit
	if limitCfg.SpendRate <= 0 || limitCfg.SpendBurst <= 0 {
		return nil, errors.New("spend rate limit must be positive")
	}
	if limitCfg.MagicLinkRate <= 0 || limitCfg.MagicLinkBurst <= 0 {
		return nil, errors.New("magic link rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(p.Config.RedisPassword),
		DB:       p.Config.RedisDB,
	})
	if p.Lc != nil {
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}

	return &Limiter{
		enabled:        true,
		log:            log,
		bucket:         NewTokenBucket(client),
		client:         client,
		spendRate:      limitCfg.SpendRate,
		spendBurst:     limitCfg.SpendBurst,
		magicLinkRate:  limitCfg.MagicLinkRate,
		magicLinkBurst: limitCfg.MagicLinkBurst,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Limiter) AllowSpend(ctx context.Context, accountID snowflake.ID) (*Result, error) {
	if !l.Enabled() {
		return unlimited(), nil
	}
	return l.allow(ctx, fmt.Sprintf(keySpend, accountID.String()), l.spendRate, l.spendBurst)
}

func (l *Limiter) AllowMagicLink(ctx context.Context, clientIP string) (*Result, error) {
	if !l.Enabled() {
		return unlimited(), nil
	}
	return l.allow(ctx, fmt.Sprintf(keyMagicLink, strings.TrimSpace(clientIP)), l.magicLinkRate, l.magicLinkBurst)
}

// allow fails open when redis is unreachable; the ledger stays correct
// without throttling.
func (l *Limiter) allow(ctx context.Context, key string, rate float64, burst int) (*Result, error) {
	res, err := l.bucket.Allow(ctx, key, rate, burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
		return unlimited(), nil
	}
	if !res.Allowed {
		return res, ErrRateLimited
	}
	return res, nil
}

// AcquireJob takes the cluster-wide lease for a scheduled job. Without redis
// every caller runs and the returned lease is nil.
func (l *Limiter) AcquireJob(ctx context.Context, job string, ttl time.Duration) (*Lease, bool, error) {
	if !l.Enabled() {
		return nil, true, nil
	}
	lease, err := acquireLease(ctx, l.client, fmt.Sprintf(keyJobLock, job), ttl)
	if err != nil {
		return nil, false, err
	}
	return lease, lease != nil, nil
}

func unlimited() *Result {
	return &Result{Allowed: true}
}
