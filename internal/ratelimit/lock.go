package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token, so a lease
// that outlived its TTL cannot release a newer holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var errInvalidTTL = errors.New("lease ttl must be positive")

// Lease is a single-holder redis key with an expiry. A nil Lease is valid
// and releases nothing.
type Lease struct {
	client redis.Scripter
	key    string
	token  string
}

// acquireLease returns nil without error when another holder owns key.
func acquireLease(ctx context.Context, client redis.Cmdable, key string, ttl time.Duration) (*Lease, error) {
	if client == nil {
		return nil, ErrNotConfigured
	}
	if key == "" {
		return nil, ErrEmptyKey
	}
	if ttl <= 0 {
		return nil, errInvalidTTL
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, err
	}
	return &Lease{client: client, key: key, token: token}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
