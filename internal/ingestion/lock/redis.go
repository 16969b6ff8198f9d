package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisManager leases locks with SET NX PX and releases them with a
// compare-and-delete script keyed on a per-acquisition token.
type RedisManager struct {
	client redis.UniversalClient
	lease  time.Duration
	prefix string
}

func NewRedisManager(client redis.UniversalClient, lease time.Duration, prefix string) *RedisManager {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisManager{client: client, lease: lease, prefix: prefix}
}

func (m *RedisManager) Acquire(ctx context.Context, key string) (*Handle, error) {
	full := m.prefix + key
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, full, token, m.lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	extend := func(ctx context.Context) error {
		n, err := extendScript.Run(ctx, m.client, []string{full}, token, m.lease.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("extend lock %q: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return newHandle(key, token, m.lease, extend, func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, m.client, []string{full}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %q: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}), nil
}
