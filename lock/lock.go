// Package lock keeps two runs from writing the ledger at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another run owns the lock.
var ErrLockHeld = errors.New("lock: held by another run")

// RunLock guards a single run.
type RunLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Noop is used when no lock backend is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) error { return nil }
func (Noop) Release(context.Context) error { return nil }

// releaseScript deletes the key only if it still holds our token, so a run
// that outlived its TTL cannot drop a lock taken over by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a SET NX PX lock with a per-holder token.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// NewClient accepts either a redis:// URL or a bare host:port.
func NewClient(redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("lock: parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (l *RedisLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock: acquire %s: %w", l.key, err)
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock: release %s: no longer held", l.key)
	}
	return nil
}
