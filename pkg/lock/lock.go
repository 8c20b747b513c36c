// Package lock provides short-lived leader locks so that only one replica
// runs a periodic job per tick.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants a named lock for at most ttl. Acquire reports false, not an
// error, when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// unlockScript deletes the key only if this owner still holds it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Acquire tries once to take the lock.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	key := l.prefix + name
	owner := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, owner: owner}, true, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	owner  string
}

func (l *redisLease) Release(ctx context.Context) error {
	err := unlockScript.Run(ctx, l.client, []string{l.key}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// Local always grants the lock. It is used when no Redis is configured, in
// which case every replica runs the job.
type Local struct{}

func (Local) Acquire(context.Context, string, time.Duration) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
