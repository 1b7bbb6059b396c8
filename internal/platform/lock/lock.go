// Package lock provides short-lived redis locks that keep a background sweep to a
// single runner across worker replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another runner holds the key.
var ErrNotObtained = errors.New("platform/lock: lock held elsewhere")

// NewRedis creates a redis client and verifies connectivity.
func NewRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/lock: ping: %w", err)
	}
	return client, nil
}

// Locker obtains keyed locks.
type Locker struct {
	client *redislock.Client
}

// New wraps a redis client.
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(client)}
}

// WithLock runs fn while holding key. The lock is released when fn returns; ttl
// bounds how long a crashed holder can block others.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	held, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return fmt.Errorf("platform/lock: obtain %s: %w", key, err)
	}
	defer func() {
		_ = held.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
