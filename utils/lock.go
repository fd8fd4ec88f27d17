package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// Locker is satisfied by *redislock.Client.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// WithKeyLock runs fn while holding a redis lock on key. A nil locker runs fn unlocked
// (Redis disabled or not connected yet); the store still guards correctness.
func WithKeyLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func() error) error {
	if isNilLocker(locker) {
		return fn()
	}
	lock, err := locker.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 30),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return NewDomainError(DomainCodeLockNotObtained, "could not obtain lock %q", key)
	} else if err != nil {
		return err
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn()
}

func isNilLocker(l Locker) bool {
	if l == nil {
		return true
	}
	if c, ok := l.(*redislock.Client); ok && c == nil {
		return true
	}
	return false
}
