package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("key lock not acquired")

const lockKeyPrefix = "lock:"

// KeyLocker guards critical sections per key across api-server replicas. A
// caller finding the key held polls with backoff for up to the wait bound
// before giving up with ErrLockNotAcquired.
type KeyLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewKeyLocker(client *redis.Client, ttl, wait time.Duration) *KeyLocker {
	return &KeyLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *KeyLocker) WithKeyLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// Release even when ctx is already done, or the key lingers until ttl.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *KeyLocker) acquire(ctx context.Context, key, token string) error {
	op := func() error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("acquire key lock: %w", err))
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(l.waitBackOff(), ctx))
}

func (l *KeyLocker) waitBackOff() backoff.BackOff {
	if l.wait <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = l.wait
	b.Reset()
	return b
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *KeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release key lock: %w", err)
	}
	return nil
}
