package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyLocker_StoreErrorIsNotRetried(t *testing.T) {
	l := NewKeyLocker(unreachableClient(t), time.Second, 5*time.Second)

	started := time.Now()
	ran := false
	err := l.WithKeyLock(context.Background(), "admission:X:2025-01-20", func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.Contains(t, err.Error(), "acquire key lock")
	assert.False(t, ran)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestKeyLocker_WaitBackOff(t *testing.T) {
	assert.IsType(t, &backoff.StopBackOff{}, NewKeyLocker(nil, time.Second, 0).waitBackOff())

	b := NewKeyLocker(nil, time.Second, 300*time.Millisecond).waitBackOff()
	first := b.NextBackOff()
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 20*time.Millisecond)
}
