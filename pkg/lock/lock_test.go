package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/pkg/lock"
)

func lockers(t *testing.T) map[string]lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]lock.Locker{
		"keyed": lock.NewKeyedMutex(),
		"redsync": lock.NewRedsync(client, lock.RedsyncConfig{
			Prefix:     "test:",
			Expiry:     5 * time.Second,
			Tries:      200,
			RetryDelay: 5 * time.Millisecond,
		}),
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	t.Parallel()

	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var inside, maxInside atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := lock.With(context.Background(), l, "validate:user-1", func(context.Context) error {
						n := inside.Add(1)
						for {
							m := maxInside.Load()
							if n <= m || maxInside.CompareAndSwap(m, n) {
								break
							}
						}
						time.Sleep(2 * time.Millisecond)
						inside.Add(-1)
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside.Load())
		})
	}
}

func TestLocker_IndependentKeys(t *testing.T) {
	t.Parallel()

	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			releaseA, err := l.Lock(ctx, "a")
			require.NoError(t, err)
			releaseB, err := l.Lock(ctx, "b")
			require.NoError(t, err)
			require.NoError(t, releaseB(ctx))
			require.NoError(t, releaseA(ctx))
		})
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	t.Parallel()
	km := lock.NewKeyedMutex()

	release, err := km.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "k")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(context.Background()))
	require.NoError(t, release(context.Background()))
	assert.Zero(t, km.Len())
}

func TestRedsync_HeldElsewhere(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := lock.RedsyncConfig{Prefix: "p:", Expiry: 5 * time.Second, Tries: 2, RetryDelay: time.Millisecond}
	a := lock.NewRedsync(client, cfg)
	b := lock.NewRedsync(client, cfg)

	release, err := a.Lock(context.Background(), "user")
	require.NoError(t, err)
	assert.True(t, mr.Exists("p:user"))

	_, err = b.Lock(context.Background(), "user")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	require.NoError(t, release(context.Background()))
	assert.False(t, mr.Exists("p:user"))
}

func TestWith_PropagatesErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	err := lock.With(context.Background(), lock.NewKeyedMutex(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
