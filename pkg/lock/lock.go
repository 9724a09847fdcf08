// Package lock serialises work per key, in process or across replicas.
//
// KeyedMutex is enough for a single instance. Redsync takes the same lock in
// Redis so that several replicas of the service never validate one user at
// the same time.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock: not acquired")

// Release gives the lock back. It is safe to call once.
type Release func(ctx context.Context) error

// Locker acquires an exclusive lock on key, blocking until it is free or ctx
// is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Release, error)
}

// With runs fn while holding key. The release error is returned only when fn
// succeeded.
func With(ctx context.Context, l Locker, key string, fn func(ctx context.Context) error) (err error) {
	release, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
