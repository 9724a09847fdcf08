package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// RedsyncConfig tunes the distributed lock.
type RedsyncConfig struct {
	Prefix     string        `env:"LOCK_PREFIX" envDefault:"entitlements:lock:"`
	Expiry     time.Duration `env:"LOCK_EXPIRY" envDefault:"30s"`
	Tries      int           `env:"LOCK_TRIES" envDefault:"32"`
	RetryDelay time.Duration `env:"LOCK_RETRY_DELAY" envDefault:"100ms"`
}

// Redsync is a Locker backed by redsync over go-redis. The expiry bounds how
// long a crashed holder can block others.
type Redsync struct {
	rs  *redsync.Redsync
	cfg RedsyncConfig
}

func NewRedsync(client redis.UniversalClient, cfg RedsyncConfig) *Redsync {
	if client == nil {
		panic("lock: redis client is required")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Second
	}
	if cfg.Tries <= 0 {
		cfg.Tries = 32
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Redsync{rs: redsync.New(goredis.NewPool(client)), cfg: cfg}
}

func (r *Redsync) Lock(ctx context.Context, key string) (Release, error) {
	mutex := r.rs.NewMutex(r.cfg.Prefix+key,
		redsync.WithExpiry(r.cfg.Expiry),
		redsync.WithTries(r.cfg.Tries),
		redsync.WithRetryDelay(r.cfg.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.Join(ErrNotAcquired, fmt.Errorf("%s: %w", key, err))
	}
	return func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("lock: release %s: %w", key, redsync.ErrLockAlreadyExpired)
		}
		return nil
	}, nil
}
