// Package ratelimiter throttles API callers with a token bucket.
//
// A bucket holds up to Capacity tokens and regains RefillRate tokens every
// RefillInterval. Each request takes one token; a request that finds too few
// is denied and takes nothing. Buckets live in a Store so that replicas can
// share them through Redis.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config is loaded from the environment by pkg/config.
type Config struct {
	Enabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"RATE_LIMIT_CAPACITY" envDefault:"120"`
	RefillRate     int           `env:"RATE_LIMIT_REFILL_RATE" envDefault:"2"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

func (c Config) validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	case c.RefillRate <= 0:
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	case c.RefillInterval < time.Millisecond:
		return fmt.Errorf("%w: refill interval must be at least 1ms, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// ttl is how long an untouched bucket takes to refill completely, plus one
// interval. After that its state is indistinguishable from a fresh bucket.
func (c Config) ttl() time.Duration {
	steps := (c.Capacity + c.RefillRate - 1) / c.RefillRate
	return time.Duration(steps+1) * c.RefillInterval
}

// Store persists bucket state. Take refills the bucket for now, then removes
// n tokens if at least n are available. Remaining is negative when the
// request was denied.
type Store interface {
	Take(ctx context.Context, key string, n int, now time.Time, cfg Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type Result struct {
	Limit     int
	Remaining int
	// ResetAt is when the next token arrives.
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (r Result) Allowed() bool { return r.Remaining >= 0 }

type Bucket struct {
	store Store
	cfg   Config
	clock clockwork.Clock
}

type Option func(*Bucket)

func WithClock(c clockwork.Clock) Option {
	return func(b *Bucket) {
		if c != nil {
			b.clock = c
		}
	}
}

// NewBucket validates cfg. The Enabled flag is the caller's business.
func NewBucket(store Store, cfg Config, opts ...Option) (*Bucket, error) {
	if store == nil {
		panic("ratelimiter: store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Bucket{store: store, cfg: cfg, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Bucket) Allow(ctx context.Context, key string) (Result, error) {
	return b.AllowN(ctx, key, 1)
}

func (b *Bucket) AllowN(ctx context.Context, key string, n int) (Result, error) {
	if n <= 0 {
		return Result{}, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	now := b.clock.Now()
	remaining, resetAt, err := b.store.Take(ctx, key, n, now, b.cfg)
	if err != nil {
		return Result{}, err
	}

	res := Result{Limit: b.cfg.Capacity, Remaining: remaining, ResetAt: resetAt}
	if !res.Allowed() {
		// Each refill brings RefillRate tokens; -remaining are missing.
		missing := -remaining
		steps := (missing + b.cfg.RefillRate - 1) / b.cfg.RefillRate
		res.RetryAfter = max(resetAt.Sub(now)+time.Duration(steps-1)*b.cfg.RefillInterval, 0)
	}
	return res, nil
}

func (b *Bucket) Reset(ctx context.Context, key string) error {
	return b.store.Reset(ctx, key)
}

// refill applies the token bucket arithmetic shared by the stores. The refill
// clock advances in whole intervals so partial progress is not lost.
func refill(tokens int, refilled, now time.Time, cfg Config) (int, time.Time) {
	if tokens >= cfg.Capacity || now.Before(refilled) {
		if tokens >= cfg.Capacity {
			return cfg.Capacity, now
		}
		return tokens, refilled
	}
	steps := int64(now.Sub(refilled) / cfg.RefillInterval)
	// Cap to avoid overflow after long idle periods.
	steps = min(steps, int64(cfg.Capacity/cfg.RefillRate+1))
	if steps <= 0 {
		return tokens, refilled
	}
	tokens = min(tokens+int(steps)*cfg.RefillRate, cfg.Capacity)
	if tokens == cfg.Capacity {
		return tokens, now
	}
	return tokens, refilled.Add(time.Duration(steps) * cfg.RefillInterval)
}
