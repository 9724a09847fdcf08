// Package usage counts feature uses per user with UTC daily, weekly and
// monthly rollover. The tracker records; it never enforces, except for
// Consume, which refuses a use that would pass the daily limit.
package usage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/logger"
)

const keyPrefix = "usage:"

func countersKey(userID uuid.UUID) string { return keyPrefix + userID.String() }

// Tracker keeps Counters under "usage:<user id>".
type Tracker struct {
	counters       *kvstore.JSON[Counters]
	limits         LimitResolver
	clock          clockwork.Clock
	nearingPercent float64
	log            *slog.Logger
}

type Option func(*Tracker)

func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithNearingPercent sets the percentage of the daily limit at which
// NearingLimit turns on. Defaults to catalog.DefaultNearingLimitPercent.
func WithNearingPercent(p float64) Option {
	return func(t *Tracker) {
		if p > 0 {
			t.nearingPercent = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTracker panics when kv or limits is nil.
func NewTracker(kv kvstore.Store, limits LimitResolver, opts ...Option) *Tracker {
	if kv == nil {
		panic("usage: kvstore is required")
	}
	if limits == nil {
		panic("usage: limit resolver is required")
	}
	t := &Tracker{
		counters:       kvstore.NewJSON[Counters](kv),
		limits:         limits,
		clock:          clockwork.NewRealClock(),
		nearingPercent: catalog.DefaultNearingLimitPercent,
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) now() time.Time { return t.clock.Now().UTC() }

// GetStats returns the user's counters after applying any pending rollover.
// A rollover is written once; users without counters are not persisted.
func (t *Tracker) GetStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	limit, err := t.limits.DailyLimit(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	now := t.now()
	c, ok, err := t.counters.Get(ctx, countersKey(userID))
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return derive(freshCounters(now), limit, t.nearingPercent), nil
	}
	if probe := c; probe.rollover(now) {
		c, err = t.counters.Update(ctx, countersKey(userID), func(cur Counters, _ bool) (Counters, error) {
			cur.rollover(t.now())
			return cur, nil
		})
		if err != nil {
			return Stats{}, err
		}
	}
	return derive(c, limit, t.nearingPercent), nil
}

// RecordUse rolls over and increments every counter in one atomic update.
func (t *Tracker) RecordUse(ctx context.Context, userID uuid.UUID) (Stats, error) {
	limit, err := t.limits.DailyLimit(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	c, err := t.counters.Update(ctx, countersKey(userID), func(cur Counters, _ bool) (Counters, error) {
		cur.rollover(t.now())
		cur.increment()
		return cur, nil
	})
	if err != nil {
		return Stats{}, err
	}
	return derive(c, limit, t.nearingPercent), nil
}

// Consume is RecordUse that re-checks the daily limit inside the same atomic
// update. When the limit is already reached nothing is counted and ok is
// false. Two concurrent callers can therefore never both take the last use.
func (t *Tracker) Consume(ctx context.Context, userID uuid.UUID) (stats Stats, ok bool, err error) {
	limit, err := t.limits.DailyLimit(ctx, userID)
	if err != nil {
		return Stats{}, false, err
	}
	c, err := t.counters.Update(ctx, countersKey(userID), func(cur Counters, _ bool) (Counters, error) {
		ok = false
		cur.rollover(t.now())
		if limit != catalog.Unlimited && cur.DailyUsed >= limit {
			return cur, nil
		}
		cur.increment()
		ok = true
		return cur, nil
	})
	if err != nil {
		return Stats{}, false, err
	}
	return derive(c, limit, t.nearingPercent), ok, nil
}

// RolloverAll applies pending rollovers to every stored user and returns how
// many were reset. It is meant for a job scheduled just after UTC midnight;
// reads roll over lazily without it.
func (t *Tracker) RolloverAll(ctx context.Context) (int, error) {
	keys, err := t.counters.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		changed := false
		_, err := t.counters.Update(ctx, key, func(cur Counters, exists bool) (Counters, error) {
			changed = exists && cur.rollover(t.now())
			return cur, nil
		})
		if err != nil {
			t.log.ErrorContext(ctx, "usage rollover failed",
				logger.UserID(strings.TrimPrefix(key, keyPrefix)),
				logger.Error(err),
			)
			continue
		}
		if changed {
			reset++
		}
	}
	return reset, nil
}
