package usage

import (
	"context"

	"github.com/google/uuid"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/subscription"
)

// LimitResolver returns a user's daily limit; catalog.Unlimited disables it.
type LimitResolver interface {
	DailyLimit(ctx context.Context, userID uuid.UUID) (int64, error)
}

// LimitFunc adapts a function to LimitResolver.
type LimitFunc func(ctx context.Context, userID uuid.UUID) (int64, error)

func (f LimitFunc) DailyLimit(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f(ctx, userID)
}

// FixedLimit applies the same limit to everyone.
func FixedLimit(limit int64) LimitResolver {
	return LimitFunc(func(context.Context, uuid.UUID) (int64, error) { return limit, nil })
}

// SubscriptionLimits resolves the limit of the user's effective tier.
type SubscriptionLimits struct {
	store   *subscription.Store
	catalog *catalog.Catalog
}

func NewSubscriptionLimits(store *subscription.Store, cat *catalog.Catalog) *SubscriptionLimits {
	if store == nil {
		panic("usage: subscription store is required")
	}
	if cat == nil {
		panic("usage: catalog is required")
	}
	return &SubscriptionLimits{store: store, catalog: cat}
}

func (l *SubscriptionLimits) DailyLimit(ctx context.Context, userID uuid.UUID) (int64, error) {
	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return l.catalog.MustPlan(l.store.EffectiveTier(rec)).DailyLimit, nil
}
