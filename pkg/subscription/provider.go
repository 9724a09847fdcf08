package subscription

import (
	"context"
	"time"

	"github.com/truthlens/entitlements/pkg/catalog"
)

// Entitlement is what the payment provider currently knows about a
// subscription.
type Entitlement struct {
	// Active is true when the provider still bills the subscription.
	Active bool
	// ExpiresAt is the end of the current paid period.
	ExpiresAt *time.Time
	// Tier is the tier the provider's price maps to; empty keeps the stored tier.
	Tier catalog.Tier
}

// EntitlementProvider answers whether a lapsed subscription has been renewed.
// The validator only asks for records that carry a provider subscription id
// and are past their expiry.
type EntitlementProvider interface {
	Revalidate(ctx context.Context, rec Record) (Entitlement, error)
}

// ProviderFunc adapts a function to EntitlementProvider.
type ProviderFunc func(ctx context.Context, rec Record) (Entitlement, error)

func (f ProviderFunc) Revalidate(ctx context.Context, rec Record) (Entitlement, error) {
	return f(ctx, rec)
}
