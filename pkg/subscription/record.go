package subscription

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/truthlens/entitlements/pkg/catalog"
)

// Status is where a subscription sits in its lifecycle.
type Status string

const (
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
	StatusFreeTier    Status = "free_tier"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusGracePeriod, StatusExpired, StatusCancelled, StatusFreeTier:
		return true
	}
	return false
}

// Record is the persisted subscription of one user.
type Record struct {
	UserID   uuid.UUID    `json:"user_id"`
	Tier     catalog.Tier `json:"tier"`
	Status   Status       `json:"status"`
	Features []string     `json:"features"`
	// ExpiresAt is nil for non-expiring records.
	ExpiresAt              *time.Time    `json:"expires_at,omitempty"`
	LastValidated          time.Time     `json:"last_validated"`
	ValidationInterval     time.Duration `json:"validation_interval"`
	GracePeriod            time.Duration `json:"grace_period"`
	ProviderSubscriptionID string        `json:"provider_subscription_id,omitempty"`
	Email                  string        `json:"email,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// EffectiveTier is the tier gating decisions use at now. Expired and
// cancelled records keep their stored tier but are treated as free, and so
// is any record read after its grace period ended, even when the validator
// could not reach the provider to expire it.
func (r *Record) EffectiveTier(now time.Time) catalog.Tier {
	switch r.Status {
	case StatusExpired, StatusCancelled:
		return catalog.TierFree
	}
	if end := r.GraceEndsAt(); end != nil && now.After(*end) {
		return catalog.TierFree
	}
	if !r.Tier.Valid() {
		return catalog.TierFree
	}
	return r.Tier
}

// HasFeature reports whether name is in the record's feature set.
func (r *Record) HasFeature(name string) bool {
	_, found := slices.BinarySearch(r.Features, name)
	return found
}

// GraceEndsAt is expiresAt plus the grace period, or nil for non-expiring records.
func (r *Record) GraceEndsAt() *time.Time {
	if r.ExpiresAt == nil {
		return nil
	}
	t := r.ExpiresAt.Add(r.GracePeriod)
	return &t
}

// DueForValidation reports whether the validation interval has elapsed at now.
func (r *Record) DueForValidation(now time.Time) bool {
	return now.Sub(r.LastValidated) > r.ValidationInterval
}

// applyPlan copies the tier's feature set and timings onto r.
func (r *Record) applyPlan(cat *catalog.Catalog, tier catalog.Tier) {
	plan := cat.MustPlan(tier)
	r.Tier = tier
	r.Features = sortedFeatures(cat.FeaturesFor(tier))
	r.ValidationInterval = plan.ValidationInterval
	r.GracePeriod = plan.GracePeriod
}

func sortedFeatures(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func newFreeRecord(cat *catalog.Catalog, userID uuid.UUID, now time.Time) Record {
	r := Record{
		UserID:        userID,
		Status:        StatusFreeTier,
		LastValidated: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.applyPlan(cat, catalog.TierFree)
	return r
}
