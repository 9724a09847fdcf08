package subscription

import (
	"context"
	"time"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/statemachine"
)

// Event names a lifecycle transition.
type Event string

const (
	// EventRenew applies a provider-confirmed renewal.
	EventRenew Event = "renew"
	// EventLapse moves an active record past its expiry into grace.
	EventLapse Event = "lapse"
	// EventExpire ends the grace period.
	EventExpire Event = "expire"
)

// lifecycleInput is the data guards and actions see. Actions mutate rec.
type lifecycleInput struct {
	rec         *Record
	now         time.Time
	entitlement *Entitlement
	catalog     *catalog.Catalog
}

func input(data any) *lifecycleInput {
	in, _ := data.(*lifecycleInput)
	return in
}

func renewalConfirmed(_ context.Context, _ Status, _ Event, data any) bool {
	in := input(data)
	if in == nil || in.entitlement == nil {
		return false
	}
	e := in.entitlement
	if !e.Active || e.ExpiresAt == nil || !e.ExpiresAt.After(in.now) {
		return false
	}
	return in.rec.ExpiresAt == nil || e.ExpiresAt.After(*in.rec.ExpiresAt)
}

func pastExpiry(_ context.Context, _ Status, _ Event, data any) bool {
	in := input(data)
	return in != nil && in.rec.ExpiresAt != nil && in.now.After(*in.rec.ExpiresAt)
}

func pastGrace(_ context.Context, _ Status, _ Event, data any) bool {
	in := input(data)
	if in == nil {
		return false
	}
	end := in.rec.GraceEndsAt()
	return end != nil && in.now.After(*end)
}

func applyRenewal(_ context.Context, _, _ Status, _ Event, data any) error {
	in := input(data)
	e := in.entitlement
	if e.Tier != "" && e.Tier != catalog.TierFree && e.Tier.Valid() && e.Tier != in.rec.Tier {
		in.rec.applyPlan(in.catalog, e.Tier)
	}
	expires := e.ExpiresAt.UTC()
	in.rec.ExpiresAt = &expires
	return nil
}

// lifecycle is the expiry state machine. Registration order matters: a
// confirmed renewal is tried before the lapse so an active record the provider
// renewed never passes through grace. free_tier, cancelled and expired have no
// outgoing transitions.
var lifecycle = statemachine.MustNew(
	statemachine.WithTransition(StatusActive, StatusActive, EventRenew,
		statemachine.WithGuards(renewalConfirmed),
		statemachine.WithActions(applyRenewal),
	),
	statemachine.WithTransition(StatusActive, StatusGracePeriod, EventLapse,
		statemachine.WithGuards(pastExpiry),
	),
	statemachine.WithTransition(StatusGracePeriod, StatusActive, EventRenew,
		statemachine.WithGuards(renewalConfirmed),
		statemachine.WithActions(applyRenewal),
	),
	statemachine.WithTransition(StatusGracePeriod, StatusExpired, EventExpire,
		statemachine.WithGuards(pastGrace),
	),
)
