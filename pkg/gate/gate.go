// Package gate decides whether a user may use a feature, optionally on a
// given site, and records quota-consuming uses.
//
// Checks run in a fixed order and the first failing one is reported:
//
//  1. unknown_feature      the feature is not in the catalog
//  2. tier_insufficient    the effective tier ranks below the feature's
//  3. daily_limit_reached  quota feature and the daily limit is used up
//  4. domain_restricted    the site is restricted for the tier
//
// An unknown feature is a denial, not an error. Storage failures are errors.
package gate

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/subscription"
	"github.com/truthlens/entitlements/pkg/usage"
)

// Reason explains a denial.
type Reason string

const (
	ReasonUnknownFeature    Reason = "unknown_feature"
	ReasonTierInsufficient  Reason = "tier_insufficient"
	ReasonDailyLimitReached Reason = "daily_limit_reached"
	ReasonDomainRestricted  Reason = "domain_restricted"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed      bool         `json:"allowed"`
	Reason       Reason       `json:"reason,omitempty"`
	Feature      string       `json:"feature"`
	Tier         catalog.Tier `json:"tier"`
	RequiredTier catalog.Tier `json:"required_tier,omitempty"`
	Domain       string       `json:"domain,omitempty"`
	// Usage is set for quota-consuming features.
	Usage *usage.Stats `json:"usage,omitempty"`
}

// UseResult is a Decision plus whether a use was counted.
type UseResult struct {
	Decision
	Recorded bool `json:"recorded"`
}

// SubscriptionSource supplies the user's subscription record.
type SubscriptionSource interface {
	Get(ctx context.Context, userID uuid.UUID) (*subscription.Record, error)
}

// UsageCounter is the part of usage.Tracker the gate needs.
type UsageCounter interface {
	GetStats(ctx context.Context, userID uuid.UUID) (usage.Stats, error)
	Consume(ctx context.Context, userID uuid.UUID) (usage.Stats, bool, error)
}

type Gate struct {
	subs    SubscriptionSource
	usage   UsageCounter
	catalog *catalog.Catalog
	clock   clockwork.Clock
	log     *slog.Logger
}

type Option func(*Gate)

// WithClock sets the time the effective tier is judged at. Defaults to the
// real clock.
func WithClock(c clockwork.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// New panics when any dependency is nil.
func New(subs SubscriptionSource, counter UsageCounter, cat *catalog.Catalog, opts ...Option) *Gate {
	if subs == nil {
		panic("gate: subscription source is required")
	}
	if counter == nil {
		panic("gate: usage counter is required")
	}
	if cat == nil {
		panic("gate: catalog is required")
	}
	g := &Gate{subs: subs, usage: counter, catalog: cat, clock: clockwork.NewRealClock(), log: logger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckAccess evaluates feature for the user without recording anything.
// domain may be a bare host or a URL; empty skips the domain check.
func (g *Gate) CheckAccess(ctx context.Context, userID uuid.UUID, feature, domain string) (Decision, error) {
	d := Decision{Feature: feature, Domain: catalog.NormalizeDomain(domain)}

	rule, ok := g.catalog.Feature(feature)
	if !ok {
		d.Reason = ReasonUnknownFeature
		return d, nil
	}
	d.RequiredTier = rule.RequiredTier

	rec, err := g.subs.Get(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	d.Tier = rec.EffectiveTier(g.clock.Now())
	if !d.Tier.AtLeast(rule.RequiredTier) {
		d.Reason = ReasonTierInsufficient
		return d, nil
	}

	if rule.ConsumesQuota {
		stats, err := g.usage.GetStats(ctx, userID)
		if err != nil {
			return Decision{}, err
		}
		d.Usage = &stats
		if !stats.Unlimited() && stats.LimitReached {
			d.Reason = ReasonDailyLimitReached
			return d, nil
		}
	}

	if d.Domain != "" && g.restricted(d.Tier, d.Domain) {
		d.Reason = ReasonDomainRestricted
		return d, nil
	}

	d.Allowed = true
	return d, nil
}

func (g *Gate) restricted(tier catalog.Tier, host string) bool {
	for _, rule := range g.catalog.MustPlan(tier).RestrictedDomains {
		if catalog.DomainMatches(host, rule) {
			return true
		}
	}
	return false
}

// UseFeatureWithUsageTracking checks access and, for a granted
// quota-consuming feature, counts the use. The count re-checks the limit
// atomically; a caller that loses the race for the last daily use is denied
// with daily_limit_reached and nothing is recorded.
func (g *Gate) UseFeatureWithUsageTracking(ctx context.Context, userID uuid.UUID, feature, domain string) (UseResult, error) {
	d, err := g.CheckAccess(ctx, userID, feature, domain)
	if err != nil {
		return UseResult{}, err
	}
	res := UseResult{Decision: d}
	if !d.Allowed {
		g.log.DebugContext(ctx, "feature denied",
			logger.UserID(userID),
			logger.Feature(feature),
			logger.Tier(string(d.Tier)),
			slog.String("reason", string(d.Reason)),
		)
		return res, nil
	}

	rule, _ := g.catalog.Feature(feature)
	if !rule.ConsumesQuota {
		return res, nil
	}

	stats, ok, err := g.usage.Consume(ctx, userID)
	if err != nil {
		return UseResult{}, err
	}
	res.Usage = &stats
	if !ok {
		res.Allowed = false
		res.Reason = ReasonDailyLimitReached
		g.log.InfoContext(ctx, "last daily use taken concurrently",
			logger.UserID(userID),
			logger.Feature(feature),
		)
		return res, nil
	}
	res.Recorded = true
	return res, nil
}
