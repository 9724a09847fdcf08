package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/kvstore"
)

const keyPrefix = "subscription:"

func recordKey(userID uuid.UUID) string { return keyPrefix + userID.String() }

// Store persists one Record per user. Records are created lazily with free
// defaults and never deleted.
type Store struct {
	records *kvstore.JSON[Record]
	catalog *catalog.Catalog
	clock   clockwork.Clock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock sets the time source. Defaults to the real clock.
func WithStoreClock(c clockwork.Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore panics when kv or cat is nil.
func NewStore(kv kvstore.Store, cat *catalog.Catalog, opts ...StoreOption) *Store {
	if kv == nil {
		panic("subscription: kvstore is required")
	}
	if cat == nil {
		panic("subscription: catalog is required")
	}
	s := &Store{
		records: kvstore.NewJSON[Record](kv),
		catalog: cat,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) now() time.Time { return s.clock.Now().UTC() }

// EffectiveTier is rec.EffectiveTier at the store's current time.
func (s *Store) EffectiveTier(rec *Record) catalog.Tier { return rec.EffectiveTier(s.now()) }

// Get returns the user's record, persisting free defaults on first access.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*Record, error) {
	rec, ok, err := s.records.Get(ctx, recordKey(userID))
	if err != nil {
		return nil, err
	}
	if ok {
		return &rec, nil
	}
	rec, err = s.records.Update(ctx, recordKey(userID), func(cur Record, exists bool) (Record, error) {
		if exists {
			return cur, nil
		}
		return newFreeRecord(s.catalog, userID, s.now()), nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Set overwrites the stored record. Last writer wins.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	if rec == nil || rec.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidRecord)
	}
	if !rec.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, rec.Tier)
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, rec.Status)
	}
	out := *rec
	out.Features = sortedFeatures(rec.Features)
	out.UpdatedAt = s.now()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = out.UpdatedAt
	}
	return s.records.Set(ctx, recordKey(rec.UserID), out)
}

// Update moves the user to tier. Free records never expire; paid records are
// active for the tier's term starting now.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, tier catalog.Tier) (*Record, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	return s.mutate(ctx, userID, func(rec *Record, now time.Time) error {
		rec.applyPlan(s.catalog, tier)
		if tier == catalog.TierFree {
			rec.Status = StatusFreeTier
			rec.ExpiresAt = nil
			return nil
		}
		expires := now.Add(s.catalog.MustPlan(tier).Term)
		rec.Status = StatusActive
		rec.ExpiresAt = &expires
		return nil
	})
}

// Activate records a provider-confirmed subscription. A nil expiresAt falls
// back to the tier's term. Any prior status, expired included, becomes active.
func (s *Store) Activate(ctx context.Context, userID uuid.UUID, tier catalog.Tier, expiresAt *time.Time, providerSubID string) (*Record, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if tier == catalog.TierFree {
		return nil, ErrPaidTierRequired
	}
	return s.mutate(ctx, userID, func(rec *Record, now time.Time) error {
		rec.applyPlan(s.catalog, tier)
		expires := now.Add(s.catalog.MustPlan(tier).Term)
		if expiresAt != nil {
			expires = expiresAt.UTC()
		}
		rec.Status = StatusActive
		rec.ExpiresAt = &expires
		rec.LastValidated = now
		if providerSubID != "" {
			rec.ProviderSubscriptionID = providerSubID
		}
		return nil
	})
}

// Cancel resets the user to free defaults with status cancelled. Email and
// creation time survive.
func (s *Store) Cancel(ctx context.Context, userID uuid.UUID) (*Record, error) {
	return s.mutate(ctx, userID, func(rec *Record, now time.Time) error {
		fresh := newFreeRecord(s.catalog, userID, now)
		fresh.Status = StatusCancelled
		fresh.Email = rec.Email
		fresh.CreatedAt = rec.CreatedAt
		*rec = fresh
		return nil
	})
}

// SetEmail sets the address lifecycle notifications go to. An empty email
// clears it.
func (s *Store) SetEmail(ctx context.Context, userID uuid.UUID, email string) (*Record, error) {
	return s.mutate(ctx, userID, func(rec *Record, _ time.Time) error {
		rec.Email = strings.TrimSpace(email)
		return nil
	})
}

// UserIDs lists every user with a stored record.
func (s *Store) UserIDs(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := s.records.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		id, err := uuid.Parse(strings.TrimPrefix(k, keyPrefix))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// mutate applies fn to the current record, or to fresh free defaults, in one
// atomic update.
func (s *Store) mutate(ctx context.Context, userID uuid.UUID, fn func(rec *Record, now time.Time) error) (*Record, error) {
	rec, err := s.records.Update(ctx, recordKey(userID), func(cur Record, exists bool) (Record, error) {
		now := s.now()
		if !exists {
			cur = newFreeRecord(s.catalog, userID, now)
		}
		if err := fn(&cur, now); err != nil {
			return cur, err
		}
		cur.UpdatedAt = now
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
