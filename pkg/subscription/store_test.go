package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/subscription"
)

var epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*subscription.Store, *clockwork.FakeClock, kvstore.Store) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	kv := kvstore.NewMemory()
	return subscription.NewStore(kv, catalog.Default(), subscription.WithStoreClock(clock)), clock, kv
}

func TestStore_GetCreatesFreeDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, kv := newStore(t)
	id := uuid.New()

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.UserID)
	assert.Equal(t, catalog.TierFree, rec.Tier)
	assert.Equal(t, subscription.StatusFreeTier, rec.Status)
	assert.Nil(t, rec.ExpiresAt)
	assert.True(t, rec.HasFeature("basic_analysis"))
	assert.False(t, rec.HasFeature("fact_check"))
	assert.Equal(t, 24*time.Hour, rec.ValidationInterval)
	assert.Equal(t, epoch, rec.CreatedAt)

	_, err = kv.Get(ctx, "subscription:"+id.String())
	require.NoError(t, err, "defaults are persisted")
}

func TestStore_GetIsStableUnderConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clock, _ := newStore(t)
	id := uuid.New()

	var wg sync.WaitGroup
	created := make([]time.Time, 20)
	for i := range created {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.Get(ctx, id)
			assert.NoError(t, err)
			created[i] = rec.CreatedAt
		}()
	}
	wg.Wait()
	clock.Advance(time.Hour)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	for _, c := range created {
		assert.Equal(t, rec.CreatedAt, c)
	}
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clock, _ := newStore(t)
	id := uuid.New()

	rec, err := store.Update(ctx, id, catalog.TierPremium)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	require.NotNil(t, rec.ExpiresAt)
	assert.Equal(t, epoch.Add(30*24*time.Hour), *rec.ExpiresAt)
	assert.Equal(t, 7*24*time.Hour, rec.GracePeriod)
	assert.True(t, rec.HasFeature("fact_check"))
	assert.True(t, rec.HasFeature("basic_analysis"))
	assert.False(t, rec.HasFeature("api_access"))

	clock.Advance(time.Hour)
	rec, err = store.Update(ctx, id, catalog.TierFree)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusFreeTier, rec.Status)
	assert.Nil(t, rec.ExpiresAt)
	assert.False(t, rec.HasFeature("fact_check"))
	assert.Equal(t, epoch, rec.CreatedAt)
	assert.Equal(t, epoch.Add(time.Hour), rec.UpdatedAt)

	_, err = store.Update(ctx, id, catalog.Tier("platinum"))
	assert.ErrorIs(t, err, subscription.ErrInvalidTier)
}

func TestStore_Activate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newStore(t)
	id := uuid.New()

	ends := epoch.Add(365 * 24 * time.Hour)
	rec, err := store.Activate(ctx, id, catalog.TierEnterprise, &ends, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	assert.Equal(t, ends, *rec.ExpiresAt)
	assert.Equal(t, "sub_123", rec.ProviderSubscriptionID)
	assert.Equal(t, epoch, rec.LastValidated)
	assert.True(t, rec.HasFeature("api_access"))

	t.Run("default term", func(t *testing.T) {
		t.Parallel()
		rec, err := store.Activate(ctx, uuid.New(), catalog.TierPremium, nil, "")
		require.NoError(t, err)
		assert.Equal(t, epoch.Add(30*24*time.Hour), *rec.ExpiresAt)
	})

	t.Run("free is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := store.Activate(ctx, uuid.New(), catalog.TierFree, nil, "")
		assert.ErrorIs(t, err, subscription.ErrPaidTierRequired)
	})
}

func TestStore_Cancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newStore(t)
	id := uuid.New()

	_, err := store.Activate(ctx, id, catalog.TierPremium, nil, "sub_1")
	require.NoError(t, err)
	_, err = store.SetEmail(ctx, id, " reader@example.com ")
	require.NoError(t, err)

	rec, err := store.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)
	assert.Equal(t, catalog.TierFree, rec.Tier)
	assert.Equal(t, catalog.TierFree, store.EffectiveTier(rec))
	assert.Nil(t, rec.ExpiresAt)
	assert.Empty(t, rec.ProviderSubscriptionID)
	assert.Equal(t, "reader@example.com", rec.Email)
	assert.False(t, rec.HasFeature("fact_check"))
}

func TestStore_Set(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newStore(t)
	id := uuid.New()

	err := store.Set(ctx, &subscription.Record{
		UserID:   id,
		Tier:     catalog.TierPremium,
		Status:   subscription.StatusGracePeriod,
		Features: []string{"fact_check", "basic_analysis", "fact_check"},
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusGracePeriod, rec.Status)
	assert.Equal(t, []string{"basic_analysis", "fact_check"}, rec.Features)

	assert.ErrorIs(t, store.Set(ctx, &subscription.Record{}), subscription.ErrInvalidRecord)
	assert.ErrorIs(t, store.Set(ctx, &subscription.Record{UserID: id, Tier: "gold", Status: subscription.StatusActive}), subscription.ErrInvalidTier)
	assert.ErrorIs(t, store.Set(ctx, &subscription.Record{UserID: id, Tier: catalog.TierFree, Status: "paused"}), subscription.ErrInvalidRecord)
}

func TestStore_UserIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, kv := newStore(t)

	a, b := uuid.New(), uuid.New()
	_, err := store.Get(ctx, a)
	require.NoError(t, err)
	_, err = store.Get(ctx, b)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "subscription:not-a-uuid", []byte("{}")))
	require.NoError(t, kv.Set(ctx, "usage:"+a.String(), []byte("{}")))

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, ids)
}

func TestRecord_EffectiveTier(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	tests := []struct {
		name      string
		status    subscription.Status
		expiresAt *time.Time
		want      catalog.Tier
	}{
		{"active", subscription.StatusActive, nil, catalog.TierPremium},
		{"grace", subscription.StatusGracePeriod, at(-2 * day), catalog.TierPremium},
		{"expired", subscription.StatusExpired, nil, catalog.TierFree},
		{"cancelled", subscription.StatusCancelled, nil, catalog.TierFree},
		{"active at grace end", subscription.StatusActive, at(-7 * day), catalog.TierPremium},
		{"active past grace end", subscription.StatusActive, at(-7*day - time.Second), catalog.TierFree},
		{"grace past grace end", subscription.StatusGracePeriod, at(-30 * day), catalog.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := subscription.Record{
				Tier:        catalog.TierPremium,
				Status:      tt.status,
				ExpiresAt:   tt.expiresAt,
				GracePeriod: 7 * day,
			}
			assert.Equal(t, tt.want, rec.EffectiveTier(now))
			assert.Equal(t, tt.status, rec.Status)
		})
	}
}
