package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/handler"
	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/gate"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/prompt"
	"github.com/truthlens/entitlements/pkg/ratelimiter"
	"github.com/truthlens/entitlements/pkg/subscription"
	"github.com/truthlens/entitlements/pkg/usage"
	"github.com/truthlens/entitlements/svc/api"
)

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Meta  map[string]any       `json:"meta"`
	Error *handler.ErrorDetail `json:"error"`
}

type fixture struct {
	srv   *httptest.Server
	clock *clockwork.FakeClock
}

func deps(kv kvstore.Store, clock clockwork.Clock) api.Deps {
	cat := catalog.Default()
	store := subscription.NewStore(kv, cat, subscription.WithStoreClock(clock))
	tracker := usage.NewTracker(kv, usage.NewSubscriptionLimits(store, cat), usage.WithClock(clock))
	return api.Deps{
		Catalog:   cat,
		Store:     store,
		Validator: subscription.NewValidator(store),
		Tracker:   tracker,
		Gate:      gate.New(store, tracker, cat, gate.WithClock(clock)),
		Prompts:   prompt.NewManager(kv, cat, prompt.WithClock(clock)),
	}
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	opts = append([]api.Option{api.WithAdminToken(adminToken)}, opts...)
	srv := httptest.NewServer(api.New(deps(kvstore.NewMemory(), clock), opts...).Handle())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	return call(t, f.srv, method, path, body, nil)
}

const adminToken = "operator-secret"

// admin calls an operator route with the fixture's admin token.
func (f *fixture) admin(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	return call(t, f.srv, method, path, body, http.Header{"Authorization": {"Bearer " + adminToken}})
}

func call(t *testing.T, srv *httptest.Server, method, path, body string, header http.Header) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	if res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	}
	return res.StatusCode, env
}

func data[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func userPath(id uuid.UUID, rest string) string {
	return "/v1/users/" + id.String() + rest
}

func TestTierOverrideRoute(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	path := userPath(id, "/subscription/tier")

	t.Run("not mounted without an admin token", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
		srv := httptest.NewServer(api.New(deps(kvstore.NewMemory(), clock)).Handle())
		t.Cleanup(srv.Close)

		code, env := call(t, srv, http.MethodPut, path, `{"tier":"premium"}`, nil)
		assert.Equal(t, http.StatusNotFound, code)
		require.NotNil(t, env.Error)

		code, env = call(t, srv, http.MethodGet, userPath(id, "/subscription"), "", nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, catalog.TierFree, data[subscription.Record](t, env).Tier)
	})

	t.Run("requires the token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		for _, h := range []http.Header{
			nil,
			{"Authorization": {"Bearer wrong"}},
			{"Authorization": {adminToken}},
		} {
			code, env := call(t, f.srv, http.MethodPut, path, `{"tier":"premium"}`, h)
			assert.Equal(t, http.StatusUnauthorized, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "unauthorized", env.Error.Code)
		}

		code, env := f.do(t, http.MethodGet, userPath(id, "/subscription"), "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, catalog.TierFree, data[subscription.Record](t, env).Tier)

		code, env = f.admin(t, http.MethodPut, path, `{"tier":"premium"}`)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, catalog.TierPremium, data[subscription.Record](t, env).Tier)
	})

	t.Run("validates the body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		for _, body := range []string{`{"tier":"gold"}`, `{}`} {
			code, env := f.admin(t, http.MethodPut, path, body)
			assert.Equal(t, http.StatusUnprocessableEntity, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "validation_error", env.Error.Code)
		}
	})
}

func TestSubscriptionRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := uuid.New()

	code, env := f.do(t, http.MethodGet, userPath(id, "/subscription"), "")
	require.Equal(t, http.StatusOK, code)
	rec := data[subscription.Record](t, env)
	assert.Equal(t, catalog.TierFree, rec.Tier)
	assert.Equal(t, subscription.StatusFreeTier, rec.Status)
	assert.Equal(t, false, env.Meta["validated"])

	code, env = f.admin(t, http.MethodPut, userPath(id, "/subscription/tier"), `{"tier":"premium"}`)
	require.Equal(t, http.StatusOK, code)
	rec = data[subscription.Record](t, env)
	assert.Equal(t, catalog.TierPremium, rec.Tier)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	require.NotNil(t, rec.ExpiresAt)

	code, env = f.do(t, http.MethodPut, userPath(id, "/subscription/email"), `{"email":"reader@example.com"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "reader@example.com", data[subscription.Record](t, env).Email)

	f.clock.Advance(rec.ExpiresAt.Sub(f.clock.Now()) + time.Hour)
	code, env = f.do(t, http.MethodPost, userPath(id, "/subscription/validate"), `{"force":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, subscription.StatusGracePeriod, data[subscription.Record](t, env).Status)
	assert.Equal(t, true, env.Meta["validated"])
	assert.Len(t, env.Meta["transitions"], 1)
	assert.Equal(t, "premium", env.Meta["effective_tier"])

	code, env = f.do(t, http.MethodPost, userPath(id, "/subscription/cancel"), "")
	require.Equal(t, http.StatusOK, code)
	rec = data[subscription.Record](t, env)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)
	assert.Equal(t, "reader@example.com", rec.Email)
}

func TestSubscriptionRoutes_ValidateWithoutBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	code, env := f.do(t, http.MethodPost, userPath(uuid.New(), "/subscription/validate"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, env.Meta["validated"], "force defaults to false")
}

func TestRequestErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := uuid.New()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed user id", http.MethodGet, "/v1/users/42/subscription", "", http.StatusBadRequest, "bad_request"},
		{"bad email", http.MethodPut, userPath(id, "/subscription/email"), `{"email":"reader"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown json field", http.MethodPost, userPath(id, "/access/check"), `{"feature":"x","admin":true}`, http.StatusBadRequest, "bad_request"},
		{"missing feature", http.MethodPost, userPath(id, "/access/check"), `{"domain":"ft.com"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"bad trigger", http.MethodPost, userPath(id, "/prompts/evaluate"), `{"trigger":"whenever"}`, http.StatusUnprocessableEntity, "validation_error"},
		{"usage percent over 100", http.MethodPost, userPath(id, "/prompts/evaluate"), `{"trigger":"usage_threshold","usage_percent":120}`, http.StatusUnprocessableEntity, "validation_error"},
		{"unknown prompt", http.MethodPost, userPath(id, "/prompts/nope/displayed"), "", http.StatusNotFound, "prompt_not_found"},
		{"not dismissible", http.MethodPost, userPath(id, "/prompts/limit_reached_modal/dismissed"), "", http.StatusConflict, "prompt_not_dismissible"},
		{"checkout disabled", http.MethodPost, userPath(id, "/checkout"), `{"tier":"premium"}`, http.StatusNotImplemented, "checkout_disabled"},
		{"webhooks disabled", http.MethodPost, "/v1/webhooks/paddle", `{}`, http.StatusNotImplemented, "webhooks_disabled"},
		{"unknown route", http.MethodGet, "/v1/nothing", "", http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodDelete, userPath(id, "/usage"), "", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, env := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAccessRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := uuid.New()

	code, env := f.do(t, http.MethodPost, userPath(id, "/access/check"), `{"feature":"fact_check"}`)
	require.Equal(t, http.StatusOK, code, "denials are decisions, not errors")
	d := data[gate.Decision](t, env)
	assert.False(t, d.Allowed)
	assert.Equal(t, gate.ReasonTierInsufficient, d.Reason)
	assert.Equal(t, catalog.TierPremium, d.RequiredTier)

	code, env = f.do(t, http.MethodPost, userPath(id, "/access/check"), `{"feature":"basic_analysis","domain":"https://www.ft.com/content/1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, gate.ReasonDomainRestricted, data[gate.Decision](t, env).Reason)

	for i := range 50 {
		code, env = f.do(t, http.MethodPost, userPath(id, "/access/use"), `{"feature":"basic_check"}`)
		require.Equal(t, http.StatusOK, code)
		require.True(t, data[gate.UseResult](t, env).Recorded, "use %d", i+1)
	}
	code, env = f.do(t, http.MethodPost, userPath(id, "/access/use"), `{"feature":"basic_analysis"}`)
	require.Equal(t, http.StatusOK, code)
	res := data[gate.UseResult](t, env)
	assert.False(t, res.Allowed)
	assert.Equal(t, gate.ReasonDailyLimitReached, res.Reason)

	code, env = f.do(t, http.MethodGet, userPath(id, "/usage"), "")
	require.Equal(t, http.StatusOK, code)
	stats := data[usage.Stats](t, env)
	assert.Equal(t, int64(50), stats.DailyUsed)
	assert.True(t, stats.LimitReached)
	assert.Equal(t, int64(0), stats.DailyRemaining)

	other := uuid.New()
	code, env = f.do(t, http.MethodPost, userPath(other, "/usage"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(1), data[usage.Stats](t, env).AllTimeTotal)
}

func TestPromptRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := uuid.New()

	code, env := f.do(t, http.MethodPost, userPath(id, "/prompts/evaluate"), `{"trigger":"limit_reached"}`)
	require.Equal(t, http.StatusOK, code)
	d := data[prompt.Decision](t, env)
	require.True(t, d.Show)
	assert.Equal(t, "limit_reached_modal", d.Prompt.ID)

	code, env = f.do(t, http.MethodPost, userPath(id, "/prompts/evaluate"), `{"trigger":"limit_reached","tier":"premium"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, data[prompt.Decision](t, env).Show, "paying users see no prompts")

	code, env = f.do(t, http.MethodPost, userPath(id, "/prompts/limit_reached_modal/displayed"), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, data[prompt.DisplayRecord](t, env).Displays)

	code, env = f.do(t, http.MethodPost, userPath(id, "/prompts/evaluate"), `{"trigger":"limit_reached"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, data[prompt.Decision](t, env).Show, "cooling down")

	code, _ = f.do(t, http.MethodPost, userPath(id, "/prompts/limit_reached_modal/converted"), "")
	require.Equal(t, http.StatusOK, code)

	code, env = f.do(t, http.MethodGet, userPath(id, "/prompts/analytics"), "")
	require.Equal(t, http.StatusOK, code)
	a := data[prompt.Analytics](t, env)
	assert.Equal(t, 1, a.TotalPrompts)
	assert.Equal(t, 1, a.Conversions)
	assert.InDelta(t, 100.0, a.ConversionRate, 0.001)

	premium := uuid.New()
	code, _ = f.admin(t, http.MethodPut, userPath(premium, "/subscription/tier"), `{"tier":"premium"}`)
	require.Equal(t, http.StatusOK, code)
	code, env = f.do(t, http.MethodPost, userPath(premium, "/prompts/evaluate"), `{"trigger":"limit_reached"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, data[prompt.Decision](t, env).Show, "tier defaults to the stored effective tier")
}

type mockCheckout struct{ mock.Mock }

func (m *mockCheckout) CreateCheckoutLink(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error) {
	args := m.Called(ctx, req)
	link, _ := args.Get(0).(*subscription.CheckoutLink)
	return link, args.Error(1)
}

type mockWebhooks struct{ mock.Mock }

func (m *mockWebhooks) Handle(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, string(payload), signature).Error(0)
}

func TestCheckout(t *testing.T) {
	t.Parallel()
	checkout := &mockCheckout{}
	f := newFixture(t, api.WithCheckout(checkout))
	id := uuid.New()

	checkout.On("CreateCheckoutLink", mock.Anything, subscription.CheckoutRequest{
		UserID:     id,
		Tier:       catalog.TierPremium,
		Email:      "reader@example.com",
		SuccessURL: "https://truthlens.app/welcome",
	}).Return(&subscription.CheckoutLink{URL: "https://pay.paddle.io/txn_1", SessionID: "txn_1"}, nil).Once()
	checkout.On("CreateCheckoutLink", mock.Anything, mock.Anything).
		Return(nil, subscription.ErrNoCheckoutURL).Once()

	code, env := f.do(t, http.MethodPost, userPath(id, "/checkout"),
		`{"tier":"premium","email":"reader@example.com","success_url":"https://truthlens.app/welcome"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "https://pay.paddle.io/txn_1", data[subscription.CheckoutLink](t, env).URL)

	code, env = f.do(t, http.MethodPost, userPath(id, "/checkout"), `{"tier":"enterprise"}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "checkout_unavailable", env.Error.Code)

	code, _ = f.do(t, http.MethodPost, userPath(id, "/checkout"), `{"tier":"free"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	checkout.AssertExpectations(t)
}

func TestPaddleWebhook(t *testing.T) {
	t.Parallel()
	hooks := &mockWebhooks{}
	f := newFixture(t, api.WithWebhooks(hooks))
	sig := http.Header{"Paddle-Signature": {"ts=1;h1=abc"}}

	hooks.On("Handle", mock.Anything, `{"event_type":"subscription.created"}`, "ts=1;h1=abc").Return(nil).Once()
	hooks.On("Handle", mock.Anything, `{"event_type":"forged"}`, "ts=1;h1=abc").
		Return(subscription.ErrWebhookVerificationFailed).Once()

	code, _ := call(t, f.srv, http.MethodPost, "/v1/webhooks/paddle", `{"event_type":"subscription.created"}`, sig)
	assert.Equal(t, http.StatusNoContent, code)

	code, env := call(t, f.srv, http.MethodPost, "/v1/webhooks/paddle", `{"event_type":"forged"}`, sig)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_signature", env.Error.Code)

	code, _ = call(t, f.srv, http.MethodPost, "/v1/webhooks/paddle", "", sig)
	assert.Equal(t, http.StatusBadRequest, code)
	hooks.AssertExpectations(t)
}

type brokenStore struct{}

var errDown = errors.Join(kvstore.ErrStorage, errors.New("dial tcp 10.0.0.7:6379: connection refused"))

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (brokenStore) Set(context.Context, string, []byte) error   { return errDown }
func (brokenStore) Remove(context.Context, string) error        { return errDown }
func (brokenStore) Keys(context.Context, string) ([]string, error) {
	return nil, errDown
}
func (brokenStore) Update(context.Context, string, kvstore.MutateFunc) ([]byte, error) {
	return nil, errDown
}

func TestStorageFailureIsServiceUnavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(api.New(deps(brokenStore{}, clockwork.NewFakeClock())).Handle())
	t.Cleanup(srv.Close)
	id := uuid.New()

	for _, path := range []string{"/subscription", "/usage", "/prompts/analytics"} {
		code, env := call(t, srv, http.MethodGet, userPath(id, path), "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, "storage_unavailable", env.Error.Code)
		assert.NotContains(t, env.Error.Message, "10.0.0.7")
	}
	code, _ := call(t, srv, http.MethodPost, userPath(id, "/access/check"), `{"feature":"basic_analysis"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(),
		ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)
	f := newFixture(t, api.WithRateLimit(limiter))

	alice, bob := uuid.New(), uuid.New()
	for range 2 {
		code, _ := f.do(t, http.MethodGet, userPath(alice, "/usage"), "")
		require.Equal(t, http.StatusOK, code)
	}

	res, err := f.srv.Client().Get(f.srv.URL + userPath(alice, "/usage"))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
	assert.Equal(t, "0", res.Header.Get("X-RateLimit-Remaining"))

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limited", env.Error.Code)

	code, _ := f.do(t, http.MethodGet, userPath(bob, "/usage"), "")
	assert.Equal(t, http.StatusOK, code)

	hz, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	hz.Body.Close()
	assert.Equal(t, http.StatusOK, hz.StatusCode)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
}

func TestNew_PanicsOnMissingDeps(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { api.New(api.Deps{}) })
}
