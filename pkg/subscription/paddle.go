package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/catalog"
)

// PaddleConfig holds configuration for the Paddle billing provider. An empty
// API key disables Paddle.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

func (c PaddleConfig) Enabled() bool { return c.APIKey != "" }

type paddleTransactions interface {
	CreateTransaction(ctx context.Context, req *paddle.CreateTransactionRequest) (*paddle.Transaction, error)
}

type paddleSubscriptions interface {
	GetSubscription(ctx context.Context, req *paddle.GetSubscriptionRequest) (*paddle.Subscription, error)
}

type webhookVerifier interface {
	Verify(req *http.Request) (bool, error)
}

// PaddleProvider creates checkouts, parses webhooks and answers renewal
// checks against Paddle Billing.
type PaddleProvider struct {
	transactions  paddleTransactions
	subscriptions paddleSubscriptions
	verifier      webhookVerifier
	catalog       *catalog.Catalog
	clock         clockwork.Clock
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig, cat *catalog.Catalog) (*PaddleProvider, error) {
	if cat == nil {
		panic("subscription: catalog is required")
	}
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return newPaddleProvider(
		cat,
		client.TransactionsClient,
		client.SubscriptionsClient,
		paddle.NewWebhookVerifier(config.WebhookSecret),
	), nil
}

func newPaddleProvider(cat *catalog.Catalog, tx paddleTransactions, subs paddleSubscriptions, verifier webhookVerifier) *PaddleProvider {
	return &PaddleProvider{
		transactions:  tx,
		subscriptions: subs,
		verifier:      verifier,
		catalog:       cat,
		clock:         clockwork.NewRealClock(),
	}
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	UserID     uuid.UUID
	Tier       catalog.Tier
	Email      string // Optional billing email
	SuccessURL string // Redirect after successful payment
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateCheckoutLink creates a hosted checkout for the tier's price. The
// user id travels in custom data so webhooks can be matched back.
func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.UserID == uuid.Nil {
		return nil, ErrMissingCustomerID
	}
	plan, ok := p.catalog.Plan(req.Tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, req.Tier)
	}
	if plan.PriceID == "" {
		return nil, ErrMissingPriceID
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  plan.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"customer_id": req.UserID.String(),
		},
	}
	if req.Email != "" {
		// Paddle customers are created at checkout; the email rides along for support lookups.
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.transactions.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: p.clock.Now().UTC().Add(24 * time.Hour),
	}, nil
}

// Revalidate looks the subscription up in Paddle.
func (p *PaddleProvider) Revalidate(ctx context.Context, rec Record) (Entitlement, error) {
	if rec.ProviderSubscriptionID == "" {
		return Entitlement{}, nil
	}
	sub, err := p.subscriptions.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: rec.ProviderSubscriptionID,
	})
	if err != nil {
		return Entitlement{}, fmt.Errorf("paddle: get subscription %s: %w", rec.ProviderSubscriptionID, err)
	}

	ent := Entitlement{Active: billing(string(sub.Status))}
	if sub.CurrentBillingPeriod != nil {
		if t, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			t = t.UTC()
			ent.ExpiresAt = &t
		}
	}
	if len(sub.Items) > 0 {
		if tier, ok := p.catalog.TierForPrice(sub.Items[0].Price.ID); ok {
			ent.Tier = tier
		}
	}
	return ent, nil
}

// billing reports whether a Paddle subscription status still grants access.
func billing(status string) bool {
	switch strings.ToLower(status) {
	case "active", "trialing":
		return true
	}
	return false
}

// EventType represents the normalized billing event type.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionResumed   EventType = "subscription_resumed"

	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
)

// WebhookEvent represents a normalized webhook event from the billing provider.
type WebhookEvent struct {
	Type           EventType
	ProviderEvent  string
	SubscriptionID string
	CustomerID     string // our user id, from custom data
	Status         string
	PriceID        string
	// PeriodEndsAt is the end of the current billing period when present.
	PeriodEndsAt *time.Time
	Raw          map[string]any
}

// ParseWebhook verifies the Paddle-Signature header and normalises the payload.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	data := paddleEvent.Data
	event := &WebhookEvent{
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Status:        stringAt(data, "status"),
		CustomerID:    stringAt(data, "custom_data", "customer_id"),
		Raw:           data,
	}

	switch {
	case strings.HasPrefix(paddleEvent.EventType, "subscription."):
		event.SubscriptionID = stringAt(data, "id")
	case strings.HasPrefix(paddleEvent.EventType, "transaction."):
		event.SubscriptionID = stringAt(data, "subscription_id")
	}

	if items, ok := data["items"].([]any); ok && len(items) > 0 {
		if item, ok := items[0].(map[string]any); ok {
			event.PriceID = stringAt(item, "price", "id")
			if event.PriceID == "" {
				event.PriceID = stringAt(item, "price_id")
			}
		}
	}

	if ends := stringAt(data, "current_billing_period", "ends_at"); ends != "" {
		if t, err := time.Parse(time.RFC3339, ends); err == nil {
			t = t.UTC()
			event.PeriodEndsAt = &t
		}
	}

	return event, nil
}

// stringAt walks nested JSON objects and returns the string at path.
func stringAt(m map[string]any, path ...string) string {
	for i, key := range path {
		v, ok := m[key]
		if !ok {
			return ""
		}
		if i == len(path)-1 {
			s, _ := v.(string)
			return s
		}
		if m, ok = v.(map[string]any); !ok {
			return ""
		}
	}
	return ""
}

// mapPaddleEventType maps Paddle event types to internal EventType.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "transaction.completed", "subscription.created", "subscription.activated":
		return EventSubscriptionCreated
	case "subscription.updated":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "subscription.resumed":
		return EventSubscriptionResumed
	case "transaction.paid":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventType(paddleEvent)
	}
}
