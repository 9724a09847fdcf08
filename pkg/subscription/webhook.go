package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/truthlens/entitlements/pkg/logger"
)

// WebhookParser verifies and normalises a provider webhook.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// WebhookProcessor applies billing webhooks to the subscription store.
type WebhookProcessor struct {
	parser WebhookParser
	store  *Store
	log    *slog.Logger
}

// NewWebhookProcessor panics when parser or store is nil.
func NewWebhookProcessor(parser WebhookParser, store *Store, log *slog.Logger) *WebhookProcessor {
	if parser == nil {
		panic("subscription: webhook parser is required")
	}
	if store == nil {
		panic("subscription: store is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WebhookProcessor{parser: parser, store: store, log: log}
}

// Handle verifies payload and applies it. Events that do not change
// entitlements are acknowledged and ignored; past-due and paused
// subscriptions are left to the validator's expiry handling.
func (w *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := w.parser.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	userID, err := uuid.Parse(event.CustomerID)
	if err != nil {
		return errors.Join(ErrInvalidWebhookPayload, fmt.Errorf("invalid customer id %q: %w", event.CustomerID, err))
	}

	log := w.log.With(
		logger.UserID(userID),
		logger.Event(event.ProviderEvent),
		logger.Status(event.Status),
	)

	switch event.Type {
	case EventSubscriptionCancelled:
		return w.cancel(ctx, log, userID)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionResumed, EventPaymentSucceeded:
		switch event.Status {
		case "canceled", "cancelled":
			return w.cancel(ctx, log, userID)
		case "", "active", "trialing", "completed", "paid":
		default:
			log.InfoContext(ctx, "billing webhook ignored")
			return nil
		}
		tier, ok := w.store.catalog.TierForPrice(event.PriceID)
		if !ok {
			return fmt.Errorf("%w: unknown price %q", ErrInvalidWebhookPayload, event.PriceID)
		}
		rec, err := w.store.Activate(ctx, userID, tier, event.PeriodEndsAt, event.SubscriptionID)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "subscription activated", logger.Tier(string(rec.Tier)))
		return nil
	default:
		log.DebugContext(ctx, "billing webhook ignored")
		return nil
	}
}

func (w *WebhookProcessor) cancel(ctx context.Context, log *slog.Logger, userID uuid.UUID) error {
	if _, err := w.store.Cancel(ctx, userID); err != nil {
		return err
	}
	log.InfoContext(ctx, "subscription cancelled")
	return nil
}
