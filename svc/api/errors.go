package api

import (
	"errors"
	"net/http"

	"github.com/truthlens/entitlements/handler"
	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/kvstore"
	"github.com/truthlens/entitlements/pkg/lock"
	"github.com/truthlens/entitlements/pkg/prompt"
	"github.com/truthlens/entitlements/pkg/subscription"
)

var (
	errCheckoutDisabled = handler.HTTPError{Code: http.StatusNotImplemented, Key: "checkout_disabled"}
	errWebhooksDisabled = handler.HTTPError{Code: http.StatusNotImplemented, Key: "webhooks_disabled"}
)

var errorTable = []struct {
	target error
	as     handler.HTTPError
}{
	{kvstore.ErrStorage, handler.HTTPError{Code: http.StatusServiceUnavailable, Key: "storage_unavailable"}},
	{kvstore.ErrConflict, handler.HTTPError{Code: http.StatusServiceUnavailable, Key: "storage_contention"}},
	{lock.ErrNotAcquired, handler.HTTPError{Code: http.StatusServiceUnavailable, Key: "validation_in_progress"}},
	{subscription.ErrProviderUnavailable, handler.HTTPError{Code: http.StatusServiceUnavailable, Key: "provider_unavailable"}},

	{catalog.ErrUnknownTier, handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_tier"}},
	{subscription.ErrInvalidTier, handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_tier"}},
	{subscription.ErrPaidTierRequired, handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "paid_tier_required"}},
	{subscription.ErrMissingPriceID, handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "tier_not_purchasable"}},

	{prompt.ErrPromptNotFound, handler.HTTPError{Code: http.StatusNotFound, Key: "prompt_not_found"}},
	{prompt.ErrPromptNotDismissible, handler.HTTPError{Code: http.StatusConflict, Key: "prompt_not_dismissible"}},

	{subscription.ErrWebhookVerificationFailed, handler.HTTPError{Code: http.StatusUnauthorized, Key: "invalid_signature"}},
	{subscription.ErrInvalidWebhookPayload, handler.HTTPError{Code: http.StatusBadRequest, Key: "invalid_webhook_payload"}},
	{subscription.ErrNoCheckoutURL, handler.HTTPError{Code: http.StatusBadGateway, Key: "checkout_unavailable"}},
}

// mapError translates engine errors into API errors.
func mapError(err error) (handler.HTTPError, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.as, true
		}
	}
	return handler.HTTPError{}, false
}
