package subscription

import "errors"

var (
	ErrInvalidTier         = errors.New("subscription: invalid tier")
	ErrPaidTierRequired    = errors.New("subscription: activation requires a paid tier")
	ErrInvalidRecord       = errors.New("subscription: invalid record")
	ErrProviderUnavailable = errors.New("subscription: entitlement provider unavailable")

	// Paddle
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrInvalidWebhookPayload      = errors.New("invalid webhook payload")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
	ErrMissingPriceID             = errors.New("price ID is required")
	ErrMissingCustomerID          = errors.New("customer ID is required")
)
