package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/truthlens/entitlements/handler"
)

var errPayloadTooLarge = handler.HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "payload_too_large"}

type webhookRequest struct{}

// paddleWebhook hands the raw body to the webhook handler, which verifies the
// Paddle-Signature header before trusting anything in it.
func (s *Service) paddleWebhook(ctx handler.Context, _ webhookRequest) handler.Response {
	if s.webhooks == nil {
		return handler.Fail(errWebhooksDisabled)
	}

	r := ctx.Request()
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, s.maxWebhookSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return handler.Fail(errPayloadTooLarge)
		}
		return handler.Fail(errors.Join(handler.ErrBadRequest, err))
	}
	if len(payload) == 0 {
		return handler.Fail(handler.ErrBadRequest)
	}

	if err := s.webhooks.Handle(ctx, payload, r.Header.Get("Paddle-Signature")); err != nil {
		return handler.Fail(err)
	}
	return handler.Empty()
}
