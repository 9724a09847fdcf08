package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/truthlens/entitlements/handler"
	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/subscription"
)

type userRequest struct {
	UserID uuid.UUID `path:"userID" json:"-"`
}

type validateRequest struct {
	UserID uuid.UUID `path:"userID" json:"-"`
	Force  bool      `json:"force"`
}

type tierRequest struct {
	UserID uuid.UUID    `path:"userID" json:"-"`
	Tier   catalog.Tier `json:"tier" validate:"required,oneof=free premium enterprise"`
}

type emailRequest struct {
	UserID uuid.UUID `path:"userID" json:"-"`
	Email  string    `json:"email" validate:"required,email,max=254"`
}

type checkoutRequest struct {
	UserID     uuid.UUID    `path:"userID" json:"-"`
	Tier       catalog.Tier `json:"tier" validate:"required,oneof=premium enterprise"`
	Email      string       `json:"email" validate:"omitempty,email,max=254"`
	SuccessURL string       `json:"success_url" validate:"omitempty,http_url"`
}

func (s *Service) validationResponse(res *subscription.Result) handler.Response {
	transitions := res.Transitions
	if transitions == nil {
		transitions = []subscription.Transition{}
	}
	return handler.JSON(res.Record, handler.WithJSONMeta(map[string]any{
		"validated":      res.Validated,
		"transitions":    transitions,
		"effective_tier": s.Store.EffectiveTier(res.Record),
	}))
}

// getSubscription revalidates when the record is due, then returns it.
func (s *Service) getSubscription(ctx handler.Context, req userRequest) handler.Response {
	res, err := s.Validator.Validate(ctx, req.UserID, false)
	if err != nil {
		return handler.Fail(err)
	}
	return s.validationResponse(res)
}

func (s *Service) validateSubscription(ctx handler.Context, req validateRequest) handler.Response {
	res, err := s.Validator.Validate(ctx, req.UserID, req.Force)
	if err != nil {
		return handler.Fail(err)
	}
	return s.validationResponse(res)
}

func (s *Service) updateTier(ctx handler.Context, req tierRequest) handler.Response {
	rec, err := s.Store.Update(ctx, req.UserID, req.Tier)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) setEmail(ctx handler.Context, req emailRequest) handler.Response {
	rec, err := s.Store.SetEmail(ctx, req.UserID, req.Email)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) cancelSubscription(ctx handler.Context, req userRequest) handler.Response {
	rec, err := s.Store.Cancel(ctx, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) createCheckout(ctx handler.Context, req checkoutRequest) handler.Response {
	if s.checkout == nil {
		return handler.Fail(errCheckoutDisabled)
	}
	link, err := s.checkout.CreateCheckoutLink(ctx, subscription.CheckoutRequest{
		UserID:     req.UserID,
		Tier:       req.Tier,
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
	})
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(link, handler.WithJSONStatus(http.StatusCreated))
}
