package api

import (
	"github.com/google/uuid"

	"github.com/truthlens/entitlements/handler"
	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/prompt"
)

type evaluateRequest struct {
	UserID  uuid.UUID       `path:"userID" json:"-"`
	Trigger catalog.Trigger `json:"trigger" validate:"required,oneof=premium_feature_attempt restricted_domain usage_threshold limit_reached engagement_milestone return_user"`
	// Tier defaults to the user's effective tier.
	Tier         catalog.Tier `json:"tier" validate:"omitempty,oneof=free premium enterprise"`
	Feature      string       `json:"feature" validate:"max=64"`
	UsagePercent float64      `json:"usage_percent" validate:"gte=0,lte=100"`
}

type promptRequest struct {
	UserID   uuid.UUID `path:"userID" json:"-"`
	PromptID string    `path:"promptID" json:"-" validate:"required,max=128"`
}

func (s *Service) evaluatePrompt(ctx handler.Context, req evaluateRequest) handler.Response {
	tier := req.Tier
	if tier == "" {
		rec, err := s.Store.Get(ctx, req.UserID)
		if err != nil {
			return handler.Fail(err)
		}
		tier = s.Store.EffectiveTier(rec)
	}

	d, err := s.Prompts.ShouldShowPrompt(ctx, req.UserID, req.Trigger, prompt.Context{
		Feature:      req.Feature,
		UsagePercent: req.UsagePercent,
	}, tier)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(d)
}

func (s *Service) promptDisplayed(ctx handler.Context, req promptRequest) handler.Response {
	rec, err := s.Prompts.RecordPromptDisplayed(ctx, req.UserID, req.PromptID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) promptDismissed(ctx handler.Context, req promptRequest) handler.Response {
	rec, err := s.Prompts.RecordPromptDismissed(ctx, req.UserID, req.PromptID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) promptConverted(ctx handler.Context, req promptRequest) handler.Response {
	rec, err := s.Prompts.RecordPromptConversion(ctx, req.UserID, req.PromptID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(rec)
}

func (s *Service) promptAnalytics(ctx handler.Context, req userRequest) handler.Response {
	a, err := s.Prompts.GetPromptAnalytics(ctx, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(a)
}
