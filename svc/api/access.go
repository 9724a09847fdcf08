package api

import (
	"github.com/google/uuid"

	"github.com/truthlens/entitlements/handler"
)

type accessRequest struct {
	UserID  uuid.UUID `path:"userID" json:"-"`
	Feature string    `json:"feature" validate:"required,max=64"`
	// Domain is a host or URL of the page being analysed.
	Domain string `json:"domain" validate:"max=2048"`
}

func (s *Service) getUsage(ctx handler.Context, req userRequest) handler.Response {
	stats, err := s.Tracker.GetStats(ctx, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(stats)
}

// recordUse counts a use without gating; callers that need the limit
// enforced use /access/use.
func (s *Service) recordUse(ctx handler.Context, req userRequest) handler.Response {
	stats, err := s.Tracker.RecordUse(ctx, req.UserID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(stats)
}

func (s *Service) checkAccess(ctx handler.Context, req accessRequest) handler.Response {
	d, err := s.Gate.CheckAccess(ctx, req.UserID, req.Feature, req.Domain)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(d)
}

func (s *Service) useFeature(ctx handler.Context, req accessRequest) handler.Response {
	res, err := s.Gate.UseFeatureWithUsageTracking(ctx, req.UserID, req.Feature, req.Domain)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(res)
}
