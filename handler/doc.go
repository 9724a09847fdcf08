// Package handler provides typed HTTP handlers for the JSON API.
//
// A HandlerFunc receives a bound and validated request struct and returns a
// Response. Wrap turns it into an http.HandlerFunc:
//
//	type setTierRequest struct {
//		UserID uuid.UUID    `path:"userID" json:"-"`
//		Tier   catalog.Tier `json:"tier" validate:"required,oneof=free premium enterprise"`
//	}
//
//	func setTier(ctx handler.Context, req setTierRequest) handler.Response {
//		rec, err := store.Update(ctx, req.UserID, req.Tier)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(rec)
//	}
//
//	r.Put("/users/{userID}/subscription/tier", handler.Wrap(setTier,
//		handler.WithBinders[handler.Context, setTierRequest](binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithValidator[handler.Context, setTierRequest](validate),
//	))
//
// Every body is the {data, meta, error} envelope built by JSON and JSONError.
// Binding, validation and rendering failures go to the ErrorHandler, which
// classifies them into a status code and an error key.
package handler
