package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/truthlens/entitlements/binder"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/requestid"
)

// ErrorMapper translates a domain error into an HTTPError. It reports false
// for errors it does not know.
type ErrorMapper func(err error) (HTTPError, bool)

// classify returns err with an HTTPError or ValidationError in its chain.
func classify(err error, mappers []ErrorMapper) error {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return err
	}
	for _, m := range mappers {
		if mapped, ok := m(err); ok {
			return fmt.Errorf("%w: %w", mapped, err)
		}
	}
	switch {
	case errors.Is(err, binder.ErrMissingContentType), errors.Is(err, binder.ErrUnsupportedMediaType):
		return fmt.Errorf("%w: %w", ErrUnsupportedMediaType, err)
	case errors.Is(err, binder.ErrInvalidJSON),
		errors.Is(err, binder.ErrInvalidPath),
		errors.Is(err, binder.ErrInvalidQuery):
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return fmt.Errorf("%w: %w", ErrInternalServerError, err)
}

func logLevel(status int) slog.Level {
	if status < http.StatusInternalServerError {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// NewErrorHandler renders errors as JSON envelopes and logs them, client
// errors at warn and server errors at error.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx Context, err error) {
		r := ctx.Request()
		classified := classify(err, mappers)
		resp := JSONError(classified).(*jsonResponse)

		log.LogAttrs(r.Context(), logLevel(resp.status), "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", resp.status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.Error("failed to render error response",
				logger.Error(renderErr),
				logger.Component("error_handler"),
			)
		}
	}
}

type errorResponse struct{ err error }

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error { return e.err }

// Fail hands err to the route's ErrorHandler, so domain errors returned by a
// handler are classified and logged like binding failures.
func Fail(err error) Response {
	if err == nil {
		err = ErrInternalServerError
	}
	return errorResponse{err: err}
}
