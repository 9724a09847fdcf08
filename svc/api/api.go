// Package api exposes the entitlement engine over a JSON HTTP API.
//
// All routes live under /v1 and answer with the {data, meta, error} envelope.
// Denied access checks are decisions, not errors: they return 200 with
// allowed=false and a reason.
//
// The service trusts the user id in the path and is meant to sit behind the
// gateway that authenticates readers. Setting a tier directly is an operator
// action and is only served with WithAdminToken.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/truthlens/entitlements/binder"
	"github.com/truthlens/entitlements/handler"
	"github.com/truthlens/entitlements/pkg/catalog"
	"github.com/truthlens/entitlements/pkg/clientip"
	"github.com/truthlens/entitlements/pkg/gate"
	"github.com/truthlens/entitlements/pkg/httpserver"
	"github.com/truthlens/entitlements/pkg/logger"
	"github.com/truthlens/entitlements/pkg/prompt"
	"github.com/truthlens/entitlements/pkg/ratelimiter"
	"github.com/truthlens/entitlements/pkg/requestid"
	"github.com/truthlens/entitlements/pkg/subscription"
	"github.com/truthlens/entitlements/pkg/usage"
)

// CheckoutCreator starts a hosted checkout for a paid tier.
type CheckoutCreator interface {
	CreateCheckoutLink(ctx context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutLink, error)
}

// WebhookHandler verifies and applies a billing provider webhook.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// Deps are the engine components behind the API. All are required.
type Deps struct {
	Catalog   *catalog.Catalog
	Store     *subscription.Store
	Validator *subscription.Validator
	Tracker   *usage.Tracker
	Gate      *gate.Gate
	Prompts   *prompt.Manager
}

type Service struct {
	Deps
	checkout       CheckoutCreator
	webhooks       WebhookHandler
	limiter        *ratelimiter.Bucket
	adminToken     string
	checks         []httpserver.Check
	checkTimeout   time.Duration
	maxWebhookSize int64
	validate       *handler.Validator
	errors         handler.ErrorHandler[handler.Context]
	log            *slog.Logger
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCheckout enables POST /users/{userID}/checkout.
func WithCheckout(c CheckoutCreator) Option {
	return func(s *Service) { s.checkout = c }
}

// WithWebhooks enables POST /webhooks/paddle.
func WithWebhooks(w WebhookHandler) Option {
	return func(s *Service) { s.webhooks = w }
}

// WithRateLimit throttles the per-user routes, one bucket per user. Limiter
// failures let requests through.
func WithRateLimit(b *ratelimiter.Bucket) Option {
	return func(s *Service) { s.limiter = b }
}

// WithHealthChecks adds dependency probes to GET /healthz.
func WithHealthChecks(timeout time.Duration, checks ...httpserver.Check) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.checkTimeout = timeout
		}
		s.checks = append(s.checks, checks...)
	}
}

// New panics when a dependency is missing.
func New(deps Deps, opts ...Option) *Service {
	switch {
	case deps.Catalog == nil:
		panic("api: catalog is required")
	case deps.Store == nil:
		panic("api: subscription store is required")
	case deps.Validator == nil:
		panic("api: subscription validator is required")
	case deps.Tracker == nil:
		panic("api: usage tracker is required")
	case deps.Gate == nil:
		panic("api: feature gate is required")
	case deps.Prompts == nil:
		panic("api: prompt manager is required")
	}

	s := &Service{
		Deps:           deps,
		checkTimeout:   2 * time.Second,
		maxWebhookSize: 1 << 20,
		validate:       handler.NewValidator(),
		log:            logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errors = handler.NewErrorHandler(s.log, mapError)
	return s
}

// Handle returns the service's router.
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware, middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errors(handler.NewContext(w, r), handler.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errors(handler.NewContext(w, r), handler.ErrMethodNotAllowed)
	})

	r.Get("/healthz", httpserver.HealthCheckHandler(s.log, s.checkTimeout, s.checks...))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/paddle", route(s, s.paddleWebhook))

		r.Route("/users/{userID}", func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.rateLimit())
			}
			r.Get("/subscription", route(s, s.getSubscription))
			r.Post("/subscription/validate", route(s, s.validateSubscription, binder.JSON()))
			if s.adminToken != "" {
				r.With(s.requireAdmin).Put("/subscription/tier", route(s, s.updateTier, binder.JSON()))
			}
			r.Put("/subscription/email", route(s, s.setEmail, binder.JSON()))
			r.Post("/subscription/cancel", route(s, s.cancelSubscription))
			r.Post("/checkout", route(s, s.createCheckout, binder.JSON()))

			r.Get("/usage", route(s, s.getUsage))
			r.Post("/usage", route(s, s.recordUse))

			r.Post("/access/check", route(s, s.checkAccess, binder.JSON()))
			r.Post("/access/use", route(s, s.useFeature, binder.JSON()))

			r.Post("/prompts/evaluate", route(s, s.evaluatePrompt, binder.JSON()))
			r.Post("/prompts/{promptID}/displayed", route(s, s.promptDisplayed))
			r.Post("/prompts/{promptID}/dismissed", route(s, s.promptDismissed))
			r.Post("/prompts/{promptID}/converted", route(s, s.promptConverted))
			r.Get("/prompts/analytics", route(s, s.promptAnalytics))
		})
	})
	return r
}

var errRateLimited = handler.HTTPError{Code: http.StatusTooManyRequests, Key: "rate_limited"}

func (s *Service) rateLimit() func(http.Handler) http.Handler {
	return ratelimiter.Middleware(s.limiter,
		func(r *http.Request) string {
			if id := chi.URLParam(r, "userID"); id != "" {
				return "user:" + id
			}
			if ip := clientip.FromContext(r.Context()); ip != "" {
				return "ip:" + ip
			}
			return ""
		},
		ratelimiter.WithDeniedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.errors(handler.NewContext(w, r), errRateLimited)
		})),
		ratelimiter.WithFailOpen(true),
		ratelimiter.WithMiddlewareLogger(s.log),
	)
}

// route binds path parameters, then the given binders, and validates.
func route[R any](s *Service, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	all := append([]handler.Bind{binder.Path(chi.URLParam)}, binders...)
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](all...),
		handler.WithValidator[handler.Context, R](s.validate),
		handler.WithErrorHandler[handler.Context, R](s.errors),
	)
}
