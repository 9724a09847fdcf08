package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/truthlens/entitlements/handler"
)

var errUnauthorized = handler.HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}

// WithAdminToken enables PUT /users/{userID}/subscription/tier for callers
// presenting "Authorization: Bearer <token>". Without a token the route is
// not mounted, so tiers only change through checkout, webhooks and the
// validator.
func WithAdminToken(token string) Option {
	return func(s *Service) { s.adminToken = token }
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.adminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.errors(handler.NewContext(w, r), errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
