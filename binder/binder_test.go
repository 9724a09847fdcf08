package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/binder"
)

type tierRequest struct {
	UserID uuid.UUID `path:"userID" json:"-"`
	Prompt string    `path:"promptID" json:"-"`
	Tier   string    `json:"tier"`
	Force  bool      `json:"force"`
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestJSON(t *testing.T) {
	t.Parallel()
	bind := binder.JSON()

	t.Run("valid body", func(t *testing.T) {
		var req tierRequest
		require.NoError(t, bind(jsonRequest(`{"tier":"premium","force":true}`), &req))
		assert.Equal(t, "premium", req.Tier)
		assert.True(t, req.Force)
	})

	t.Run("charset parameter", func(t *testing.T) {
		r := jsonRequest(`{"tier":"free"}`)
		r.Header.Set("Content-Type", "application/json; charset=utf-8")
		var req tierRequest
		require.NoError(t, bind(r, &req))
		assert.Equal(t, "free", req.Tier)
	})

	t.Run("no body is not applicable", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var req tierRequest
		assert.ErrorIs(t, bind(r, &req), binder.ErrBinderNotApplicable)
	})

	tests := []struct {
		name        string
		body        string
		contentType string
		err         error
	}{
		{"missing content type", `{"tier":"free"}`, "", binder.ErrMissingContentType},
		{"wrong content type", `{"tier":"free"}`, "text/plain", binder.ErrUnsupportedMediaType},
		{"syntax error", `{"tier":`, "application/json", binder.ErrInvalidJSON},
		{"type mismatch", `{"force":"yes"}`, "application/json", binder.ErrInvalidJSON},
		{"unknown field", `{"tier":"free","admin":true}`, "application/json", binder.ErrInvalidJSON},
		{"trailing data", `{"tier":"free"}{}`, "application/json", binder.ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			var req tierRequest
			assert.ErrorIs(t, bind(r, &req), tt.err)
		})
	}
}

func TestPath(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	params := func(values map[string]string) func(*http.Request, string) string {
		return func(_ *http.Request, name string) string { return values[name] }
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	t.Run("binds uuid and string", func(t *testing.T) {
		var req tierRequest
		bind := binder.Path(params(map[string]string{"userID": id.String(), "promptID": "limit_reached_modal"}))
		require.NoError(t, bind(r, &req))
		assert.Equal(t, id, req.UserID)
		assert.Equal(t, "limit_reached_modal", req.Prompt)
		assert.Empty(t, req.Tier, "untagged fields are untouched")
	})

	t.Run("missing parameter keeps zero value", func(t *testing.T) {
		var req tierRequest
		require.NoError(t, binder.Path(params(nil))(r, &req))
		assert.Equal(t, uuid.Nil, req.UserID)
	})

	t.Run("malformed uuid", func(t *testing.T) {
		var req tierRequest
		err := binder.Path(params(map[string]string{"userID": "not-a-uuid"}))(r, &req)
		assert.ErrorIs(t, err, binder.ErrInvalidPath)
	})

	t.Run("numbers and bools", func(t *testing.T) {
		var req struct {
			Page   int  `path:"page"`
			Limit  uint `path:"limit"`
			Expand bool `path:"expand"`
		}
		bind := binder.Path(params(map[string]string{"page": "-2", "limit": "50", "expand": "true"}))
		require.NoError(t, bind(r, &req))
		assert.Equal(t, -2, req.Page)
		assert.Equal(t, uint(50), req.Limit)
		assert.True(t, req.Expand)
	})

	t.Run("bad targets", func(t *testing.T) {
		bind := binder.Path(params(nil))
		var req tierRequest
		assert.ErrorIs(t, bind(r, req), binder.ErrInvalidPath)
		var s string
		assert.ErrorIs(t, bind(r, &s), binder.ErrInvalidPath)
		assert.ErrorIs(t, binder.Path(nil)(r, &req), binder.ErrInvalidPath)
	})
}
