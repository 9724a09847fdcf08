package templates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/pkg/email/templates"
)

func TestRender(t *testing.T) {
	t.Parallel()

	for _, name := range []templates.Name{
		templates.GracePeriodStarted,
		templates.SubscriptionExpired,
		templates.SubscriptionRenewed,
	} {
		t.Run(string(name), func(t *testing.T) {
			t.Parallel()
			body, err := templates.Render(name, templates.Data{
				Tier:      "premium",
				ExpiresAt: "2026-01-02",
				GraceEnds: "2026-01-09",
				ManageURL: "https://truthlens.app/account",
			})
			require.NoError(t, err)
			assert.Contains(t, body, "premium")
			assert.Contains(t, body, "https://truthlens.app/account")
			assert.NotEmpty(t, templates.Subject(name))
		})
	}
}

func TestRender_EscapesData(t *testing.T) {
	t.Parallel()

	body, err := templates.Render(templates.SubscriptionExpired, templates.Data{Tier: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "Manage subscription")
}

func TestRender_Unknown(t *testing.T) {
	t.Parallel()

	_, err := templates.Render("nope", templates.Data{})
	assert.ErrorIs(t, err, templates.ErrUnknownTemplate)
}
