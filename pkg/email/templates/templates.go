// Package templates renders the HTML bodies of lifecycle emails.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
)

// Name identifies one embedded template.
type Name string

const (
	GracePeriodStarted  Name = "grace_period_started"
	SubscriptionExpired Name = "subscription_expired"
	SubscriptionRenewed Name = "subscription_renewed"
)

var ErrUnknownTemplate = errors.New("email: unknown template")

//go:embed html/*.html
var files embed.FS

var tmpl = template.Must(template.ParseFS(files, "html/*.html"))

// Data is what every lifecycle template can reference.
type Data struct {
	Tier      string
	ExpiresAt string
	GraceEnds string
	ManageURL string
}

// Subject returns the message subject for name.
func Subject(name Name) string {
	switch name {
	case GracePeriodStarted:
		return "Your TruthLens subscription needs attention"
	case SubscriptionExpired:
		return "Your TruthLens subscription has ended"
	case SubscriptionRenewed:
		return "Your TruthLens subscription is active again"
	}
	return ""
}

// Render executes the named template into a string.
func Render(name Name, data Data) (string, error) {
	t := tmpl.Lookup(string(name) + ".html")
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, t.Name(), data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
