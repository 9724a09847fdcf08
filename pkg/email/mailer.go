package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EmailSender represents an interface for sending emails.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams represents the parameters for sending an email.
type SendEmailParams struct {
	SendTo   string `json:"send_to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	Tag      string `json:"tag,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidAddress reports whether s is a syntactically valid email address.
func ValidAddress(s string) bool {
	return validate.Var(s, "required,email") == nil
}

func (p SendEmailParams) Validate() error {
	switch {
	case strings.TrimSpace(p.SendTo) == "":
		return fmt.Errorf("%w: SendTo is required", ErrInvalidParams)
	case !ValidAddress(p.SendTo):
		return fmt.Errorf("%w: SendTo must be a valid email address", ErrInvalidParams)
	case strings.TrimSpace(p.Subject) == "":
		return fmt.Errorf("%w: Subject is required", ErrInvalidParams)
	case strings.TrimSpace(p.BodyHTML) == "":
		return fmt.Errorf("%w: BodyHTML is required", ErrInvalidParams)
	}
	return nil
}

// NewSender picks Postmark when both tokens are configured, then the
// on-disk dev sender, then a sender that drops everything.
func NewSender(cfg Config) (EmailSender, error) {
	switch {
	case cfg.PostmarkServerToken != "" || cfg.PostmarkAccountToken != "":
		return NewPostmarkClient(cfg)
	case cfg.DevDir != "":
		return NewDevSender(cfg.DevDir), nil
	default:
		return Discard{}, nil
	}
}

// Discard validates and drops messages.
type Discard struct{}

func (Discard) SendEmail(_ context.Context, params SendEmailParams) error {
	return params.Validate()
}
