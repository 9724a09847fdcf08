package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/truthlens/entitlements/pkg/email"
	"github.com/truthlens/entitlements/pkg/email/templates"
	"github.com/truthlens/entitlements/pkg/logger"
)

// Notifier emails users when their subscription enters grace, expires, or is
// renewed out of grace.
type Notifier struct {
	sender    email.EmailSender
	manageURL string
	log       *slog.Logger
}

// NewNotifier panics when sender is nil. manageURL is linked from every
// message.
func NewNotifier(sender email.EmailSender, manageURL string, log *slog.Logger) *Notifier {
	if sender == nil {
		panic("subscription: email sender is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{sender: sender, manageURL: manageURL, log: log}
}

// Hook returns the TransitionHook that sends the messages. In a cascade only
// the step that lands on the record's final status is mailed.
func (n *Notifier) Hook() TransitionHook {
	return func(ctx context.Context, t Transition, rec Record) {
		if rec.Email == "" || t.To != rec.Status {
			return
		}
		name, ok := templateFor(t)
		if !ok {
			return
		}
		if err := n.send(ctx, name, rec); err != nil {
			n.log.ErrorContext(ctx, "lifecycle email not sent",
				logger.UserID(rec.UserID),
				logger.Event(string(name)),
				logger.Error(err),
			)
		}
	}
}

func templateFor(t Transition) (templates.Name, bool) {
	switch {
	case t.To == StatusGracePeriod:
		return templates.GracePeriodStarted, true
	case t.To == StatusExpired:
		return templates.SubscriptionExpired, true
	case t.From == StatusGracePeriod && t.To == StatusActive:
		return templates.SubscriptionRenewed, true
	}
	return "", false
}

func (n *Notifier) send(ctx context.Context, name templates.Name, rec Record) error {
	data := templates.Data{
		Tier:      string(rec.Tier),
		ManageURL: n.manageURL,
	}
	if rec.ExpiresAt != nil {
		data.ExpiresAt = rec.ExpiresAt.Format(time.DateOnly)
	}
	if end := rec.GraceEndsAt(); end != nil {
		data.GraceEnds = end.Format(time.DateOnly)
	}
	body, err := templates.Render(name, data)
	if err != nil {
		return err
	}
	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   rec.Email,
		Subject:  templates.Subject(name),
		BodyHTML: body,
		Tag:      string(name),
	})
}
