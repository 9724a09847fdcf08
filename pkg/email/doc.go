// Package email sends transactional messages, currently the subscription
// lifecycle notices (grace period started, subscription expired, renewed).
//
// EmailSender is implemented by the Postmark client for production, by
// DevSender which writes messages to disk for local work, and by Discard.
// NewSender picks one from Config:
//
//	sender, err := email.NewSender(cfg)
//	if err != nil {
//	    return err
//	}
//	body, err := templates.Render(templates.GracePeriodStarted, data)
//
// Parameters are validated before any delivery; failures wrap
// ErrInvalidParams, ErrInvalidConfig or ErrFailedToSendEmail.
package email
