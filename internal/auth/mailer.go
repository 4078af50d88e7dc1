package auth

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Mailer delivers e-mail tokens. Delivery itself lives outside this service.
type Mailer interface {
	SendVerification(ctx context.Context, to, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// LogMailer writes outgoing mail to the log. Tokens are logged at debug level only.
type LogMailer struct{}

// SendVerification logs a verification mail.
func (LogMailer) SendVerification(_ context.Context, to, token string) error {
	log.WithField("to", to).Info("mail: verification e-mail queued")
	log.WithFields(log.Fields{"to": to, "token": token}).Debug("mail: verification token")
	return nil
}

// SendPasswordReset logs a password reset mail.
func (LogMailer) SendPasswordReset(_ context.Context, to, token string) error {
	log.WithField("to", to).Info("mail: password reset e-mail queued")
	log.WithFields(log.Fields{"to": to, "token": token}).Debug("mail: password reset token")
	return nil
}
