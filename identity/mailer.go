package identity

import (
	"context"
	"time"

	auth "github.com/goliatone/go-budget-auth"
	"github.com/goliatone/go-print"
)

// PasswordResetMail is the payload handed to a Mailer
type PasswordResetMail struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailConfirmationMail carries the link token for a new account
type EmailConfirmationMail struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Mailer delivers account emails
type Mailer interface {
	SendPasswordReset(ctx context.Context, mail PasswordResetMail) error
	SendEmailConfirmation(ctx context.Context, mail EmailConfirmationMail) error
}

// LogMailer writes mails to the logger instead of sending them. Useful
// for local development.
type LogMailer struct {
	Logger auth.Logger
}

func (m LogMailer) SendPasswordReset(_ context.Context, mail PasswordResetMail) error {
	m.logger().Info("password reset mail: %s", print.MaybePrettyJSON(mail))
	return nil
}

func (m LogMailer) SendEmailConfirmation(_ context.Context, mail EmailConfirmationMail) error {
	m.logger().Info("email confirmation mail: %s", print.MaybePrettyJSON(mail))
	return nil
}

func (m LogMailer) logger() auth.Logger {
	if m.Logger == nil {
		return auth.NoopLogger{}
	}
	return m.Logger
}
