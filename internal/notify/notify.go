// Package notify delivers account emails carrying single-use tokens.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ma496/EasyForNet-sub002/internal/auth"
)

// Message is one outgoing email.
type Message struct {
	To       string
	Subject  string
	TextBody string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them. Local runs use it.
type LogSender struct {
	Logger logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("notify: recipient is required")
	}
	s.Logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"body":    msg.TextBody,
	}).Info("email not sent (log driver)")
	return nil
}

// Mailer turns issued tokens into emails with links under baseURL.
type Mailer struct {
	sender  Sender
	baseURL string
}

var _ auth.Notifier = (*Mailer)(nil)

// NewMailer builds a Mailer. baseURL is the externally visible site root.
func NewMailer(sender Sender, baseURL string) *Mailer {
	return &Mailer{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

// SendToken implements auth.Notifier.
func (m *Mailer) SendToken(ctx context.Context, user auth.User, purpose auth.TokenPurpose, value string, expiresAt time.Time) error {
	var subject, path, action string
	switch purpose {
	case auth.PurposeEmailVerification:
		subject, path, action = "Confirm your email address", "/confirm-email", "confirm your email address"
	case auth.PurposePasswordReset:
		subject, path, action = "Reset your password", "/reset-password", "choose a new password"
	default:
		return fmt.Errorf("notify: unsupported token purpose %q", purpose)
	}
	link := m.baseURL + path + "?token=" + url.QueryEscape(value)

	name := user.FirstName
	if name == "" {
		name = user.Username
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "Open the link below to %s:\n\n%s\n\n", action, link)
	fmt.Fprintf(&b, "The link expires at %s and works once.\n", expiresAt.UTC().Format(time.RFC1123))

	return m.sender.Send(ctx, Message{To: user.Email, Subject: subject, TextBody: b.String()})
}
