// Package notify renders and delivers transactional emails.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"costrologer/internal/core"

	"github.com/google/uuid"
)

// Email is a rendered message ready to send.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Validate rejects emails without a recipient.
func (e Email) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return core.ErrEmptyRecipient
	}
	return nil
}

// Notifier delivers an email and returns the provider's message id.
type Notifier interface {
	Send(ctx context.Context, email Email) (string, error)
}

// LogSender writes emails to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, email Email) (string, error) {
	if err := email.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	slog.InfoContext(ctx, "Email (log only)",
		"message_id", id,
		"to", email.To,
		"subject", email.Subject,
		"html_bytes", len(email.HTML))
	return id, nil
}
