// Package notify delivers password-reset tokens and email verification codes to identities.
// Delivery mechanics (mail transport, templates) live outside this service.
package notify

import (
	"context"
	"log/slog"
)

// Notifier hands a secret to its owner. The secret is the raw value; only its digest is stored.
type Notifier interface {
	SendPasswordReset(ctx context.Context, entity, email, token string) error
	SendEmailVerification(ctx context.Context, entity, email, code string) error
}

// LogNotifier records that a notification would be delivered. It never logs the secret.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a LogNotifier writing to log (slog.Default() when nil).
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, entity, email, _ string) error {
	n.log.InfoContext(ctx, "password reset notification queued", "entity", entity, "email", email)
	return nil
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, entity, email, _ string) error {
	n.log.InfoContext(ctx, "email verification notification queued", "entity", entity, "email", email)
	return nil
}

// Multi fans out to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) SendPasswordReset(ctx context.Context, entity, email, token string) error {
	var first error
	for _, n := range m {
		if err := n.SendPasswordReset(ctx, entity, email, token); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) SendEmailVerification(ctx context.Context, entity, email, code string) error {
	var first error
	for _, n := range m {
		if err := n.SendEmailVerification(ctx, entity, email, code); err != nil && first == nil {
			first = err
		}
	}
	return first
}
