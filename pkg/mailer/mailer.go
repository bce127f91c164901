// Package mailer delivers invitation emails.
package mailer

import (
	"context"
	"log/slog"
)

type Invite struct {
	InviterEmail string
	InviteeEmail string
	SignupURL    string
}

type Mailer interface {
	SendInvite(ctx context.Context, invite Invite) error
}

// LogMailer writes invitations to the log instead of sending them. It is the
// default when no mail transport is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mailer")}
}

func (m *LogMailer) SendInvite(ctx context.Context, invite Invite) error {
	m.logger.InfoContext(ctx, "Invitation email",
		"to", invite.InviteeEmail,
		"from", invite.InviterEmail,
		"signup_url", invite.SignupURL,
	)

	return nil
}
