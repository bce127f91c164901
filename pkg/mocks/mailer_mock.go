package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tidewire/tidewire/pkg/mailer"
)

// MockMailer is a mock implementation of mailer.Mailer interface.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendInvite(ctx context.Context, invite mailer.Invite) error {
	args := m.Called(ctx, invite)

	return args.Error(0)
}
