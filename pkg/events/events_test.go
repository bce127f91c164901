package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(UserDeletedEvent)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, UserDeletedEvent, event.Type)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotNil(t, event.Metadata)
}

func TestNew(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  any
	}{
		{WorkflowTriggeredEvent, &WorkflowTriggered{}},
		{WorkflowActivatedEvent, &WorkflowActivated{}},
		{WorkflowDeactivatedEvent, &WorkflowDeactivated{}},
		{WorkflowActivationFailedEvent, &WorkflowActivationFailed{}},
		{WorkflowDeletedEvent, &WorkflowDeleted{}},
		{UserInvitedEvent, &UserInvited{}},
		{UserSignedUpEvent, &UserSignedUp{}},
		{UserDeletedEvent, &UserDeleted{}},
		{InviteEmailSentEvent, &InviteEmailSent{}},
		{InviteEmailFailedEvent, &InviteEmailFailed{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			event, ok := New(tt.eventType)
			require.True(t, ok)
			assert.IsType(t, tt.expected, event)

			typed, ok := event.(interface{ GetType() EventType })
			require.True(t, ok)
			assert.Equal(t, tt.eventType, typed.GetType())
		})
	}

	_, ok := New("unknown")
	assert.False(t, ok)
}

func TestUserDeleted_JSON(t *testing.T) {
	event := UserDeleted{
		BaseEvent:         NewBaseEvent(UserDeletedEvent),
		UserID:            "u1",
		DeletedBy:         "owner",
		MigrationStrategy: MigrationTransferData,
		TransferTargetID:  "u2",
		PreviousStatus:    "invited",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, "user.deleted", fields["type"])
	assert.Equal(t, "transfer_data", fields["migration_strategy"])
	assert.Equal(t, "u2", fields["transfer_target_id"])
	assert.Equal(t, "invited", fields["previous_status"])
}
