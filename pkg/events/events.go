// Package events defines event types and structures for workflow and user lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topic shared by every lifecycle event.
const Topic = "tidewire.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Workflow lifecycle events.
	WorkflowTriggeredEvent        EventType = "workflow.triggered"
	WorkflowActivatedEvent        EventType = "workflow.activated"
	WorkflowDeactivatedEvent      EventType = "workflow.deactivated"
	WorkflowActivationFailedEvent EventType = "workflow.activation_failed"
	WorkflowDeletedEvent          EventType = "workflow.deleted"

	// User lifecycle events.
	UserInvitedEvent       EventType = "user.invited"
	UserSignedUpEvent      EventType = "user.signed_up"
	UserDeletedEvent       EventType = "user.deleted"
	InviteEmailSentEvent   EventType = "invite.email.sent"
	InviteEmailFailedEvent EventType = "invite.email.failed"
)

// Migration strategies reported on user deletion.
const (
	MigrationTransferData = "transfer_data"
	MigrationDeleteData   = "delete_data"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

type WorkflowTriggered struct {
	BaseEvent

	WorkflowID  string         `json:"workflow_id"`
	TriggerID   string         `json:"trigger_id"`
	NodeName    string         `json:"node_name"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type WorkflowActivated struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason"`
	UserID     string `json:"user_id,omitempty"`
}

func (w WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

type WorkflowDeactivated struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	UserID     string `json:"user_id,omitempty"`
}

func (w WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}

type WorkflowActivationFailed struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Reason     string `json:"reason"`
	NodeName   string `json:"node_name,omitempty"`
	Error      string `json:"error"`
}

func (w WorkflowActivationFailed) GetType() EventType {
	return WorkflowActivationFailedEvent
}

type WorkflowDeleted struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	UserID     string `json:"user_id,omitempty"`
}

func (w WorkflowDeleted) GetType() EventType {
	return WorkflowDeletedEvent
}

type UserInvited struct {
	BaseEvent

	InviterID string   `json:"inviter_id"`
	UserIDs   []string `json:"user_ids"`
}

func (u UserInvited) GetType() EventType {
	return UserInvitedEvent
}

type UserSignedUp struct {
	BaseEvent

	UserID    string `json:"user_id"`
	InviterID string `json:"inviter_id,omitempty"`
}

func (u UserSignedUp) GetType() EventType {
	return UserSignedUpEvent
}

type UserDeleted struct {
	BaseEvent

	UserID            string `json:"user_id"`
	DeletedBy         string `json:"deleted_by"`
	MigrationStrategy string `json:"migration_strategy"`
	TransferTargetID  string `json:"transfer_target_id,omitempty"`
	PreviousStatus    string `json:"previous_status"`
}

func (u UserDeleted) GetType() EventType {
	return UserDeletedEvent
}

type InviteEmailSent struct {
	BaseEvent

	InviterID string `json:"inviter_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
}

func (i InviteEmailSent) GetType() EventType {
	return InviteEmailSentEvent
}

type InviteEmailFailed struct {
	BaseEvent

	InviterID string `json:"inviter_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Error     string `json:"error"`
}

func (i InviteEmailFailed) GetType() EventType {
	return InviteEmailFailedEvent
}

// New returns an empty event value for the given type, ready to be decoded
// into. The second result is false for unknown types.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case WorkflowTriggeredEvent:
		return &WorkflowTriggered{}, true
	case WorkflowActivatedEvent:
		return &WorkflowActivated{}, true
	case WorkflowDeactivatedEvent:
		return &WorkflowDeactivated{}, true
	case WorkflowActivationFailedEvent:
		return &WorkflowActivationFailed{}, true
	case WorkflowDeletedEvent:
		return &WorkflowDeleted{}, true
	case UserInvitedEvent:
		return &UserInvited{}, true
	case UserSignedUpEvent:
		return &UserSignedUp{}, true
	case UserDeletedEvent:
		return &UserDeleted{}, true
	case InviteEmailSentEvent:
		return &InviteEmailSent{}, true
	case InviteEmailFailedEvent:
		return &InviteEmailFailed{}, true
	default:
		return nil, false
	}
}
