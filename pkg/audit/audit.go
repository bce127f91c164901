// Package audit records user and workflow lifecycle events consumed from the
// event bus.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/metrics"
)

// Recorded event types. Trigger firings are left out; they are counted by
// the registry.
var recordedTypes = []events.EventType{
	events.WorkflowActivatedEvent,
	events.WorkflowDeactivatedEvent,
	events.WorkflowActivationFailedEvent,
	events.WorkflowDeletedEvent,
	events.UserInvitedEvent,
	events.UserSignedUpEvent,
	events.UserDeletedEvent,
	events.InviteEmailSentEvent,
	events.InviteEmailFailedEvent,
}

type Recorder struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{
		logger:  logger.With("module", "audit"),
		metrics: m,
	}
}

// Register installs the recorder for every lifecycle event type.
func (r *Recorder) Register(subscriber eventbus.EventSubscriber) error {
	for _, eventType := range recordedTypes {
		if err := subscriber.Handle(eventType, r.Record); err != nil {
			return fmt.Errorf("failed to handle %s: %w", eventType, err)
		}
	}

	return nil
}

// Record writes one audit line for event. It never fails; a bad event must
// not stall the subscription.
func (r *Recorder) Record(ctx context.Context, event any) error {
	level := slog.LevelInfo

	var (
		eventType events.EventType
		attrs     []any
	)

	switch e := event.(type) {
	case *events.WorkflowActivated:
		eventType = e.GetType()
		attrs = []any{"workflow_id", e.WorkflowID, "reason", e.Reason, "user_id", e.UserID}
	case *events.WorkflowDeactivated:
		eventType = e.GetType()
		attrs = []any{"workflow_id", e.WorkflowID, "user_id", e.UserID}
	case *events.WorkflowActivationFailed:
		eventType = e.GetType()
		level = slog.LevelWarn
		attrs = []any{"workflow_id", e.WorkflowID, "reason", e.Reason, "node_name", e.NodeName, "error", e.Error}
	case *events.WorkflowDeleted:
		eventType = e.GetType()
		attrs = []any{"workflow_id", e.WorkflowID, "user_id", e.UserID}
	case *events.UserInvited:
		eventType = e.GetType()
		attrs = []any{"inviter_id", e.InviterID, "user_ids", e.UserIDs}
	case *events.UserSignedUp:
		eventType = e.GetType()
		attrs = []any{"user_id", e.UserID, "inviter_id", e.InviterID}
	case *events.UserDeleted:
		eventType = e.GetType()
		attrs = []any{
			"user_id", e.UserID,
			"deleted_by", e.DeletedBy,
			"migration_strategy", e.MigrationStrategy,
			"transfer_target_id", e.TransferTargetID,
			"previous_status", e.PreviousStatus,
		}
	case *events.InviteEmailSent:
		eventType = e.GetType()
		attrs = []any{"user_id", e.UserID, "inviter_id", e.InviterID}
	case *events.InviteEmailFailed:
		eventType = e.GetType()
		level = slog.LevelWarn
		attrs = []any{"user_id", e.UserID, "inviter_id", e.InviterID, "error", e.Error}
	default:
		r.logger.WarnContext(ctx, "Ignoring unexpected event", "event", fmt.Sprintf("%T", event))

		return nil
	}

	r.metrics.LifecycleEvent(string(eventType))
	r.logger.Log(ctx, level, "Lifecycle event", append([]any{"event_type", eventType}, attrs...)...)

	return nil
}
