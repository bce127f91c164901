// Package protocol defines the contracts between the activation registry and pluggable triggers.
package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback is invoked by a running trigger each time its event source fires.
type TriggerCallback func(ctx context.Context, data map[string]any) error

// Trigger connects a workflow to an external event source.
type Trigger interface {
	// Start attaches the trigger to its event source. It must return once the
	// trigger is listening; events are delivered through callback afterwards.
	Start(ctx context.Context, callback TriggerCallback) error

	// Stop detaches the trigger. Calling Stop on a trigger that never started is allowed.
	Stop(ctx context.Context) error

	Validate(ctx context.Context) error
}

// TriggerFactory creates triggers of one type from node parameters.
type TriggerFactory interface {
	Create(ctx context.Context, config map[string]any, logger *slog.Logger) (Trigger, error)

	// ID is the trigger type, matched against the node type suffix.
	ID() string

	Name() string

	Description() string

	// Schema returns the JSON schema node parameters must satisfy.
	Schema() map[string]any
}
