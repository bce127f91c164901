// Package activation keeps the live set of workflows whose triggers are wired
// into the runtime.
package activation

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidewire/tidewire/pkg/models"
)

// Reason tells the registry why a workflow is being registered.
type Reason string

const (
	ReasonCreate   Reason = "create"
	ReasonActivate Reason = "activate"
	ReasonUpdate   Reason = "update"
	// ReasonInit is used when active workflows are restored at startup.
	ReasonInit Reason = "init"
)

var (
	ErrNoTriggerNodes     = errors.New("workflow has no trigger node; at least one enabled trigger is required to activate it")
	ErrAlreadyRegistered  = errors.New("workflow is already registered")
	ErrUnknownTriggerType = errors.New("unknown trigger type")
	ErrInvalidParameters  = errors.New("invalid trigger parameters")
	ErrClosed             = errors.New("activation registry is closed")
)

// Activator is the registration surface the lifecycle coordinator drives.
// Register either wires every trigger of the workflow or leaves nothing
// behind. Deregister never fails.
type Activator interface {
	Register(ctx context.Context, workflow *models.Workflow, reason Reason) error
	Deregister(ctx context.Context, workflowID string)
	IsActive(workflowID string) bool
}

// ActivationError reports why a workflow's triggers could not be registered.
type ActivationError struct {
	WorkflowID string
	NodeName   string
	Cause      error
}

func (e *ActivationError) Error() string {
	if e.NodeName != "" {
		return fmt.Sprintf("failed to activate workflow %s: node %q: %v", e.WorkflowID, e.NodeName, e.Cause)
	}

	return fmt.Sprintf("failed to activate workflow %s: %v", e.WorkflowID, e.Cause)
}

func (e *ActivationError) Unwrap() error {
	return e.Cause
}

// Message is the cause without the workflow prefix, suitable for API responses.
func (e *ActivationError) Message() string {
	if e.NodeName != "" {
		return fmt.Sprintf("node %q: %v", e.NodeName, e.Cause)
	}

	return e.Cause.Error()
}

func IsActivationError(err error) bool {
	var activationErr *ActivationError

	return errors.As(err, &activationErr)
}
