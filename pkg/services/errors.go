// Package services coordinates workflow and user lifecycles over persistence
// and the activation registry.
package services

import (
	"errors"
	"fmt"

	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest       = errors.New("invalid request")
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrNoEmails             = errors.New("at least one email is required")
	ErrInvalidEmail         = errors.New("invalid email address")
	ErrCannotDeleteSelf     = errors.New("cannot delete your own user")
	ErrTransferToSelf       = errors.New("cannot transfer data to the user being deleted")
	ErrTransferTargetAbsent = errors.New("transfer target user does not exist")
	ErrInvalidInvite        = errors.New("invalid invitation")

	// Not Found (404). Missing and not shared are deliberately the same error.
	ErrNotFoundOrUnauthorized = errors.New("not found or not authorized")

	// Business Logic Conflicts (409 Conflict).
	ErrInviteAlreadyAccepted = errors.New("invitation was already accepted")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrNoEmails) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrCannotDeleteSelf) ||
		errors.Is(err, ErrTransferToSelf) ||
		errors.Is(err, ErrTransferTargetAbsent) ||
		errors.Is(err, ErrInvalidInvite)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFoundOrUnauthorized) || persistence.IsNotFound(err)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInviteAlreadyAccepted) || persistence.IsConflict(err)
}

// IsActivationError checks if trigger registration failed. It returns HTTP 400
// so the caller can fix the trigger configuration.
func IsActivationError(err error) bool {
	return activation.IsActivationError(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
