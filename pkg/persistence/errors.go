// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every entity-specific not found error.
	ErrNotFound = errors.New("not found")

	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrRoleNotFound       = fmt.Errorf("role %w", ErrNotFound)
	ErrWorkflowNotFound   = fmt.Errorf("workflow %w", ErrNotFound)
	ErrCredentialNotFound = fmt.Errorf("credential %w", ErrNotFound)
	ErrShareNotFound      = fmt.Errorf("share %w", ErrNotFound)

	// ErrConflict indicates a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")
)

// TransactionError wraps any failure inside a multi-statement transaction.
// When it is returned, no write made inside the transaction was kept.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction rolled back: %v", e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// NewTransactionError wraps err unless it already is a *TransactionError.
func NewTransactionError(err error) error {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return err
	}

	return &TransactionError{Err: err}
}

// IsNotFound checks if an error indicates an entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error indicates a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransactionError checks if an error came out of a rolled back transaction.
func IsTransactionError(err error) bool {
	var txErr *TransactionError

	return errors.As(err, &txErr)
}
