// Package persistence provides standardized error types for store
// implementations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/shellflow/shellflow/pkg/models"
)

// SessionError wraps session store errors with operation context.
type SessionError struct {
	Op        string // Operation being performed (e.g., "Save", "Load")
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s operation failed for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSessionError creates a session error with context.
func NewSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{Op: op, SessionID: sessionID, Err: err}
}

// IsSessionNotFound checks whether an error indicates a missing session.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound)
}
