// Package models provides standardized error types shared across the engine,
// the connection layer and the API surface.
package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind classifies a surfaced error for retry and breaker decisions.
type ErrorKind string

const (
	// ErrKindConnection covers unreachable hosts, auth failures and transport
	// drops. Retryable up to a bounded attempt count; feeds the breaker.
	ErrKindConnection ErrorKind = "connection"
	// ErrKindTimeout covers commands or interactions exceeding their bound.
	// Never retried automatically.
	ErrKindTimeout ErrorKind = "timeout"
	// ErrKindValidation covers malformed definitions, missing required inputs
	// and type mismatches. Never retried, never fed to the breaker.
	ErrKindValidation ErrorKind = "validation"
	// ErrKindSecurity covers inputs matching injection or traversal
	// signatures. Never retried, never fed to the breaker.
	ErrKindSecurity ErrorKind = "security"
	// ErrKindPrecondition covers unmet prerequisites.
	ErrKindPrecondition ErrorKind = "precondition"
	// ErrKindExecution covers a non-zero exit after exhausting the script's
	// own retry count.
	ErrKindExecution ErrorKind = "execution"
)

// FlowError is the error type surfaced by the core. It carries the failing
// session and step, a correlation id, and a human-actionable suggestion
// distinct from the underlying message.
type FlowError struct {
	Kind          ErrorKind
	CorrelationID string
	SessionID     string
	StepOrder     int
	Suggestion    string
	Err           error
}

func (e *FlowError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s error [%s] session=%s step=%d: %v", e.Kind, e.CorrelationID, e.SessionID, e.StepOrder, e.Err)
	}

	return fmt.Sprintf("%s error [%s]: %v", e.Kind, e.CorrelationID, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the connection layer may retry the operation.
// Only transient connection failures qualify.
func (e *FlowError) Retryable() bool {
	return e.Kind == ErrKindConnection
}

// TripsBreaker reports whether the failure counts against the circuit
// breaker for its pool key.
func (e *FlowError) TripsBreaker() bool {
	return e.Kind == ErrKindConnection || e.Kind == ErrKindTimeout
}

// WithSession attaches session and step identifiers.
func (e *FlowError) WithSession(sessionID string, stepOrder int) *FlowError {
	e.SessionID = sessionID
	e.StepOrder = stepOrder

	return e
}

// NewFlowError creates a classified error with a fresh correlation id.
func NewFlowError(kind ErrorKind, suggestion string, err error) *FlowError {
	return &FlowError{
		Kind:          kind,
		CorrelationID: uuid.New().String()[:8],
		Suggestion:    suggestion,
		Err:           err,
	}
}

// ValidationError pinpoints the offending field of a malformed definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Sentinel errors shared across packages.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInteractionNotFound = errors.New("interaction not found")
	ErrInteractionResolved = errors.New("interaction already resolved")
	ErrScriptNotFound      = errors.New("atomic script not found")
	ErrWorkflowNotFound    = errors.New("aggregated script not found")
	ErrSessionTerminal     = errors.New("session is in a terminal state")
	ErrPoolClosed          = errors.New("connection pool is closed")
	ErrBreakerOpen         = errors.New("circuit breaker is open")
)

// KindOf extracts the classification of err, defaulting to execution.
func KindOf(err error) ErrorKind {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Kind
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ErrKindValidation
	}

	return ErrKindExecution
}

// IsRetryable reports whether the connection layer may retry after err.
// Validation and security failures are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBreakerOpen) {
		return false
	}

	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Retryable()
	}

	return false
}
