// Package persistence provides the session storage abstraction the workflow
// engine persists through. The engine never assumes the store is in-process.
package persistence

import (
	"context"
	"time"

	"github.com/shellflow/shellflow/pkg/models"
)

// LogEntry is one line of a session's execution log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	StepOrder int       `json:"step_order,omitempty"`
}

// SessionStore persists execution sessions and their context snapshots. The
// engine calls SaveSession at every state transition.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.ExecutionSession) error
	LoadSession(ctx context.Context, id string) (*models.ExecutionSession, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]*models.ExecutionSession, error)
	AppendLog(ctx context.Context, sessionID string, entry LogEntry) error
	Logs(ctx context.Context, sessionID string) ([]LogEntry, error)
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
