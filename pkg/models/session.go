package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state machine driving one run of an aggregated script.
type SessionStatus string

const (
	SessionPreparing      SessionStatus = "preparing"
	SessionExecuting      SessionStatus = "executing"
	SessionWaitingInput   SessionStatus = "waiting_input"
	SessionWaitingConfirm SessionStatus = "waiting_confirm"
	SessionPaused         SessionStatus = "paused"
	SessionCompleted      SessionStatus = "completed"
	SessionFailed         SessionStatus = "failed"
	SessionCancelled      SessionStatus = "cancelled"
)

// ValidSessionTransitions lists every legal state change. Any non-terminal
// state may additionally move to failed or cancelled.
var ValidSessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPreparing:      {SessionExecuting, SessionFailed, SessionCancelled},
	SessionExecuting:      {SessionWaitingInput, SessionWaitingConfirm, SessionPaused, SessionCompleted, SessionFailed, SessionCancelled},
	SessionWaitingInput:   {SessionExecuting, SessionFailed, SessionCancelled},
	SessionWaitingConfirm: {SessionExecuting, SessionFailed, SessionCancelled},
	SessionPaused:         {SessionExecuting, SessionFailed, SessionCancelled},
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	for _, allowed := range ValidSessionTransitions[s] {
		if allowed == target {
			return true
		}
	}

	return false
}

// StepStatus records the outcome of one step within a session.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// StepRecord is the per-step execution trace kept on the session.
type StepRecord struct {
	ExecutionOrder int           `json:"execution_order"`
	AtomicScriptID string        `json:"atomic_script_id"`
	Status         StepStatus    `json:"status"`
	ExitCode       int           `json:"exit_code,omitempty"`
	Output         string        `json:"output,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
}

// ExecutionSession is one in-progress or completed run of an aggregated
// script. It is mutated only by the workflow engine.
type ExecutionSession struct {
	ID                 string            `json:"id"                   validate:"required"`
	AggregatedScriptID string            `json:"aggregated_script_id" validate:"required"`
	Status             SessionStatus     `json:"status"               validate:"required"`
	ContextSnapshot    map[string]string `json:"context_snapshot,omitempty"`
	StepRecords        []StepRecord      `json:"step_records,omitempty"`
	Cursor             int               `json:"cursor"` // execution order of the next step to run
	Error              string            `json:"error,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         *time.Time        `json:"finished_at,omitempty"`
}

// NewExecutionSession creates a session in the preparing state with its
// cursor on the first step.
func NewExecutionSession(aggregatedScriptID string) *ExecutionSession {
	return &ExecutionSession{
		ID:                 "sess-" + uuid.New().String()[:8],
		AggregatedScriptID: aggregatedScriptID,
		Status:             SessionPreparing,
		Cursor:             1,
		StartedAt:          time.Now().UTC(),
	}
}

// RecordStep upserts the record for the given execution order.
func (s *ExecutionSession) RecordStep(record StepRecord) {
	for i, existing := range s.StepRecords {
		if existing.ExecutionOrder == record.ExecutionOrder {
			s.StepRecords[i] = record

			return
		}
	}

	s.StepRecords = append(s.StepRecords, record)
}

// StepRecordByOrder returns the record for the given execution order.
func (s *ExecutionSession) StepRecordByOrder(order int) (StepRecord, bool) {
	for _, record := range s.StepRecords {
		if record.ExecutionOrder == order {
			return record, true
		}
	}

	return StepRecord{}, false
}
