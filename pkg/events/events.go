// Package events defines event types for session lifecycle and step progress
// notifications.
package events

import (
	"time"

	"github.com/shellflow/shellflow/pkg/models"
)

type EventType string

// Kafka topics.
const Topic = "shellflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Session lifecycle events.
	SessionStartedEvent   EventType = "session.started"
	SessionCompletedEvent EventType = "session.completed"
	SessionFailedEvent    EventType = "session.failed"
	SessionCancelledEvent EventType = "session.cancelled"
	SessionPausedEvent    EventType = "session.paused"
	SessionResumedEvent   EventType = "session.resumed"

	// Step progress events.
	StepProgressEvent EventType = "step.progress"
	StepSkippedEvent  EventType = "step.skipped"
	StepFailedEvent   EventType = "step.failed"

	// Interaction events.
	InteractionRequestedEvent EventType = "interaction.requested"
	InteractionResolvedEvent  EventType = "interaction.resolved"
)

// AllTypes lists every event type carried on the bus, for consumers that
// subscribe to the full stream.
func AllTypes() []EventType {
	return []EventType{
		SessionStartedEvent,
		SessionCompletedEvent,
		SessionFailedEvent,
		SessionCancelledEvent,
		SessionPausedEvent,
		SessionResumedEvent,
		StepProgressEvent,
		StepSkippedEvent,
		StepFailedEvent,
		InteractionRequestedEvent,
		InteractionResolvedEvent,
	}
}

// Phase labels a step's progress notifications.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseExecuting  Phase = "executing"
	PhaseCollecting Phase = "collecting"
)

type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	RunnerID  string    `json:"runner_id,omitempty"`
}

func (b BaseEvent) GetSessionID() string { return b.SessionID }

type SessionStarted struct {
	BaseEvent

	AggregatedScriptID string `json:"aggregated_script_id"`
}

func (e SessionStarted) GetType() EventType { return SessionStartedEvent }

type SessionCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e SessionCompleted) GetType() EventType { return SessionCompletedEvent }

type SessionFailed struct {
	BaseEvent

	StepOrder int           `json:"step_order,omitempty"`
	Error     string        `json:"error"`
	Duration  time.Duration `json:"duration"`
}

func (e SessionFailed) GetType() EventType { return SessionFailedEvent }

type SessionCancelled struct {
	BaseEvent

	StepOrder int `json:"step_order,omitempty"`
}

func (e SessionCancelled) GetType() EventType { return SessionCancelledEvent }

type SessionPaused struct {
	BaseEvent

	Cursor int `json:"cursor"`
}

func (e SessionPaused) GetType() EventType { return SessionPausedEvent }

type SessionResumed struct {
	BaseEvent

	Cursor int `json:"cursor"`
}

func (e SessionResumed) GetType() EventType { return SessionResumedEvent }

type StepProgress struct {
	BaseEvent

	StepOrder  int    `json:"step_order"`
	StepName   string `json:"step_name"`
	Phase      Phase  `json:"phase"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

func (e StepProgress) GetType() EventType { return StepProgressEvent }

type StepSkipped struct {
	BaseEvent

	StepOrder int    `json:"step_order"`
	StepName  string `json:"step_name"`
	Condition string `json:"condition,omitempty"`
}

func (e StepSkipped) GetType() EventType { return StepSkippedEvent }

type StepFailed struct {
	BaseEvent

	StepOrder int    `json:"step_order"`
	StepName  string `json:"step_name"`
	Error     string `json:"error"`
	Optional  bool   `json:"optional"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type InteractionRequested struct {
	BaseEvent

	Interaction *models.Interaction `json:"interaction"`
}

func (e InteractionRequested) GetType() EventType { return InteractionRequestedEvent }

type InteractionResolved struct {
	BaseEvent

	InteractionID string `json:"interaction_id"`
	TimedOut      bool   `json:"timed_out"`
}

func (e InteractionResolved) GetType() EventType { return InteractionResolvedEvent }
