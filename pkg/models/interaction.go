package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interaction is one pending or resolved human-input request tied to a
// session and a step. It is resolved exactly once.
type Interaction struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	StepOrder   int             `json:"step_order"`
	Type        InteractionMode `json:"type"`
	Prompt      string          `json:"prompt"`
	Options     []string        `json:"options,omitempty"`
	Response    *string         `json:"response,omitempty"`
	Sensitive   bool            `json:"sensitive,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	RespondedAt *time.Time      `json:"responded_at,omitempty"`
}

// NewInteraction creates a pending interaction for a session step.
func NewInteraction(sessionID string, stepOrder int, mode InteractionMode, prompt string, options []string) *Interaction {
	return &Interaction{
		ID:        "int-" + uuid.New().String()[:8],
		SessionID: sessionID,
		StepOrder: stepOrder,
		Type:      mode,
		Prompt:    prompt,
		Options:   options,
		Sensitive: mode == InteractionPassword,
		CreatedAt: time.Now().UTC(),
	}
}

// Resolved reports whether a response has been recorded.
func (i *Interaction) Resolved() bool {
	return i.RespondedAt != nil
}

// ConnectionKey identifies one pooled connection target. Two borrowers with
// the same key share the same idle queue.
type ConnectionKey struct {
	Username string `json:"username" validate:"required"`
	Host     string `json:"host"     validate:"required"`
	Port     int    `json:"port"     validate:"required,gt=0"`
	CallerID string `json:"caller_id"`
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", k.Username, k.Host, k.Port, k.CallerID)
}
