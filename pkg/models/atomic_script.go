// Package models defines the core domain models for remote script orchestration.
package models

import "time"

// ScriptRuntime identifies how an atomic script's content is executed on the
// remote host.
type ScriptRuntime string

const (
	RuntimeShell       ScriptRuntime = "shell"       // Executed directly by the remote login shell
	RuntimeInterpreter ScriptRuntime = "interpreter" // Piped into a declared interpreter binary
)

// ScriptStatus represents the lifecycle state of a catalog entry.
type ScriptStatus string

const (
	ScriptStatusActive   ScriptStatus = "active"
	ScriptStatusDraft    ScriptStatus = "draft"
	ScriptStatusInactive ScriptStatus = "inactive"
)

// VariableType is the declared shape of an input or output variable.
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeNumber  VariableType = "number"
	VariableTypeBoolean VariableType = "boolean"
)

// InteractionMode declares whether a step pauses for human input before it
// executes, and what kind of answer it expects.
type InteractionMode string

const (
	InteractionNone             InteractionMode = "none"
	InteractionConfirm          InteractionMode = "confirm"
	InteractionRecommendConfirm InteractionMode = "recommend_confirm"
	InteractionInput            InteractionMode = "input"
	InteractionPassword         InteractionMode = "password"
	InteractionForm             InteractionMode = "form"
	InteractionSelect           InteractionMode = "select"
	InteractionFile             InteractionMode = "file"
)

// PrerequisiteKind identifies the capability check a prerequisite performs.
type PrerequisiteKind string

const (
	// PrerequisiteCommandExists requires a command to be resolvable on the
	// remote host's PATH.
	PrerequisiteCommandExists PrerequisiteKind = "command_exists"
	// PrerequisiteVariableSet requires a context variable to be present and
	// non-empty before the step runs.
	PrerequisiteVariableSet PrerequisiteKind = "variable_set"
)

// Prerequisite is a capability check evaluated before an atomic script runs.
type Prerequisite struct {
	Kind   PrerequisiteKind `json:"kind"   validate:"required,oneof=command_exists variable_set"`
	Target string           `json:"target" validate:"required"`
}

// AtomicScript is an immutable catalog entry: the smallest executable unit.
// The engine references atomic scripts by ID and never mutates them.
type AtomicScript struct {
	ID                  string                  `json:"id"                             validate:"required"`
	Name                string                  `json:"name"                           validate:"required,min=3"`
	Description         string                  `json:"description,omitempty"`
	Content             string                  `json:"content"                        validate:"required"`
	Runtime             ScriptRuntime           `json:"runtime"                        validate:"required,oneof=shell interpreter"`
	Interpreter         string                  `json:"interpreter,omitempty"`
	Status              ScriptStatus            `json:"status"                         validate:"required,oneof=active draft inactive"`
	InputVariables      map[string]VariableType `json:"input_variables,omitempty"`
	OutputVariables     map[string]VariableType `json:"output_variables,omitempty"`
	Prerequisites       []Prerequisite          `json:"prerequisites,omitempty"`
	ConditionExpression string                  `json:"condition_expression,omitempty"`
	InteractionMode     InteractionMode         `json:"interaction_mode,omitempty"`
	InteractionPrompt   string                  `json:"interaction_prompt,omitempty"`
	InteractionOptions  []string                `json:"interaction_options,omitempty"`
	MandatoryInput      bool                    `json:"mandatory_input,omitempty"`
	EstimatedDuration   time.Duration           `json:"estimated_duration,omitempty"`
	ExecutionTimeout    time.Duration           `json:"execution_timeout"              validate:"required,gt=0"`
	RetryCount          int                     `json:"retry_count"                    validate:"gte=0"`
	NonIdempotent       bool                    `json:"non_idempotent,omitempty"`
	Optional            bool                    `json:"optional"`
	Version             int                     `json:"version"                        validate:"gte=1"`
	CreatedAt           time.Time               `json:"created_at"`
	UpdatedAt           time.Time               `json:"updated_at"`
}

// Executable reports whether the script may be run by the engine.
func (a *AtomicScript) Executable() bool {
	return a.Status == ScriptStatusActive
}

// RequiresInteraction reports whether a step running this script must pause
// for a human answer before executing.
func (a *AtomicScript) RequiresInteraction() bool {
	return a.InteractionMode != "" && a.InteractionMode != InteractionNone
}
