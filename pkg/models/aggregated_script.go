package models

import (
	"fmt"
	"time"
)

// VariableMapping copies one value into a step's SCRIPT-scope input before
// the step executes. Exactly one of Source or Literal is set: Source names a
// prior step's output variable, Literal carries a constant.
type VariableMapping struct {
	Source  string `json:"source,omitempty"`
	Literal string `json:"literal,omitempty"`
	Target  string `json:"target" validate:"required"`
}

// Step binds an atomic script into an aggregated script at a fixed position.
type Step struct {
	ExecutionOrder      int               `json:"execution_order" validate:"gte=1"`
	AtomicScriptID      string            `json:"atomic_script_id" validate:"required"`
	VariableMappings    []VariableMapping `json:"variable_mappings,omitempty"`
	ConditionExpression string            `json:"condition_expression,omitempty"`
}

// AggregatedScript is a named workflow: an ordered, conditional composition
// of atomic-script steps. It owns its steps by value.
type AggregatedScript struct {
	ID             string       `json:"id"              validate:"required"`
	Name           string       `json:"name"            validate:"required,min=3"`
	Description    string       `json:"description,omitempty"`
	Status         ScriptStatus `json:"status"          validate:"required,oneof=active draft inactive"`
	Steps          []Step       `json:"steps"           validate:"required,min=1,dive"`
	ConfigTemplate string       `json:"config_template,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ValidateSteps checks the structural invariants the engine relies on:
// execution order is a dense, strictly increasing sequence starting at 1, and
// every non-literal variable mapping references an output variable declared by
// an earlier step. The resolve function maps an atomic script ID to its
// definition.
func (a *AggregatedScript) ValidateSteps(resolve func(id string) (*AtomicScript, error)) error {
	available := map[string]struct{}{}

	for i, step := range a.Steps {
		if step.ExecutionOrder != i+1 {
			return &ValidationError{
				Field:   "execution_order",
				Message: fmt.Sprintf("steps of %q must be dense and strictly increasing: position %d has order %d", a.Name, i, step.ExecutionOrder),
			}
		}

		script, err := resolve(step.AtomicScriptID)
		if err != nil {
			return fmt.Errorf("step %d of %q references unknown atomic script %s: %w", step.ExecutionOrder, a.Name, step.AtomicScriptID, err)
		}

		for _, mapping := range step.VariableMappings {
			if mapping.Source == "" && mapping.Literal == "" {
				return &ValidationError{
					Field:   "variable_mappings",
					Message: fmt.Sprintf("step %d mapping to %q has neither source nor literal", step.ExecutionOrder, mapping.Target),
				}
			}

			if mapping.Source != "" {
				if _, ok := available[mapping.Source]; !ok {
					return &ValidationError{
						Field:   "variable_mappings",
						Message: fmt.Sprintf("step %d maps %q which no earlier step outputs", step.ExecutionOrder, mapping.Source),
					}
				}
			}
		}

		if step.ConditionExpression != "" {
			if _, err := ParseCondition(step.ConditionExpression); err != nil {
				return fmt.Errorf("step %d of %q: %w", step.ExecutionOrder, a.Name, err)
			}
		}

		for name := range script.OutputVariables {
			available[name] = struct{}{}
		}
	}

	return nil
}

// Executable reports whether the script may be run by the engine.
func (a *AggregatedScript) Executable() bool {
	return a.Status == ScriptStatusActive
}

// StepByOrder returns the step at the given execution order.
func (a *AggregatedScript) StepByOrder(order int) (Step, bool) {
	for _, step := range a.Steps {
		if step.ExecutionOrder == order {
			return step, true
		}
	}

	return Step{}, false
}
