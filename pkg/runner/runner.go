// Package runner executes one atomic script against an execution context.
// The workflow engine drives it step by step; the runner owns validation,
// prerequisite checks, dispatch, the script's own retry policy and output
// variable collection.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shellflow/shellflow/pkg/events"
	"github.com/shellflow/shellflow/pkg/execctx"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
)

// Outcome is the result of running one atomic script.
type Outcome struct {
	// Skipped is set when the script's own condition gate evaluated false.
	// No command was dispatched.
	Skipped bool
	Result  *remote.Result
	// Outputs holds the declared output variables parsed from stdout,
	// already written into the context's SCRIPT scope.
	Outputs map[string]string
}

// Runner runs atomic scripts. It is stateless and safe to share.
type Runner struct {
	sink   events.Sink
	logger *slog.Logger
}

func New(sink events.Sink, logger *slog.Logger) *Runner {
	return &Runner{sink: sink, logger: logger}
}

// Run validates, gates, dispatches and collects one atomic script.
func (r *Runner) Run(ctx context.Context, sessionID string, stepOrder int, script *models.AtomicScript, execCtx *execctx.Context) (*Outcome, error) {
	if err := validateScript(script); err != nil {
		return nil, wrapStep(err, sessionID, stepOrder)
	}

	r.sink.Notify(sessionID, script.Name, events.PhasePreparing, 0, "validating prerequisites")

	if script.ConditionExpression != "" {
		condition, err := models.ParseCondition(script.ConditionExpression)
		if err != nil {
			return nil, wrapStep(&models.ValidationError{
				Field:   "condition_expression",
				Message: err.Error(),
			}, sessionID, stepOrder)
		}

		if !condition.Evaluate(execCtx.Lookup) {
			return &Outcome{Skipped: true}, nil
		}
	}

	if err := r.checkPrerequisites(ctx, script, execCtx); err != nil {
		return nil, wrapStep(err, sessionID, stepOrder)
	}

	r.sink.Notify(sessionID, script.Name, events.PhaseExecuting, 20, "executing")

	result, err := r.dispatchWithRetry(ctx, sessionID, script, execCtx)
	if err != nil {
		return nil, wrapStep(err, sessionID, stepOrder)
	}

	r.sink.Notify(sessionID, script.Name, events.PhaseCollecting, 90, "collecting output variables")

	outputs, err := collectOutputs(script, result.Stdout)
	if err != nil {
		return nil, wrapStep(err, sessionID, stepOrder)
	}

	for name, value := range outputs {
		execCtx.Set(name, value, script.OutputVariables[name], execctx.ScopeScript)
	}

	r.sink.Notify(sessionID, script.Name, events.PhaseCollecting, 100, "step finished")

	return &Outcome{Result: result, Outputs: outputs}, nil
}

func validateScript(script *models.AtomicScript) error {
	if strings.TrimSpace(script.Content) == "" {
		return &models.ValidationError{Field: "content", Message: "script content is empty"}
	}

	if script.ExecutionTimeout <= 0 {
		return &models.ValidationError{Field: "execution_timeout", Message: "timeout must be positive"}
	}

	if !script.Executable() {
		return &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("script %q is %s, not active", script.ID, script.Status),
		}
	}

	return nil
}

func (r *Runner) checkPrerequisites(ctx context.Context, script *models.AtomicScript, execCtx *execctx.Context) error {
	for _, prereq := range script.Prerequisites {
		switch prereq.Kind {
		case models.PrerequisiteVariableSet:
			if _, ok := execCtx.Lookup(prereq.Target); !ok {
				return models.NewFlowError(models.ErrKindPrecondition,
					fmt.Sprintf("set the %q variable before this step", prereq.Target),
					fmt.Errorf("required variable %q is not set", prereq.Target))
			}

		case models.PrerequisiteCommandExists:
			result, err := execCtx.Dispatch(ctx, "command -v "+prereq.Target, 10*time.Second)
			if err != nil {
				return err
			}

			if !result.Success() {
				return models.NewFlowError(models.ErrKindPrecondition,
					fmt.Sprintf("install %q on the target host", prereq.Target),
					fmt.Errorf("command %q not found on remote host", prereq.Target))
			}
		}
	}

	return nil
}

// dispatchWithRetry runs the script's command, honoring its own flat retry
// policy. A failed exit retries up to RetryCount times; scripts flagged
// non-idempotent never retry regardless of retry count.
func (r *Runner) dispatchWithRetry(ctx context.Context, sessionID string, script *models.AtomicScript, execCtx *execctx.Context) (*remote.Result, error) {
	attempts := 1
	if !script.NonIdempotent && script.RetryCount > 0 {
		attempts += script.RetryCount
	}

	var result *remote.Result

	for attempt := 1; attempt <= attempts; attempt++ {
		var err error

		result, err = execCtx.Dispatch(ctx, command(script), script.ExecutionTimeout)
		if err != nil {
			return nil, err
		}

		if result.TimedOut {
			return nil, models.NewFlowError(models.ErrKindTimeout,
				"increase the execution timeout or speed up the script",
				fmt.Errorf("script %q exceeded its %s timeout", script.ID, script.ExecutionTimeout))
		}

		if result.Success() {
			return result, nil
		}

		if attempt < attempts {
			r.logger.Warn("Script failed, retrying",
				"session_id", sessionID,
				"script_id", script.ID,
				"attempt", attempt,
				"exit_code", result.ExitCode)
		}
	}

	return nil, models.NewFlowError(models.ErrKindExecution,
		"inspect the captured stderr on the step record",
		fmt.Errorf("script %q exited %d after %d attempt(s): %s",
			script.ID, result.ExitCode, attempts, strings.TrimSpace(result.Stderr)))
}

// command renders the dispatched command text. Interpreter scripts are fed
// through a quoted heredoc so the content reaches the interpreter unexpanded.
func command(script *models.AtomicScript) string {
	if script.Runtime == models.RuntimeInterpreter {
		interpreter := script.Interpreter
		if interpreter == "" {
			interpreter = "sh"
		}

		return interpreter + " <<'SHELLFLOW_EOF'\n" + script.Content + "\nSHELLFLOW_EOF"
	}

	return script.Content
}

// collectOutputs parses stdout into the script's declared output variables.
// Lines of the form name=value bind declared names; when exactly one output
// is declared and no line names it, the whole trimmed stdout is taken as its
// value.
func collectOutputs(script *models.AtomicScript, stdout string) (map[string]string, error) {
	if len(script.OutputVariables) == 0 {
		return nil, nil
	}

	outputs := make(map[string]string, len(script.OutputVariables))

	for _, line := range strings.Split(stdout, "\n") {
		name, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}

		if _, declared := script.OutputVariables[name]; declared {
			outputs[name] = value
		}
	}

	if len(outputs) == 0 && len(script.OutputVariables) == 1 {
		for name := range script.OutputVariables {
			outputs[name] = strings.TrimSpace(stdout)
		}
	}

	for name, valueType := range script.OutputVariables {
		value, ok := outputs[name]
		if !ok {
			continue
		}

		coerced, err := coerce(value, valueType)
		if err != nil {
			return nil, &models.ValidationError{
				Field:   name,
				Message: fmt.Sprintf("output %q is not a valid %s", value, valueType),
			}
		}

		outputs[name] = coerced
	}

	return outputs, nil
}

func coerce(value string, valueType models.VariableType) (string, error) {
	switch valueType {
	case models.VariableTypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", err
		}

		return value, nil

	case models.VariableTypeBoolean:
		parsed, err := strconv.ParseBool(strings.ToLower(value))
		if err != nil {
			return "", err
		}

		return strconv.FormatBool(parsed), nil

	default:
		return value, nil
	}
}

func wrapStep(err error, sessionID string, stepOrder int) error {
	var flowErr *models.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.WithSession(sessionID, stepOrder)
	}

	return err
}
