package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shellflow/shellflow/pkg/events"
	"github.com/shellflow/shellflow/pkg/execctx"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/otelhelper"
	"github.com/shellflow/shellflow/pkg/persistence"
)

// interactionAnswerVariable is the SCRIPT-scope name an input interaction's
// answer is written to before the step executes.
const interactionAnswerVariable = "user_input"

const factsTimeout = 15 * time.Second

// run drives session through its per-step loop until a paused or terminal
// state. It owns exactly one borrowed connection for its whole duration; the
// deferred release guarantees the pool never leaks a lease, cancelled or not.
func (e *Engine) run(ctx context.Context, handle *activeSession, session *models.ExecutionSession, script *models.AggregatedScript, key models.ConnectionKey, execCtx *execctx.Context) error {
	conn, err := e.guard.GetConnection(ctx, key)
	if err != nil {
		return e.fail(session, err)
	}

	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			e.logger.Warn("Failed to release connection", "session_id", session.ID, "error", closeErr)
		}
	}()

	execCtx.Bind(conn)

	if err := e.deriveGlobalFacts(ctx, execCtx); err != nil {
		e.guard.ReportFailure(key, err)

		return e.fail(session, err)
	}

	if err := e.transition(ctx, session, models.SessionExecuting); err != nil {
		return err
	}

	for order := session.Cursor; order <= len(script.Steps); order++ {
		if ctx.Err() != nil {
			return e.finish(context.WithoutCancel(ctx), session, models.SessionCancelled, "cancelled")
		}

		if handle.pauseRequested() {
			session.ContextSnapshot = execctx.EncodeSnapshot(execCtx)
			session.Cursor = order

			if err := e.transition(ctx, session, models.SessionPaused); err != nil {
				return err
			}

			e.publish(events.SessionPaused{
				BaseEvent: e.base(events.SessionPausedEvent, session.ID),
				Cursor:    order,
			})

			return nil
		}

		step, ok := script.StepByOrder(order)
		if !ok {
			return e.fail(session, &models.ValidationError{
				Field:   "steps",
				Message: fmt.Sprintf("aggregated script %q has no step %d", script.ID, order),
			})
		}

		if err := e.runStep(ctx, session, step, key, execCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return e.finish(context.WithoutCancel(ctx), session, models.SessionCancelled, "cancelled")
			}

			return e.fail(session, err)
		}

		session.ContextSnapshot = execctx.EncodeSnapshot(execCtx)
		session.Cursor = order + 1

		if err := e.store.SaveSession(ctx, session); err != nil {
			return e.fail(session, err)
		}
	}

	started := session.StartedAt

	if err := e.finish(ctx, session, models.SessionCompleted, ""); err != nil {
		return err
	}

	e.publish(events.SessionCompleted{
		BaseEvent: e.base(events.SessionCompletedEvent, session.ID),
		Duration:  time.Since(started),
	})

	return nil
}

// runStep executes one step: condition gate, variable mapping, interaction,
// dispatch, record.
func (e *Engine) runStep(ctx context.Context, session *models.ExecutionSession, step models.Step, key models.ConnectionKey, execCtx *execctx.Context) error {
	atomic, err := e.catalog.GetAtomicScript(ctx, step.AtomicScriptID)
	if err != nil {
		return err
	}

	stepCtx, span := otelhelper.StartSpan(ctx, e.tracer, "step.run",
		attribute.String(otelhelper.SessionIDKey, session.ID),
		attribute.String(otelhelper.ScriptIDKey, atomic.ID),
		attribute.Int(otelhelper.StepOrderKey, step.ExecutionOrder),
	)
	defer span.End()

	if step.ConditionExpression != "" {
		condition, err := models.ParseCondition(step.ConditionExpression)
		if err != nil {
			return err
		}

		if !condition.Evaluate(execCtx.Lookup) {
			e.recordSkip(ctx, session, step, atomic, step.ConditionExpression)

			return nil
		}
	}

	execCtx.ClearScript()

	for _, mapping := range step.VariableMappings {
		targetType := models.VariableTypeString
		if declared, ok := atomic.InputVariables[mapping.Target]; ok {
			targetType = declared
		}

		if mapping.Literal != "" || mapping.Source == "" {
			execCtx.Set(mapping.Target, mapping.Literal, targetType, execctx.ScopeScript)

			continue
		}

		value, ok := execCtx.Lookup(mapping.Source)
		if !ok {
			return &models.ValidationError{
				Field:   "variable_mappings",
				Message: fmt.Sprintf("step %d maps %q which is not set", step.ExecutionOrder, mapping.Source),
			}
		}

		execCtx.Set(mapping.Target, value, targetType, execctx.ScopeScript)
	}

	if atomic.RequiresInteraction() {
		proceed, err := e.awaitInteraction(stepCtx, session, step, atomic, execCtx)
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		if !proceed {
			e.recordSkip(ctx, session, step, atomic, "declined by user")

			return nil
		}
	}

	record := models.StepRecord{
		ExecutionOrder: step.ExecutionOrder,
		AtomicScriptID: atomic.ID,
		Status:         models.StepRunning,
	}
	now := time.Now().UTC()
	record.StartedAt = &now
	session.RecordStep(record)

	outcome, err := e.runner.Run(stepCtx, session.ID, step.ExecutionOrder, atomic, execCtx)

	finished := time.Now().UTC()
	record.FinishedAt = &finished
	record.Duration = finished.Sub(now)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}

		// A transport drop mid-step counts against the key's breaker the
		// same way a failed borrow does.
		e.guard.ReportFailure(key, err)

		e.publish(events.StepFailed{
			BaseEvent: e.base(events.StepFailedEvent, session.ID),
			StepOrder: step.ExecutionOrder,
			StepName:  atomic.Name,
			Error:     err.Error(),
			Optional:  atomic.Optional,
		})

		// An optional step's failure is recorded but never fatal.
		if atomic.Optional {
			record.Status = models.StepSkipped
			record.Error = err.Error()
			session.RecordStep(record)

			e.appendLog(ctx, session.ID, "warn", fmt.Sprintf("optional step %d failed, continuing: %v", step.ExecutionOrder, err), step.ExecutionOrder)

			return nil
		}

		record.Status = models.StepFailed
		record.Error = err.Error()
		session.RecordStep(record)
		otelhelper.SetError(span, err)

		return err
	}

	if outcome.Skipped {
		record.Status = models.StepSkipped
		session.RecordStep(record)
		e.publish(events.StepSkipped{
			BaseEvent: e.base(events.StepSkippedEvent, session.ID),
			StepOrder: step.ExecutionOrder,
			StepName:  atomic.Name,
			Condition: atomic.ConditionExpression,
		})

		return nil
	}

	record.Status = models.StepCompleted
	record.ExitCode = outcome.Result.ExitCode
	record.Output = strings.TrimSpace(outcome.Result.Stdout)
	session.RecordStep(record)

	// Declared outputs survive the step so later mappings can reach them.
	for name := range outcome.Outputs {
		execCtx.Promote(name)
	}

	e.appendLog(ctx, session.ID, "info", fmt.Sprintf("step %d (%s) completed with exit code %d", step.ExecutionOrder, atomic.Name, outcome.Result.ExitCode), step.ExecutionOrder)

	return nil
}

// awaitInteraction pauses the session in a waiting state until the step's
// interaction resolves. Returns false when a confirmation was declined.
func (e *Engine) awaitInteraction(ctx context.Context, session *models.ExecutionSession, step models.Step, atomic *models.AtomicScript, execCtx *execctx.Context) (bool, error) {
	waiting := models.SessionWaitingInput
	if atomic.InteractionMode == models.InteractionConfirm || atomic.InteractionMode == models.InteractionRecommendConfirm {
		waiting = models.SessionWaitingConfirm
	}

	if err := e.transition(ctx, session, waiting); err != nil {
		return false, err
	}

	request := e.interactions.Request(session.ID, step.ExecutionOrder, atomic.InteractionMode, atomic.InteractionPrompt, atomic.InteractionOptions)
	e.sink.NotifyInteractionRequired(session.ID, request.Interaction)

	answer, err := e.interactions.Await(ctx, request, e.config.InteractionTimeout, atomic.MandatoryInput)
	if err != nil {
		return false, err
	}

	e.publish(events.InteractionResolved{
		BaseEvent:     e.base(events.InteractionResolvedEvent, session.ID),
		InteractionID: request.Interaction.ID,
		TimedOut:      answer.TimedOut,
	})

	if err := e.transition(ctx, session, models.SessionExecuting); err != nil {
		return false, err
	}

	switch atomic.InteractionMode {
	case models.InteractionConfirm, models.InteractionRecommendConfirm:
		return answer.Value == "yes", nil
	default:
		if answer.Sensitive {
			execCtx.SetSensitive(interactionAnswerVariable, answer.Value, execctx.ScopeScript)
		} else {
			execCtx.Set(interactionAnswerVariable, answer.Value, models.VariableTypeString, execctx.ScopeScript)
		}

		return true, nil
	}
}

func (e *Engine) recordSkip(ctx context.Context, session *models.ExecutionSession, step models.Step, atomic *models.AtomicScript, reason string) {
	session.RecordStep(models.StepRecord{
		ExecutionOrder: step.ExecutionOrder,
		AtomicScriptID: atomic.ID,
		Status:         models.StepSkipped,
	})

	e.publish(events.StepSkipped{
		BaseEvent: e.base(events.StepSkippedEvent, session.ID),
		StepOrder: step.ExecutionOrder,
		StepName:  atomic.Name,
		Condition: reason,
	})

	e.appendLog(ctx, session.ID, "info", fmt.Sprintf("step %d (%s) skipped: %s", step.ExecutionOrder, atomic.Name, reason), step.ExecutionOrder)
}

// deriveGlobalFacts populates GLOBAL scope from the connected host. Facts
// are best-effort; an unreachable probe fails the session because nothing
// later can be trusted either.
func (e *Engine) deriveGlobalFacts(ctx context.Context, execCtx *execctx.Context) error {
	probes := map[string]string{
		"os_name":   "uname -s",
		"os_arch":   "uname -m",
		"os_family": ". /etc/os-release 2>/dev/null && echo $ID || uname -s",
		"home_dir":  "echo $HOME",
	}

	for name, command := range probes {
		result, err := execCtx.Dispatch(ctx, command, factsTimeout)
		if err != nil {
			return err
		}

		if !result.Success() {
			continue
		}

		execCtx.Set(name, strings.ToLower(strings.TrimSpace(result.Stdout)), models.VariableTypeString, execctx.ScopeGlobal)
	}

	return nil
}

// transition moves the session's status, persisting the change. Illegal
// transitions are programming errors surfaced as validation failures.
func (e *Engine) transition(ctx context.Context, session *models.ExecutionSession, target models.SessionStatus) error {
	if session.Status == target {
		return nil
	}

	if !session.Status.CanTransitionTo(target) {
		return &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("illegal transition %s -> %s for session %s", session.Status, target, session.ID),
		}
	}

	session.Status = target

	return e.store.SaveSession(ctx, session)
}

// finish drives the session to a terminal state and persists it.
func (e *Engine) finish(ctx context.Context, session *models.ExecutionSession, target models.SessionStatus, message string) error {
	if session.Status.Terminal() {
		return nil
	}

	session.Status = target
	session.Error = message
	now := time.Now().UTC()
	session.FinishedAt = &now

	if err := e.store.SaveSession(ctx, session); err != nil {
		return err
	}

	if target == models.SessionCancelled {
		e.publish(events.SessionCancelled{
			BaseEvent: e.base(events.SessionCancelledEvent, session.ID),
			StepOrder: session.Cursor,
		})
	}

	return nil
}

// fail records the error on the session, transitions to FAILED and returns
// the original error for the caller.
func (e *Engine) fail(session *models.ExecutionSession, err error) error {
	ctx := context.Background()

	session.Status = models.SessionFailed
	session.Error = err.Error()
	now := time.Now().UTC()
	session.FinishedAt = &now

	if saveErr := e.store.SaveSession(ctx, session); saveErr != nil {
		e.logger.Error("Failed to persist failed session", "session_id", session.ID, "error", saveErr)
	}

	e.publish(events.SessionFailed{
		BaseEvent: e.base(events.SessionFailedEvent, session.ID),
		StepOrder: session.Cursor,
		Error:     err.Error(),
		Duration:  time.Since(session.StartedAt),
	})

	return err
}

func (e *Engine) appendLog(ctx context.Context, sessionID, level, message string, stepOrder int) {
	entry := persistence.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		StepOrder: stepOrder,
	}

	if err := e.store.AppendLog(ctx, sessionID, entry); err != nil {
		e.logger.Warn("Failed to append session log", "session_id", sessionID, "error", err)
	}
}
