// Package engine orchestrates aggregated-script executions: it owns the
// session state machine, the per-step loop and the pause, cancel and resume
// surface. One goroutine per session; the engine itself is safe for
// concurrent use.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/shellflow/shellflow/pkg/catalog"
	"github.com/shellflow/shellflow/pkg/events"
	"github.com/shellflow/shellflow/pkg/execctx"
	"github.com/shellflow/shellflow/pkg/interaction"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/otelhelper"
	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/resilience"
	"github.com/shellflow/shellflow/pkg/runner"
)

// Config bounds the engine's shared resources.
type Config struct {
	// MaxActiveSessions caps concurrently running sessions.
	MaxActiveSessions int
	// InteractionTimeout bounds how long a step waits for a human answer
	// before the default answer is substituted.
	InteractionTimeout time.Duration
}

const (
	defaultMaxActiveSessions  = 16
	defaultInteractionTimeout = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxActiveSessions <= 0 {
		c.MaxActiveSessions = defaultMaxActiveSessions
	}

	if c.InteractionTimeout <= 0 {
		c.InteractionTimeout = defaultInteractionTimeout
	}

	return c
}

// activeSession is the engine's handle on one running session goroutine.
type activeSession struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	paused bool
}

func (a *activeSession) requestPause() {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
}

func (a *activeSession) pauseRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.paused
}

// Engine executes aggregated scripts. Build it with every collaborator; none
// are optional.
type Engine struct {
	catalog      catalog.Reader
	guard        *resilience.Guard
	store        persistence.SessionStore
	sink         events.Sink
	interactions *interaction.Manager
	runner       *runner.Runner
	tracer       trace.Tracer
	logger       *slog.Logger
	config       Config

	mu     sync.Mutex
	active map[string]*activeSession
	sem    chan struct{}
	wg     sync.WaitGroup
}

func New(
	cat catalog.Reader,
	guard *resilience.Guard,
	store persistence.SessionStore,
	sink events.Sink,
	interactions *interaction.Manager,
	run *runner.Runner,
	tracer trace.Tracer,
	logger *slog.Logger,
	config Config,
) *Engine {
	config = config.withDefaults()

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("engine")
	}

	return &Engine{
		catalog:      cat,
		guard:        guard,
		store:        store,
		sink:         sink,
		interactions: interactions,
		runner:       run,
		tracer:       tracer,
		logger:       logger.With("module", "engine"),
		config:       config,
		active:       make(map[string]*activeSession),
		sem:          make(chan struct{}, config.MaxActiveSessions),
	}
}

// Execute runs an aggregated script to a terminal or paused state and
// returns the final session. It blocks the caller; Start is the asynchronous
// variant.
func (e *Engine) Execute(ctx context.Context, aggregatedScriptID string, key models.ConnectionKey) (*models.ExecutionSession, error) {
	script, err := e.catalog.GetAggregatedScript(ctx, aggregatedScriptID)
	if err != nil {
		return nil, err
	}

	if !script.Executable() {
		return nil, &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("aggregated script %q is %s, not active", script.ID, script.Status),
		}
	}

	session := models.NewExecutionSession(script.ID)

	if err := e.store.SaveSession(ctx, session); err != nil {
		return session, err
	}

	return e.launch(ctx, session, script, key, execctx.New(), true)
}

// Start launches a session asynchronously and returns it in PREPARING state.
func (e *Engine) Start(ctx context.Context, aggregatedScriptID string, key models.ConnectionKey) (*models.ExecutionSession, error) {
	script, err := e.catalog.GetAggregatedScript(ctx, aggregatedScriptID)
	if err != nil {
		return nil, err
	}

	if !script.Executable() {
		return nil, &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("aggregated script %q is %s, not active", script.ID, script.Status),
		}
	}

	session := models.NewExecutionSession(script.ID)

	if err := e.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		if _, err := e.launch(context.WithoutCancel(ctx), session, script, key, execctx.New(), true); err != nil {
			e.logger.Error("Session finished with error", "session_id", session.ID, "error", err)
		}
	}()

	return session, nil
}

// Resume continues a paused session from its persisted cursor. SESSION-scope
// variables are restored from the snapshot; GLOBAL-scope facts are re-derived
// from the host.
func (e *Engine) Resume(ctx context.Context, sessionID string, key models.ConnectionKey) (*models.ExecutionSession, error) {
	session, script, execCtx, err := e.prepareResume(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return e.launch(ctx, session, script, key, execCtx, false)
}

// StartResume relaunches a paused session asynchronously and returns it
// immediately. Validation failures still surface synchronously.
func (e *Engine) StartResume(ctx context.Context, sessionID string, key models.ConnectionKey) (*models.ExecutionSession, error) {
	session, script, execCtx, err := e.prepareResume(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		if _, err := e.launch(context.WithoutCancel(ctx), session, script, key, execCtx, false); err != nil {
			e.logger.Error("Session finished with error", "session_id", session.ID, "error", err)
		}
	}()

	return session, nil
}

func (e *Engine) prepareResume(ctx context.Context, sessionID string) (*models.ExecutionSession, *models.AggregatedScript, *execctx.Context, error) {
	session, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, err
	}

	if session.Status.Terminal() {
		return nil, nil, nil, fmt.Errorf("session %s is %s: %w", session.ID, session.Status, models.ErrSessionTerminal)
	}

	if session.Status != models.SessionPaused {
		return nil, nil, nil, &models.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("session %s is %s, only paused sessions resume", session.ID, session.Status),
		}
	}

	script, err := e.catalog.GetAggregatedScript(ctx, session.AggregatedScriptID)
	if err != nil {
		return nil, nil, nil, err
	}

	execCtx := execctx.DecodeSnapshot(session.ContextSnapshot)

	e.publish(events.SessionResumed{
		BaseEvent: e.base(events.SessionResumedEvent, session.ID),
		Cursor:    session.Cursor,
	})

	return session, script, execCtx, nil
}

// Cancel transitions a session to CANCELLED. A running session is
// interrupted preemptively; a paused or waiting one is cancelled in the
// store.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	handle, running := e.active[sessionID]
	e.mu.Unlock()

	if running {
		handle.cancel()

		return nil
	}

	session, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if session.Status.Terminal() {
		return fmt.Errorf("session %s is %s: %w", session.ID, session.Status, models.ErrSessionTerminal)
	}

	return e.finish(ctx, session, models.SessionCancelled, "cancelled by caller")
}

// Pause asks a running session to stop at the next step boundary. The
// in-flight step always finishes first.
func (e *Engine) Pause(sessionID string) error {
	e.mu.Lock()
	handle, running := e.active[sessionID]
	e.mu.Unlock()

	if !running {
		return fmt.Errorf("session %s is not running: %w", sessionID, models.ErrSessionNotFound)
	}

	handle.requestPause()

	return nil
}

// ActiveSessions lists ids of sessions currently holding a run slot.
func (e *Engine) ActiveSessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	return ids
}

// Wait blocks until every session goroutine started through Start has
// finished. Used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// launch acquires a run slot, registers the session and drives the step
// loop to a paused or terminal state.
func (e *Engine) launch(ctx context.Context, session *models.ExecutionSession, script *models.AggregatedScript, key models.ConnectionKey, execCtx *execctx.Context, fresh bool) (*models.ExecutionSession, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return session, ctx.Err()
	}
	defer func() { <-e.sem }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	handle := &activeSession{cancel: cancel}

	e.mu.Lock()
	e.active[session.ID] = handle
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, session.ID)
		e.mu.Unlock()
	}()

	spanCtx, span := otelhelper.StartSpan(runCtx, e.tracer, "session.run",
		attribute.String(otelhelper.SessionIDKey, session.ID),
		attribute.String(otelhelper.ScriptIDKey, script.ID),
		attribute.String(otelhelper.PoolKeyKey, key.String()),
	)
	defer span.End()

	if fresh {
		e.publish(events.SessionStarted{
			BaseEvent:          e.base(events.SessionStartedEvent, session.ID),
			AggregatedScriptID: script.ID,
		})
	}

	err := e.run(spanCtx, handle, session, script, key, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return session, err
}

func (e *Engine) base(eventType events.EventType, sessionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        "evt-" + uuid.New().String()[:8],
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	}
}

func (e *Engine) publish(event events.Event) {
	e.sink.Publish(event)
}
