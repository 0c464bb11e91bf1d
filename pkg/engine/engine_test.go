package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/events"
	"github.com/shellflow/shellflow/pkg/interaction"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/remote"
	"github.com/shellflow/shellflow/pkg/resilience"
	"github.com/shellflow/shellflow/pkg/runner"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// respondFunc maps a dispatched command to its stdout. Returning blockUntil
// makes the command hang until its channel is closed.
type respondFunc func(command string) (stdout string, block bool)

type fakeChannel struct {
	respond respondFunc
	closed  chan struct{}
	once    sync.Once
}

func (ch *fakeChannel) Run(command string, stdout, _ io.Writer) error {
	out, block := ch.respond(command)
	if block {
		<-ch.closed

		return nil
	}

	_, _ = io.WriteString(stdout, out)

	return nil
}

func (ch *fakeChannel) Close() error {
	ch.once.Do(func() { close(ch.closed) })

	return nil
}

type fakeTransport struct {
	respond respondFunc
}

func (t *fakeTransport) OpenChannel() (remote.CommandChannel, error) {
	return &fakeChannel{respond: t.respond, closed: make(chan struct{})}, nil
}

func (t *fakeTransport) Ping() error { return nil }

func (t *fakeTransport) Close() error { return nil }

// memoryStore is an in-memory persistence.SessionStore.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.ExecutionSession
	logs     map[string][]persistence.LogEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		sessions: make(map[string]models.ExecutionSession),
		logs:     make(map[string][]persistence.LogEntry),
	}
}

func (s *memoryStore) SaveSession(_ context.Context, session *models.ExecutionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = *session

	return nil
}

func (s *memoryStore) LoadSession(_ context.Context, id string) (*models.ExecutionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}

	return &session, nil
}

func (s *memoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)

	return nil
}

func (s *memoryStore) ListSessions(_ context.Context) ([]*models.ExecutionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.ExecutionSession, 0, len(s.sessions))

	for id := range s.sessions {
		session := s.sessions[id]
		out = append(out, &session)
	}

	return out, nil
}

func (s *memoryStore) AppendLog(_ context.Context, sessionID string, entry persistence.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[sessionID] = append(s.logs[sessionID], entry)

	return nil
}

func (s *memoryStore) Logs(_ context.Context, sessionID string) ([]persistence.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.logs[sessionID], nil
}

func (s *memoryStore) HealthCheck(context.Context) error { return nil }

func (s *memoryStore) Close(context.Context) error { return nil }

// memoryCatalog is an in-memory catalog.Reader.
type memoryCatalog struct {
	atomic     map[string]*models.AtomicScript
	aggregated map[string]*models.AggregatedScript
}

func (c *memoryCatalog) GetAtomicScript(_ context.Context, id string) (*models.AtomicScript, error) {
	script, ok := c.atomic[id]
	if !ok {
		return nil, models.ErrScriptNotFound
	}

	return script, nil
}

func (c *memoryCatalog) GetAggregatedScript(_ context.Context, id string) (*models.AggregatedScript, error) {
	script, ok := c.aggregated[id]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}

	return script, nil
}

func (c *memoryCatalog) ListAggregatedScripts(context.Context) ([]*models.AggregatedScript, error) {
	out := make([]*models.AggregatedScript, 0, len(c.aggregated))
	for _, script := range c.aggregated {
		out = append(out, script)
	}

	return out, nil
}

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Notify(string, string, events.Phase, int, string) {}

func (s *recordingSink) NotifyInteractionRequired(string, *models.Interaction) {}

func (s *recordingSink) Publish(event events.Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) typesSeen() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]events.EventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.GetType())
	}

	return out
}

type harness struct {
	engine       *Engine
	pool         *remote.Pool
	store        *memoryStore
	sink         *recordingSink
	interactions *interaction.Manager
}

func testKey() models.ConnectionKey {
	return models.ConnectionKey{Username: "deploy", Host: "web-1.internal", Port: 22, CallerID: "test"}
}

func newHarness(t *testing.T, cat *memoryCatalog, respond respondFunc, config Config) *harness {
	t.Helper()

	factory := func(context.Context, models.ConnectionKey) (remote.Transport, error) {
		return &fakeTransport{respond: respond}, nil
	}

	pool, err := remote.NewPool(remote.PoolConfig{}, factory, testLogger)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = pool.Shutdown(ctx)
	})

	guard := resilience.NewGuard(pool, resilience.BreakerConfig{}, resilience.RetryConfig{
		MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
	}, testLogger)

	store := newMemoryStore()
	sink := &recordingSink{}
	interactions := interaction.NewManager(testLogger)

	eng := New(cat, guard, store, sink, interactions, runner.New(sink, testLogger), nil, testLogger, config)

	return &harness{engine: eng, pool: pool, store: store, sink: sink, interactions: interactions}
}

// factsResponder answers the engine's host fact probes.
func factsResponder(osFamily string) respondFunc {
	return func(command string) (string, bool) {
		switch {
		case command == "uname -s":
			return "Linux", false
		case command == "uname -m":
			return "x86_64", false
		case strings.Contains(command, "os-release") && strings.Contains(command, "echo $ID"):
			return osFamily, false
		case command == "echo $HOME":
			return "/root", false
		}

		return "", false
	}
}

func mirrorCatalog() *memoryCatalog {
	detectOS := &models.AtomicScript{
		ID: "detect-os", Name: "Detect operating system",
		Content: "cat /etc/os-release | head -1", Runtime: models.RuntimeShell,
		Status:           models.ScriptStatusActive,
		OutputVariables:  map[string]models.VariableType{"OS_TYPE": models.VariableTypeString},
		ExecutionTimeout: 5 * time.Second, Version: 1,
	}
	switchMirror := &models.AtomicScript{
		ID: "switch-mirror", Name: "Switch package mirror",
		Content: "switch-mirror-for ${TARGET_OS}", Runtime: models.RuntimeShell,
		Status:         models.ScriptStatusActive,
		InputVariables: map[string]models.VariableType{"TARGET_OS": models.VariableTypeString},
		Prerequisites: []models.Prerequisite{
			{Kind: models.PrerequisiteVariableSet, Target: "TARGET_OS"},
		},
		ExecutionTimeout: 5 * time.Second, Version: 1,
	}
	flow := &models.AggregatedScript{
		ID: "flow-mirror", Name: "Switch mirror by distribution", Status: models.ScriptStatusActive,
		Steps: []models.Step{
			{ExecutionOrder: 1, AtomicScriptID: "detect-os"},
			{
				ExecutionOrder:      2,
				AtomicScriptID:      "switch-mirror",
				ConditionExpression: "OS_TYPE == 'debian'",
				VariableMappings:    []models.VariableMapping{{Source: "OS_TYPE", Target: "TARGET_OS"}},
			},
		},
	}

	return &memoryCatalog{
		atomic:     map[string]*models.AtomicScript{"detect-os": detectOS, "switch-mirror": switchMirror},
		aggregated: map[string]*models.AggregatedScript{"flow-mirror": flow},
	}
}

func TestExecuteDebianRunsBothSteps(t *testing.T) {
	var (
		mu       sync.Mutex
		commands []string
	)

	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		mu.Lock()
		commands = append(commands, command)
		mu.Unlock()

		if strings.HasPrefix(command, "cat /etc/os-release") {
			return "debian", false
		}

		return facts(command)
	}

	h := newHarness(t, mirrorCatalog(), respond, Config{})

	session, err := h.engine.Execute(context.Background(), "flow-mirror", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	first, ok := session.StepRecordByOrder(1)
	require.True(t, ok)
	assert.Equal(t, models.StepCompleted, first.Status)
	assert.Equal(t, "debian", first.Output)

	second, ok := session.StepRecordByOrder(2)
	require.True(t, ok)
	assert.Equal(t, models.StepCompleted, second.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, commands, "switch-mirror-for debian", "mapped variable must resolve into the dispatched command")
}

func TestExecuteAlpineSkipsConditionalStep(t *testing.T) {
	facts := factsResponder("alpine")
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "cat /etc/os-release") {
			return "alpine", false
		}

		if strings.HasPrefix(command, "switch-mirror-for") {
			t.Error("conditional step must not dispatch when its condition is false")
		}

		return facts(command)
	}

	h := newHarness(t, mirrorCatalog(), respond, Config{})

	session, err := h.engine.Execute(context.Background(), "flow-mirror", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	second, ok := session.StepRecordByOrder(2)
	require.True(t, ok)
	assert.Equal(t, models.StepSkipped, second.Status)
	assert.Contains(t, h.sink.typesSeen(), events.StepSkippedEvent)
}

func TestExecuteTimeoutFailsSession(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"hang": {
				ID: "hang", Name: "Hangs forever", Content: "sleep 3600",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 50 * time.Millisecond, Version: 1,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-hang": {
				ID: "flow-hang", Name: "Hanging flow", Status: models.ScriptStatusActive,
				Steps: []models.Step{{ExecutionOrder: 1, AtomicScriptID: "hang"}},
			},
		},
	}

	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "sleep") {
			return "", true
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{})

	session, err := h.engine.Execute(context.Background(), "flow-hang", testKey())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindTimeout, models.KindOf(err))
	assert.Equal(t, models.SessionFailed, session.Status)

	record, ok := session.StepRecordByOrder(1)
	require.True(t, ok)
	assert.Equal(t, models.StepFailed, record.Status)
}

func TestExecuteOptionalStepFailureContinues(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"optional-hang": {
				ID: "optional-hang", Name: "Optional slow step", Content: "sleep 3600",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 50 * time.Millisecond, Version: 1, Optional: true,
			},
			"final": {
				ID: "final", Name: "Final step", Content: "echo done",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 5 * time.Second, Version: 1,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-opt": {
				ID: "flow-opt", Name: "Optional failure flow", Status: models.ScriptStatusActive,
				Steps: []models.Step{
					{ExecutionOrder: 1, AtomicScriptID: "optional-hang"},
					{ExecutionOrder: 2, AtomicScriptID: "final"},
				},
			},
		},
	}

	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "sleep") {
			return "", true
		}

		if strings.HasPrefix(command, "echo done") {
			return "done", false
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{})

	session, err := h.engine.Execute(context.Background(), "flow-opt", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	first, _ := session.StepRecordByOrder(1)
	assert.Equal(t, models.StepSkipped, first.Status)
	assert.NotEmpty(t, first.Error)

	second, _ := session.StepRecordByOrder(2)
	assert.Equal(t, models.StepCompleted, second.Status)
}

// droppingChannel answers probe commands but drops every script dispatch.
type droppingChannel struct {
	respond respondFunc
}

func (ch droppingChannel) Run(command string, stdout, _ io.Writer) error {
	if out, _ := ch.respond(command); out != "" {
		_, _ = io.WriteString(stdout, out)

		return nil
	}

	return errors.New("connection reset by peer")
}

func (droppingChannel) Close() error { return nil }

type droppingTransport struct {
	respond respondFunc
}

func (t droppingTransport) OpenChannel() (remote.CommandChannel, error) {
	return droppingChannel{respond: t.respond}, nil
}

func (droppingTransport) Ping() error { return nil }

func (droppingTransport) Close() error { return nil }

func TestExecuteFailuresOpenBreaker(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"probe-a": {
				ID: "probe-a", Name: "First probe", Content: "probe-disk",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 5 * time.Second, Version: 1, Optional: true,
			},
			"probe-b": {
				ID: "probe-b", Name: "Second probe", Content: "probe-memory",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 5 * time.Second, Version: 1, Optional: true,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-probes": {
				ID: "flow-probes", Name: "Host probes", Status: models.ScriptStatusActive,
				Steps: []models.Step{
					{ExecutionOrder: 1, AtomicScriptID: "probe-a"},
					{ExecutionOrder: 2, AtomicScriptID: "probe-b"},
				},
			},
		},
	}

	factory := func(context.Context, models.ConnectionKey) (remote.Transport, error) {
		return droppingTransport{respond: factsResponder("debian")}, nil
	}

	pool, err := remote.NewPool(remote.PoolConfig{}, factory, testLogger)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_ = pool.Shutdown(ctx)
	})

	guard := resilience.NewGuard(pool,
		resilience.BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute},
		resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		testLogger)

	store := newMemoryStore()
	interactions := interaction.NewManager(testLogger)
	eng := New(cat, guard, store, &recordingSink{}, interactions, runner.New(&recordingSink{}, testLogger), nil, testLogger, Config{})

	// Both optional steps lose their channel mid-flight; each drop counts
	// against the key's breaker.
	session, err := eng.Execute(context.Background(), "flow-probes", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	assert.Equal(t, resilience.BreakerOpen, guard.BreakerState(testKey()))

	_, err = eng.Execute(context.Background(), "flow-probes", testKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBreakerOpen)
}

func TestCancelReleasesConnections(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"hang": {
				ID: "hang", Name: "Hangs forever", Content: "sleep 3600",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: time.Hour, Version: 1,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-hang": {
				ID: "flow-hang", Name: "Hanging flow", Status: models.ScriptStatusActive,
				Steps: []models.Step{{ExecutionOrder: 1, AtomicScriptID: "hang"}},
			},
		},
	}

	dispatched := make(chan struct{}, 1)
	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "sleep") {
			select {
			case dispatched <- struct{}{}:
			default:
			}

			return "", true
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{})

	session, err := h.engine.Start(context.Background(), "flow-hang", testKey())
	require.NoError(t, err)

	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatal("step command never dispatched")
	}

	require.NoError(t, h.engine.Cancel(context.Background(), session.ID))
	h.engine.Wait()

	final, err := h.store.LoadSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, final.Status)

	for key, stats := range h.pool.Stats() {
		assert.Zero(t, stats.Borrowed, "key %s still has borrowed connections", key)
	}
}

func TestConfirmTimeoutAdvancesWithDefaultNo(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"confirm-reboot": {
				ID: "confirm-reboot", Name: "Reboot host", Content: "reboot",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				InteractionMode: models.InteractionConfirm, InteractionPrompt: "Reboot now?",
				ExecutionTimeout: 5 * time.Second, Version: 1,
			},
			"final": {
				ID: "final", Name: "Final step", Content: "echo done",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				ExecutionTimeout: 5 * time.Second, Version: 1,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-confirm": {
				ID: "flow-confirm", Name: "Confirmation flow", Status: models.ScriptStatusActive,
				Steps: []models.Step{
					{ExecutionOrder: 1, AtomicScriptID: "confirm-reboot"},
					{ExecutionOrder: 2, AtomicScriptID: "final"},
				},
			},
		},
	}

	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if command == "reboot" {
			t.Error("a declined confirmation must not dispatch the command")
		}

		if strings.HasPrefix(command, "echo done") {
			return "done", false
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{InteractionTimeout: 30 * time.Millisecond})

	session, err := h.engine.Execute(context.Background(), "flow-confirm", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status, "the engine must advance past an unanswered confirmation")

	first, _ := session.StepRecordByOrder(1)
	assert.Equal(t, models.StepSkipped, first.Status)

	second, _ := session.StepRecordByOrder(2)
	assert.Equal(t, models.StepCompleted, second.Status)
}

func TestConfirmAnsweredYesRunsStep(t *testing.T) {
	cat := &memoryCatalog{
		atomic: map[string]*models.AtomicScript{
			"confirm-reboot": {
				ID: "confirm-reboot", Name: "Reboot host", Content: "reboot",
				Runtime: models.RuntimeShell, Status: models.ScriptStatusActive,
				InteractionMode: models.InteractionConfirm, InteractionPrompt: "Reboot now?",
				ExecutionTimeout: 5 * time.Second, Version: 1,
			},
		},
		aggregated: map[string]*models.AggregatedScript{
			"flow-confirm": {
				ID: "flow-confirm", Name: "Confirmation flow", Status: models.ScriptStatusActive,
				Steps: []models.Step{{ExecutionOrder: 1, AtomicScriptID: "confirm-reboot"}},
			},
		},
	}

	rebooted := make(chan struct{}, 1)
	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if command == "reboot" {
			select {
			case rebooted <- struct{}{}:
			default:
			}
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{InteractionTimeout: 5 * time.Second})

	go func() {
		for i := 0; i < 100; i++ {
			pending := h.interactions.Pending("")
			if len(pending) == 1 {
				_ = h.interactions.Respond(pending[0].ID, "yes")

				return
			}

			time.Sleep(10 * time.Millisecond)
		}
	}()

	session, err := h.engine.Execute(context.Background(), "flow-confirm", testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	select {
	case <-rebooted:
	case <-time.After(time.Second):
		t.Fatal("confirmed step never dispatched")
	}
}

func TestPauseAndResume(t *testing.T) {
	cat := mirrorCatalog()

	release := make(chan struct{})
	dispatched := make(chan struct{}, 1)

	var once sync.Once

	facts := factsResponder("debian")
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "cat /etc/os-release") {
			once.Do(func() {
				dispatched <- struct{}{}
				<-release
			})

			return "debian", false
		}

		if strings.HasPrefix(command, "switch-mirror-for") {
			return "", false
		}

		return facts(command)
	}

	h := newHarness(t, cat, respond, Config{})

	session, err := h.engine.Start(context.Background(), "flow-mirror", testKey())
	require.NoError(t, err)

	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatal("first step never dispatched")
	}

	require.NoError(t, h.engine.Pause(session.ID))
	close(release)
	h.engine.Wait()

	paused, err := h.store.LoadSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, paused.Status)
	assert.Equal(t, 2, paused.Cursor, "the in-flight step finishes before pausing")
	assert.Equal(t, "string:debian", paused.ContextSnapshot["OS_TYPE"])

	resumed, err := h.engine.Resume(context.Background(), session.ID, testKey())
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, resumed.Status)

	second, ok := resumed.StepRecordByOrder(2)
	require.True(t, ok)
	assert.Equal(t, models.StepCompleted, second.Status)
}

func TestCancelTerminalSessionRejected(t *testing.T) {
	h := newHarness(t, mirrorCatalog(), factsResponder("debian"), Config{})

	session := models.NewExecutionSession("flow-mirror")
	session.Status = models.SessionCompleted
	require.NoError(t, h.store.SaveSession(context.Background(), session))

	err := h.engine.Cancel(context.Background(), session.ID)
	assert.ErrorIs(t, err, models.ErrSessionTerminal)
}

func TestExecuteUnknownScript(t *testing.T) {
	h := newHarness(t, mirrorCatalog(), factsResponder("debian"), Config{})

	_, err := h.engine.Execute(context.Background(), "flow-missing", testKey())
	assert.ErrorIs(t, err, models.ErrWorkflowNotFound)
}

func TestSessionEventsPublished(t *testing.T) {
	respond := func(command string) (string, bool) {
		if strings.HasPrefix(command, "cat /etc/os-release") {
			return "debian", false
		}

		return factsResponder("debian")(command)
	}

	h := newHarness(t, mirrorCatalog(), respond, Config{})

	_, err := h.engine.Execute(context.Background(), "flow-mirror", testKey())
	require.NoError(t, err)

	seen := h.sink.typesSeen()
	assert.Contains(t, seen, events.SessionStartedEvent)
	assert.Contains(t, seen, events.SessionCompletedEvent)
}
