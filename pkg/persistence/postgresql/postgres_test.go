package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = testcontainers.TerminateContainer(postgresContainer)
	}

	os.Exit(code)
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"session_logs", "sessions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.SessionStore, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("shellflow_test"),
			postgres.WithUsername("shellflow"),
			postgres.WithPassword("shellflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewSessionStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func TestNewSessionStore_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'sessions')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "sessions table should exist")

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'session_logs')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "session_logs table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewSessionStore_HealthCheck(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	err := store.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestSessionStore_SaveAndLoad(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	session := models.NewExecutionSession("agg-install-nginx")
	session.Status = models.SessionExecuting
	session.Cursor = 2
	session.ContextSnapshot = map[string]string{
		"os_family":     "string:debian",
		"mirror_region": "string:eu-west",
	}
	session.RecordStep(models.StepRecord{
		ExecutionOrder: 1,
		AtomicScriptID: "detect-os",
		Status:         models.StepCompleted,
		ExitCode:       0,
		Output:         "debian",
	})

	err := store.SaveSession(ctx, session)
	require.NoError(t, err)

	loaded, err := store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, loaded.ID)
	assert.Equal(t, "agg-install-nginx", loaded.AggregatedScriptID)
	assert.Equal(t, models.SessionExecuting, loaded.Status)
	assert.Equal(t, 2, loaded.Cursor)
	assert.Equal(t, "string:debian", loaded.ContextSnapshot["os_family"])
	require.Len(t, loaded.StepRecords, 1)
	assert.Equal(t, "detect-os", loaded.StepRecords[0].AtomicScriptID)
}

func TestSessionStore_SaveIsUpsert(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	session := models.NewExecutionSession("agg-install-nginx")
	require.NoError(t, store.SaveSession(ctx, session))

	now := time.Now().UTC()
	session.Status = models.SessionCompleted
	session.FinishedAt = &now
	require.NoError(t, store.SaveSession(ctx, session))

	loaded, err := store.LoadSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, loaded.Status)
	require.NotNil(t, loaded.FinishedAt)
}

func TestSessionStore_LoadNotFound(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	_, err := store.LoadSession(ctx, "sess-missing")
	require.Error(t, err)
	assert.True(t, persistence.IsSessionNotFound(err))
}

func TestSessionStore_DeleteCascadesLogs(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	session := models.NewExecutionSession("agg-install-nginx")
	require.NoError(t, store.SaveSession(ctx, session))
	require.NoError(t, store.AppendLog(ctx, session.ID, persistence.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Message:   "step 1 started",
		StepOrder: 1,
	}))

	require.NoError(t, store.DeleteSession(ctx, session.ID))

	_, err := store.LoadSession(ctx, session.ID)
	assert.True(t, persistence.IsSessionNotFound(err))

	logs, err := store.Logs(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestSessionStore_ListSessions(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	first := models.NewExecutionSession("agg-one")
	second := models.NewExecutionSession("agg-two")
	require.NoError(t, store.SaveSession(ctx, first))
	require.NoError(t, store.SaveSession(ctx, second))

	sessions, err := store.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionStore_LogsOrdered(t *testing.T) {
	store, ctx, _ := setupTestDB(t)

	session := models.NewExecutionSession("agg-install-nginx")
	require.NoError(t, store.SaveSession(ctx, session))

	for _, msg := range []string{"step 1 started", "step 1 completed", "step 2 started"} {
		require.NoError(t, store.AppendLog(ctx, session.ID, persistence.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     "info",
			Message:   msg,
		}))
	}

	logs, err := store.Logs(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "step 1 started", logs[0].Message)
	assert.Equal(t, "step 2 started", logs[2].Message)
}
