package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
)

func (s *SessionStore) SaveSession(ctx context.Context, session *models.ExecutionSession) error {
	snapshot, err := json.Marshal(session.ContextSnapshot)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	records, err := json.Marshal(session.StepRecords)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, aggregated_script_id, status, context_snapshot, step_records, cursor, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context_snapshot = EXCLUDED.context_snapshot,
			step_records = EXCLUDED.step_records,
			cursor = EXCLUDED.cursor,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, session.ID, session.AggregatedScriptID, string(session.Status), snapshot, records,
		session.Cursor, session.Error, session.StartedAt, session.FinishedAt)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

func (s *SessionStore) LoadSession(ctx context.Context, id string) (*models.ExecutionSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, aggregated_script_id, status, context_snapshot, step_records, cursor, error, started_at, finished_at
		FROM sessions WHERE id = $1
	`, id)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSessionError("Load", id, models.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("Load", id, err)
	}

	return session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return persistence.NewSessionError("Delete", id, err)
	}

	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context) ([]*models.ExecutionSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregated_script_id, status, context_snapshot, step_records, cursor, error, started_at, finished_at
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, persistence.NewSessionError("List", "", err)
	}
	defer rows.Close()

	var sessions []*models.ExecutionSession

	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, persistence.NewSessionError("List", "", err)
		}

		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewSessionError("List", "", err)
	}

	return sessions, nil
}

func (s *SessionStore) AppendLog(ctx context.Context, sessionID string, entry persistence.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_logs (session_id, logged_at, level, message, step_order)
		VALUES ($1, $2, $3, $4, $5)
	`, sessionID, entry.Timestamp, entry.Level, entry.Message, entry.StepOrder)
	if err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	return nil
}

func (s *SessionStore) Logs(ctx context.Context, sessionID string) ([]persistence.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT logged_at, level, message, COALESCE(step_order, 0)
		FROM session_logs WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, persistence.NewSessionError("Logs", sessionID, err)
	}
	defer rows.Close()

	var entries []persistence.LogEntry

	for rows.Next() {
		var entry persistence.LogEntry
		if err := rows.Scan(&entry.Timestamp, &entry.Level, &entry.Message, &entry.StepOrder); err != nil {
			return nil, persistence.NewSessionError("Logs", sessionID, err)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.ExecutionSession, error) {
	var (
		session  models.ExecutionSession
		status   string
		snapshot []byte
		records  []byte
		errMsg   sql.NullString
		finished sql.NullTime
	)

	err := row.Scan(&session.ID, &session.AggregatedScriptID, &status, &snapshot, &records,
		&session.Cursor, &errMsg, &session.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	session.Error = errMsg.String

	if finished.Valid {
		session.FinishedAt = &finished.Time
	}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &session.ContextSnapshot); err != nil {
			return nil, err
		}
	}

	if len(records) > 0 {
		if err := json.Unmarshal(records, &session.StepRecords); err != nil {
			return nil, err
		}
	}

	return &session, nil
}
