// Package file provides file-based session persistence.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
)

// SessionStore implements persistence.SessionStore on the file system.
// Sessions are JSON documents under <root>/sessions, logs are JSON lines
// under <root>/logs.
type SessionStore struct {
	root string
	mu   sync.Mutex // serializes log appends
}

// NewSessionStore creates a store rooted at root, accepting a file:// prefix.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: strings.Replace(root, "file://", "", 1)}
}

func (s *SessionStore) sessionPath(id string) string {
	return filepath.Join(s.root, "sessions", id+".json")
}

func (s *SessionStore) logPath(id string) string {
	return filepath.Join(s.root, "logs", id+".log")
}

func (s *SessionStore) SaveSession(_ context.Context, session *models.ExecutionSession) error {
	if err := os.MkdirAll(filepath.Join(s.root, "sessions"), 0o755); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	// Write-then-rename keeps a crash from leaving a half-written snapshot.
	tmp := s.sessionPath(session.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	if err := os.Rename(tmp, s.sessionPath(session.ID)); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

func (s *SessionStore) LoadSession(_ context.Context, id string) (*models.ExecutionSession, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewSessionError("Load", id, models.ErrSessionNotFound)
		}

		return nil, persistence.NewSessionError("Load", id, err)
	}

	var session models.ExecutionSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, persistence.NewSessionError("Load", id, err)
	}

	return &session, nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	if err := os.Remove(s.sessionPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return persistence.NewSessionError("Delete", id, err)
	}

	_ = os.Remove(s.logPath(id))

	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context) ([]*models.ExecutionSession, error) {
	entries, err := fs.Glob(os.DirFS(filepath.Join(s.root, "sessions")), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	sessions := make([]*models.ExecutionSession, 0, len(entries))

	for _, entry := range entries {
		session, err := s.LoadSession(ctx, strings.TrimSuffix(entry, ".json"))
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (s *SessionStore) AppendLog(_ context.Context, sessionID string, entry persistence.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.root, "logs"), 0o755); err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	f, err := os.OpenFile(s.logPath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	return nil
}

func (s *SessionStore) Logs(_ context.Context, sessionID string) ([]persistence.LogEntry, error) {
	data, err := os.ReadFile(s.logPath(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, persistence.NewSessionError("Logs", sessionID, err)
	}

	var entries []persistence.LogEntry

	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}

		var entry persistence.LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, persistence.NewSessionError("Logs", sessionID, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *SessionStore) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *SessionStore) Close(_ context.Context) error {
	return nil
}
