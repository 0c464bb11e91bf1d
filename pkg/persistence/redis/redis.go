// Package redis provides a Redis-backed session store. Sessions are kept
// as JSON strings and logs as Redis lists, both under a shared key prefix.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
)

const (
	sessionKeyPrefix = "shellflow:session:"
	logKeyPrefix     = "shellflow:session-log:"
	indexKey         = "shellflow:sessions"
)

type SessionStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewSessionStore(ctx context.Context, logger *slog.Logger, redisURL string) (*SessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, persistence.NewSessionError("Connect", "", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, persistence.NewSessionError("Connect", "", err)
	}

	logger.InfoContext(ctx, "Connected to Redis session store")

	return &SessionStore{client: client, logger: logger}, nil
}

func (s *SessionStore) SaveSession(ctx context.Context, session *models.ExecutionSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, data, 0)
	pipe.SAdd(ctx, indexKey, session.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewSessionError("Save", session.ID, err)
	}

	return nil
}

func (s *SessionStore) LoadSession(ctx context.Context, id string) (*models.ExecutionSession, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

func (s *SessionStore) DeleteSession(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.Del(ctx, logKeyPrefix+id)
	pipe.SRem(ctx, indexKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewSessionError("Delete", id, err)
	}

	return nil
}

func (s *SessionStore) ListSessions(ctx context.Context) ([]*models.ExecutionSession, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, persistence.NewSessionError("List", "", err)
	}

	sessions := make([]*models.ExecutionSession, 0, len(ids))

	for _, id := range ids {
		session, err := s.LoadSession(ctx, id)
		if err != nil {
			// A session deleted between SMembers and Get is not an error.
			if persistence.IsSessionNotFound(err) {
				continue
			}

			return nil, err
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

func (s *SessionStore) AppendLog(ctx context.Context, sessionID string, entry persistence.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	if err := s.client.RPush(ctx, logKeyPrefix+sessionID, data).Err(); err != nil {
		return persistence.NewSessionError("AppendLog", sessionID, err)
	}

	return nil
}

func (s *SessionStore) Logs(ctx context.Context, sessionID string) ([]persistence.LogEntry, error) {
	raw, err := s.client.LRange(ctx, logKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, persistence.NewSessionError("Logs", sessionID, err)
	}

	entries := make([]persistence.LogEntry, 0, len(raw))

	for _, item := range raw {
		var entry persistence.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, persistence.NewSessionError("Logs", sessionID, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *SessionStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SessionStore) Close(_ context.Context) error {
	return s.client.Close()
}
