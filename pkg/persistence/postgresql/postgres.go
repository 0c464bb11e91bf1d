// Package postgresql provides PostgreSQL session persistence.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// PostgreSQL driver registration.
	_ "github.com/lib/pq"

	"github.com/shellflow/shellflow/pkg/persistence/sqlbase"
)

// SessionStore implements persistence.SessionStore on PostgreSQL.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSessionStore connects, runs migrations and returns the store.
func NewSessionStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*SessionStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SessionStore{db: database, logger: logger}, nil
}

// Close closes the database connection.
func (s *SessionStore) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SessionStore) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
