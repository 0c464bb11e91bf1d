package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/persistence/file"
	"github.com/shellflow/shellflow/pkg/persistence/postgresql"
	"github.com/shellflow/shellflow/pkg/persistence/redis"
)

var supportedStoreProviders = []string{"file", "postgres", "postgresql", "redis", "rediss"}

// NewSessionStore picks the store implementation from the URL scheme,
// defaulting to the file store.
func NewSessionStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.SessionStore, error) {
	switch parseStoreProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewSessionStore(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL session store: %w", err)
		}

		return store, nil
	case "redis", "rediss":
		store, err := redis.NewSessionStore(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis session store: %w", err)
		}

		return store, nil
	default:
		return file.NewSessionStore(databaseURL), nil
	}
}

func parseStoreProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	for _, supported := range supportedStoreProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
