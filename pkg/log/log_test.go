package log_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellflow/shellflow/pkg/log"
)

func TestSetupLevels(t *testing.T) {
	ctx := context.Background()

	log.Setup("warn")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelInfo))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelWarn))

	log.Setup("DEBUG")
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelDebug))

	// Unknown names fall back to info.
	log.Setup("verbose")
	assert.False(t, slog.Default().Enabled(ctx, slog.LevelDebug))
	assert.True(t, slog.Default().Enabled(ctx, slog.LevelInfo))
}

func TestWithModule(t *testing.T) {
	log.Setup("info")

	logger := log.WithModule("engine")
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
