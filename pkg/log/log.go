// Package log configures the process-wide slog default and hands out
// module-scoped loggers. Every component logs through a logger carrying a
// "module" attribute so session traces can be filtered per concern.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr as the slog default. Unknown
// level names fall back to info.
func Setup(logLevel string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})))
}

// WithModule returns the default logger scoped to one module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
