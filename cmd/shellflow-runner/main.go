package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/shellflow/shellflow/pkg/catalog"
	"github.com/shellflow/shellflow/pkg/cmd"
	"github.com/shellflow/shellflow/pkg/credentials"
	"github.com/shellflow/shellflow/pkg/engine"
	"github.com/shellflow/shellflow/pkg/eventbus"
	"github.com/shellflow/shellflow/pkg/interaction"
	"github.com/shellflow/shellflow/pkg/log"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/remote"
	"github.com/shellflow/shellflow/pkg/resilience"
	"github.com/shellflow/shellflow/pkg/runner"
)

func main() {
	root := &cli.Command{
		Name:                  "shellflow-runner",
		EnableShellCompletion: true,
		Usage:                 "Execute aggregated scripts against remote hosts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "runner-id",
				Aliases: []string{"id"},
				Usage:   "Custom runner ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("RUNNER_ID"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "catalog-path",
				Usage:   "Path to the script catalog directory",
				Value:   "./catalog",
				Sources: cli.EnvVars("CATALOG_PATH"),
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			validateCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run an aggregated script or resume a paused session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "script-id",
				Usage:   "Aggregated script to execute",
				Sources: cli.EnvVars("SCRIPT_ID"),
			},
			&cli.StringFlag{
				Name:    "resume-session",
				Usage:   "Paused session ID to resume instead of starting fresh",
				Sources: cli.EnvVars("RESUME_SESSION"),
			},
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Remote target as user@host:port",
				Required: true,
				Sources:  cli.EnvVars("TARGET"),
			},
			&cli.StringFlag{
				Name:     "credentials-file",
				Usage:    "Path to the JSON credentials file",
				Required: true,
				Sources:  cli.EnvVars("CREDENTIALS_FILE"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Session store URL (file://, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "interaction-timeout",
				Usage:   "How long a step waits for a human answer",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("INTERACTION_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	runnerID := command.String("runner-id")
	if runnerID == "" {
		runnerID = "runner-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("shellflow-runner").With("runner_id", runnerID)
	logger.InfoContext(ctx, "Initializing Shellflow Runner")

	key, err := parseTarget(command.String("target"), runnerID)
	if err != nil {
		return err
	}

	reader, err := catalog.NewFileReader(logger, command.String("catalog-path"))
	if err != nil {
		return err
	}

	source, err := credentials.NewFileSource(command.String("credentials-file"))
	if err != nil {
		return err
	}

	store, err := cmd.NewSessionStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close session store", "error", err)
		}
	}()

	bus := cmd.NewEventBus(command.String("event-bus"), logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	sink := eventbus.NewBusSink(bus, runnerID, logger)

	pool, err := remote.NewPool(remote.DefaultPoolConfig(), func(ctx context.Context, key models.ConnectionKey) (remote.Transport, error) {
		creds, err := source.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}

		return remote.Dial(key, creds)
	}, logger)
	if err != nil {
		return err
	}

	defer func() {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		if err := pool.Shutdown(drainCtx); err != nil {
			logger.Error("Pool shutdown incomplete", "error", err)
		}
	}()

	guard := resilience.NewGuard(pool, resilience.BreakerConfig{}, resilience.RetryConfig{}, logger)

	tracer, err := buildTracer(ctx, command.Bool("tracing"))
	if err != nil {
		return err
	}

	eng := engine.New(
		reader,
		guard,
		store,
		sink,
		interaction.NewManager(logger),
		runner.New(sink, logger),
		tracer,
		logger,
		engine.Config{InteractionTimeout: command.Duration("interaction-timeout")},
	)

	var session *models.ExecutionSession

	if resumeID := command.String("resume-session"); resumeID != "" {
		session, err = eng.Resume(ctx, resumeID, key)
	} else {
		scriptID := command.String("script-id")
		if scriptID == "" {
			return fmt.Errorf("either --script-id or --resume-session is required")
		}

		session, err = eng.Execute(ctx, scriptID, key)
	}

	if session != nil {
		logger.InfoContext(ctx, "Session finished",
			"session_id", session.ID,
			"status", string(session.Status))
	}

	return err
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Load the catalog and validate every script definition",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("shellflow-validate")

			reader, err := catalog.NewFileReader(logger, command.String("catalog-path"))
			if err != nil {
				return err
			}

			scripts, err := reader.ListAggregatedScripts(ctx)
			if err != nil {
				return err
			}

			for _, script := range scripts {
				logger.InfoContext(ctx, "Aggregated script is valid",
					"script_id", script.ID,
					"steps", len(script.Steps))
			}

			logger.InfoContext(ctx, "Catalog is valid", "aggregated_scripts", len(scripts))

			return nil
		},
	}
}
