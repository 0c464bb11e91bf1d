package main

import (
	"context"
	"os"
	"time"

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

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	root := &cli.Command{
		Name:                  "shellflow-api",
		Usage:                 "Submit and manage remote script executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Session store URL (file://, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "catalog-path",
				Usage:   "Path to the script catalog directory",
				Value:   "./catalog",
				Sources: cli.EnvVars("CATALOG_PATH"),
			},
			&cli.StringFlag{
				Name:     "credentials-file",
				Usage:    "Path to the JSON credentials file",
				Required: true,
				Sources:  cli.EnvVars("CREDENTIALS_FILE"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Shellflow API")

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

			sink := eventbus.NewBusSink(bus, "api", logger)

			recorder := eventbus.NewRecorder(0)
			recorder.Register(bus)

			if err := bus.Subscribe(ctx); err != nil {
				return err
			}

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
			interactions := interaction.NewManager(logger)

			eng := engine.New(
				reader,
				guard,
				store,
				sink,
				interactions,
				runner.New(sink, logger),
				nil,
				logger,
				engine.Config{InteractionTimeout: command.Duration("interaction-timeout")},
			)

			defer eng.Wait()

			api := NewAPI(
				logger,
				eng,
				store,
				interactions,
				guard,
				reader,
				recorder,
			)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return err
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		logger.Error("Failed to run API server", "error", err)
		os.Exit(1)
	}
}
