// Package main provides the Shellflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/shellflow/shellflow/pkg/catalog"
	"github.com/shellflow/shellflow/pkg/engine"
	"github.com/shellflow/shellflow/pkg/eventbus"
	"github.com/shellflow/shellflow/pkg/interaction"
	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/resilience"
	"github.com/shellflow/shellflow/pkg/web"
)

type API struct {
	logger       *slog.Logger
	engine       *engine.Engine
	store        persistence.SessionStore
	interactions *interaction.Manager
	guard        *resilience.Guard
	catalog      catalog.Reader
	recorder     *eventbus.Recorder
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	eng *engine.Engine,
	store persistence.SessionStore,
	interactions *interaction.Manager,
	guard *resilience.Guard,
	cat catalog.Reader,
	recorder *eventbus.Recorder,
) *API {
	return &API{
		logger:       logger,
		engine:       eng,
		store:        store,
		interactions: interactions,
		guard:        guard,
		catalog:      cat,
		recorder:     recorder,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.store, a.interactions, a.guard, a.catalog, a.recorder, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Shellflow API")
	})

	app.Post("/executions", handlers.CreateExecution)

	s := app.Group("/sessions")
	s.Get("/", handlers.GetSessions)
	s.Get("/:id", handlers.GetSession)
	s.Get("/:id/logs", handlers.GetSessionLogs)
	s.Get("/:id/events", handlers.GetSessionEvents)
	s.Post("/:id/cancel", handlers.CancelSession)
	s.Post("/:id/pause", handlers.PauseSession)
	s.Post("/:id/resume", handlers.ResumeSession)

	i := app.Group("/interactions")
	i.Get("/", handlers.GetInteractions)
	i.Post("/:id/respond", handlers.RespondInteraction)

	app.Get("/breakers", handlers.GetBreakers)
	app.Post("/breakers/reset", handlers.ResetBreaker)

	app.Get("/scripts", handlers.GetScripts)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
