// Package web provides HTTP handlers and REST API endpoints for session
// orchestration.
package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/shellflow/shellflow/pkg/catalog"
	"github.com/shellflow/shellflow/pkg/engine"
	"github.com/shellflow/shellflow/pkg/eventbus"
	"github.com/shellflow/shellflow/pkg/interaction"
	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
	"github.com/shellflow/shellflow/pkg/resilience"
)

type APIHandlers struct {
	engine       *engine.Engine
	store        persistence.SessionStore
	interactions *interaction.Manager
	guard        *resilience.Guard
	catalog      catalog.Reader
	recorder     *eventbus.Recorder
	validator    *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	store persistence.SessionStore,
	interactions *interaction.Manager,
	guard *resilience.Guard,
	cat catalog.Reader,
	recorder *eventbus.Recorder,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:       eng,
		store:        store,
		interactions: interactions,
		guard:        guard,
		catalog:      cat,
		recorder:     recorder,
		validator:    validator,
	}
}

// CreateExecution starts an aggregated script on a remote target. The
// session runs asynchronously; callers poll GET /sessions/:id for progress.
func (h *APIHandlers) CreateExecution(c fiber.Ctx) error {
	var req ExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	key := models.ConnectionKey{
		Username: req.Username,
		Host:     req.Host,
		Port:     req.Port,
	}

	session, err := h.engine.Start(c.Context(), req.AggregatedScriptID, key)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(session)
}

func (h *APIHandlers) GetSessions(c fiber.Ctx) error {
	sessions, err := h.store.ListSessions(c.Context())
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessions":    sessions,
		"total_count": len(sessions),
	})
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	session, err := h.store.LoadSession(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) GetSessionLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	if _, err := h.store.LoadSession(c.Context(), id); err != nil {
		return handleDomainError(c, err)
	}

	logs, err := h.store.Logs(c.Context(), id)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": id,
		"logs":       logs,
	})
}

// GetSessionEvents returns the bus events recorded for one session, newest
// last. The recorder is fed by the API's own bus subscription.
func (h *APIHandlers) GetSessionEvents(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	if _, err := h.store.LoadSession(c.Context(), id); err != nil {
		return handleDomainError(c, err)
	}

	feed := h.recorder.SessionEvents(id)

	return c.JSON(fiber.Map{
		"session_id":  id,
		"events":      feed,
		"total_count": len(feed),
	})
}

func (h *APIHandlers) CancelSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	if err := h.engine.Cancel(c.Context(), id); err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": id,
		"status":     models.SessionCancelled,
	})
}

func (h *APIHandlers) PauseSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	if err := h.engine.Pause(id); err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": id,
		"status":     models.SessionPaused,
	})
}

// ResumeSession relaunches a paused or interrupted session from its saved
// cursor. The connection key must be supplied again because credentials are
// never persisted with the session.
func (h *APIHandlers) ResumeSession(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Session ID is required")
	}

	var req BreakerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	key := models.ConnectionKey{
		Username: req.Username,
		Host:     req.Host,
		Port:     req.Port,
		CallerID: req.CallerID,
	}

	session, err := h.engine.StartResume(c.Context(), id, key)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(session)
}

func (h *APIHandlers) GetInteractions(c fiber.Ctx) error {
	sessionID := c.Query("session_id")

	pending := h.interactions.Pending(sessionID)

	return c.JSON(fiber.Map{
		"interactions": pending,
		"total_count":  len(pending),
	})
}

func (h *APIHandlers) RespondInteraction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Interaction ID is required")
	}

	var req InteractionResponse
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.interactions.Respond(id, req.Response); err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"interaction_id": id,
		"resolved":       true,
	})
}

func (h *APIHandlers) GetBreakers(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"breakers": h.guard.Metrics(),
	})
}

// ResetBreaker forces one breaker back to closed after an operator has
// fixed the underlying host.
func (h *APIHandlers) ResetBreaker(c fiber.Ctx) error {
	var req BreakerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	key := models.ConnectionKey{
		Username: req.Username,
		Host:     req.Host,
		Port:     req.Port,
		CallerID: req.CallerID,
	}

	h.guard.ResetBreaker(key)

	return c.JSON(fiber.Map{
		"key":   key.String(),
		"state": h.guard.BreakerState(key).String(),
	})
}

func (h *APIHandlers) GetScripts(c fiber.Ctx) error {
	scripts, err := h.catalog.ListAggregatedScripts(c.Context())
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{
		"scripts":     scripts,
		"total_count": len(scripts),
	})
}
