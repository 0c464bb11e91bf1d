package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps core errors onto problem documents.
func handleDomainError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrInteractionNotFound),
		errors.Is(err, models.ErrScriptNotFound),
		errors.Is(err, models.ErrWorkflowNotFound),
		persistence.IsSessionNotFound(err):
		return notFound(c, err.Error())

	case errors.Is(err, models.ErrSessionTerminal),
		errors.Is(err, models.ErrInteractionResolved):
		return conflict(c, err.Error())

	case models.KindOf(err) == models.ErrKindValidation,
		models.KindOf(err) == models.ErrKindSecurity:
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}
