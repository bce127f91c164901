package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/services"
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

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func forbidden(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(403).
		WithInstance(c.Path()).
		WithType("forbidden").
		WithDetail(detail)

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// ActivationProblemExtensions carries the workflow as stored after a failed
// activation, so callers see the applied edit together with active=false.
type ActivationProblemExtensions struct {
	Workflow *models.Workflow `json:"workflow,omitempty"`
}

func activationProblem(c fiber.Ctx, err error, workflow *models.Workflow) error {
	detail := err.Error()

	var activationErr *activation.ActivationError
	if errors.As(err, &activationErr) {
		detail = activationErr.Message()
	}

	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("activation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problems.Extend(problem, ActivationProblemExtensions{Workflow: workflow}))
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsActivationError(err):
		return activationProblem(c, err, nil)

	case services.IsValidationError(err):
		var serviceErr *services.ServiceError

		detail := err.Error()
		if errors.As(err, &serviceErr) && serviceErr.Message != "" {
			detail = serviceErr.Message
		}

		return badRequest(c, detail)

	case services.IsNotFoundError(err):
		// missing and not shared look the same to the caller
		return notFound(c, "not found")

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
