// Package web provides HTTP handlers and REST API endpoints for workflows and users.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/services"
	"github.com/tidewire/tidewire/pkg/triggers/webhook"
)

var errInvalidJSON = errors.New("invalid JSON format")

// WebhookDispatcher forwards ingress requests to the live webhook triggers.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, method, path string, data map[string]any) error
}

// ActiveWorkflows reports the workflows with live triggers.
type ActiveWorkflows interface {
	Active() []string
}

type APIHandlers struct {
	workflowService *services.Workflow
	userService     *services.Users
	webhooks        WebhookDispatcher
	activations     ActiveWorkflows
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	userService *services.Users,
	webhooks WebhookDispatcher,
	activations ActiveWorkflows,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		userService:     userService,
		webhooks:        webhooks,
		activations:     activations,
		validator:       validator,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	offset, limit, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	req := services.ListWorkflowsRequest{Offset: offset, Limit: limit}

	if activeStr := c.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		req.Active = &active
	}

	workflows, total, err := h.workflowService.List(c.Context(), CurrentUser(c), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListResponse[*models.Workflow]{
		Data:       workflows,
		TotalCount: total,
		NextCursor: nextCursor(offset, effectiveLimit(limit, services.DefaultWorkflowListLimit, services.MaxWorkflowListLimit), total),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Get(c.Context(), CurrentUser(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), CurrentUser(c), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateWorkflow replaces the workflow graph. When an active workflow cannot
// be registered again the edit is kept, the workflow is left inactive and the
// activation error is answered.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	req, err := h.bindWorkflow(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), CurrentUser(c), c.Params("id"), req.toModel())
	if err != nil {
		if updated != nil && services.IsActivationError(err) {
			return activationProblem(c, err, updated)
		}

		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// DeleteWorkflow answers with the workflow as it was before deletion.
func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	deleted, err := h.workflowService.Delete(c.Context(), CurrentUser(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(deleted)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Activate(c.Context(), CurrentUser(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.Deactivate(c.Context(), CurrentUser(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) bindWorkflow(c fiber.Ctx) (*WorkflowRequest, error) {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return nil, errInvalidJSON
	}

	if err := h.validator.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *APIHandlers) GetUsers(c fiber.Ctx) error {
	offset, limit, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	includeRole := false

	if includeRoleStr := c.Query("include_role"); includeRoleStr != "" {
		includeRole, err = strconv.ParseBool(includeRoleStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}
	}

	users, total, err := h.userService.ListUsers(c.Context(), offset, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(ListResponse[any]{
		Data:       userViews(users, includeRole),
		TotalCount: total,
		NextCursor: nextCursor(offset, effectiveLimit(limit, services.DefaultUserListLimit, services.MaxUserListLimit), total),
	})
}

func (h *APIHandlers) GetUser(c fiber.Ctx) error {
	user, err := h.userService.GetUser(c.Context(), c.Params("identifier"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if includeRole, _ := strconv.ParseBool(c.Query("include_role")); includeRole {
		return c.JSON(NewUserViewWithRole(user))
	}

	return c.JSON(NewUserView(user))
}

// InviteUsers invites a list of emails. Results are reported per user, so a
// failed mail does not fail the request.
func (h *APIHandlers) InviteUsers(c fiber.Ctx) error {
	var req []InviteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Var(req, "required,min=1,dive"); err != nil {
		return badRequest(c, err.Error())
	}

	emails := make([]string, 0, len(req))
	for _, invite := range req {
		emails = append(emails, invite.Email)
	}

	results, err := h.userService.InviteUsers(c.Context(), CurrentUser(c), emails)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(results)
}

func (h *APIHandlers) DeleteUser(c fiber.Ctx) error {
	err := h.userService.DeleteUser(c.Context(), c.Params("id"), CurrentUser(c), c.Query("transfer_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Signup accepts an invitation. It is the only endpoint besides webhooks
// that runs without an API key.
func (h *APIHandlers) Signup(c fiber.Ctx) error {
	var req services.AcceptInviteRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	user, err := h.userService.AcceptInvite(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SignupResponse{
		UserView: NewUserView(user),
		APIKey:   user.APIKey,
	})
}

// Webhook forwards the request to the trigger registered for its method and
// path below /webhook.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	path := "/" + strings.TrimPrefix(c.Params("*"), "/")

	var body any
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			body = string(c.Body())
		}
	}

	query := make(map[string]any)
	for key, value := range c.Queries() {
		query[key] = value
	}

	headers := make(map[string]any)
	for key, values := range c.GetReqHeaders() {
		headers[key] = strings.Join(values, ",")
	}

	data := map[string]any{
		"method":  c.Method(),
		"path":    path,
		"body":    body,
		"query":   query,
		"headers": headers,
	}

	if err := h.webhooks.Dispatch(c.Context(), c.Method(), path, data); err != nil {
		if errors.Is(err, webhook.ErrRouteNotFound) {
			return notFound(c, "No active webhook for "+c.Method()+" "+path)
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Tidewire API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Tidewire API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   strconv.Itoa(len(h.activations.Active())) + " active workflows",
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// parsePage reads offset and limit, or the cursor that replaces both.
func parsePage(c fiber.Ctx) (int, int, error) {
	if encoded := c.Query("cursor"); encoded != "" {
		cursor, err := DecodeCursor(encoded)
		if err != nil {
			return 0, 0, err
		}

		return cursor.Offset, cursor.Limit, nil
	}

	var offset, limit int

	if offsetStr := c.Query("offset"); offsetStr != "" {
		value, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		if value < 0 {
			return 0, 0, errors.New("offset must not be negative")
		}

		offset = value
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		value, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = value
	}

	return offset, limit, nil
}

func effectiveLimit(limit, fallback, maximum int) int {
	if limit <= 0 {
		return fallback
	}

	return min(limit, maximum)
}
