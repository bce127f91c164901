package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/tidewire/tidewire/pkg/models"
)

// Mount registers the health, webhook ingress and /api/v1 routes on router.
// Everything below /api/v1 except signup requires an API key.
func (h *APIHandlers) Mount(router fiber.Router, keys APIKeyLookup) {
	router.Get("/health", h.HealthCheck)
	router.All("/webhook/*", h.Webhook)

	v1 := router.Group("/api/v1")
	v1.Post("/signup", h.Signup)

	authed := v1.Group("", APIKeyAuth(keys), RequireRole(models.RoleOwner, models.RoleMember))

	w := authed.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)

	u := authed.Group("/users")
	u.Get("/", h.GetUsers)
	u.Get("/:identifier", h.GetUser)
	u.Post("/", RequireRole(models.RoleOwner), h.InviteUsers)
	u.Delete("/:id", RequireRole(models.RoleOwner), h.DeleteUser)
}
