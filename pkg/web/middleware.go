package web

import (
	"context"
	"slices"

	"github.com/gofiber/fiber/v3"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-TIDEWIRE-API-KEY"

type userLocalKey struct{}

// APIKeyLookup resolves an API key to its user with the global role loaded.
type APIKeyLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
}

// APIKeyAuth rejects requests without a valid API key and stores the caller
// for CurrentUser.
func APIKeyAuth(users APIKeyLookup) fiber.Handler {
	return func(c fiber.Ctx) error {
		apiKey := c.Get(APIKeyHeader)
		if apiKey == "" {
			return unauthorized(c, "missing "+APIKeyHeader+" header")
		}

		user, err := users.GetByAPIKey(c.Context(), apiKey)
		if err != nil {
			if persistence.IsNotFound(err) {
				return unauthorized(c, "invalid API key")
			}

			return internalError(c, err)
		}

		if user.IsPending() {
			return unauthorized(c, "invalid API key")
		}

		c.Locals(userLocalKey{}, user)

		return c.Next()
	}
}

// RequireRole lets through callers whose global role is one of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c fiber.Ctx) error {
		user := CurrentUser(c)
		if user == nil || user.GlobalRole == nil || !slices.Contains(roles, user.GlobalRole.Name) {
			return forbidden(c, "insufficient role")
		}

		return c.Next()
	}
}

// CurrentUser returns the caller authenticated by APIKeyAuth.
func CurrentUser(c fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocalKey{}).(*models.User)

	return user
}
