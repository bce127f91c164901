package file

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

type roleRepository struct {
	access access
}

func (r *roleRepository) Create(_ context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	return r.access.write(func(st *state) error {
		for _, existing := range st.roles {
			if existing.Name == role.Name && existing.Scope == role.Scope {
				return fmt.Errorf("role %s/%s: %w", role.Scope, role.Name, persistence.ErrConflict)
			}
		}

		stored := *role
		st.roles[role.ID] = &stored

		return nil
	})
}

func (r *roleRepository) Find(_ context.Context, name string, scope models.RoleScope) (*models.Role, error) {
	var found *models.Role

	err := r.access.read(func(st *state) error {
		for _, role := range st.roles {
			if role.Name == name && role.Scope == scope {
				copied := *role
				found = &copied

				return nil
			}
		}

		return persistence.ErrRoleNotFound
	})

	return found, err
}

func (r *roleRepository) GetByID(_ context.Context, id string) (*models.Role, error) {
	var found *models.Role

	err := r.access.read(func(st *state) error {
		role, ok := st.roles[id]
		if !ok {
			return persistence.ErrRoleNotFound
		}

		copied := *role
		found = &copied

		return nil
	})

	return found, err
}
