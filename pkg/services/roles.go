package services

import (
	"context"
	"fmt"

	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

// EnsureRoles seeds the default roles that are missing.
func EnsureRoles(ctx context.Context, roles persistence.RoleRepository) error {
	for _, role := range models.DefaultRoles() {
		_, err := roles.Find(ctx, role.Name, role.Scope)
		if err == nil {
			continue
		}

		if !persistence.IsNotFound(err) {
			return fmt.Errorf("failed to look up role %s:%s: %w", role.Scope, role.Name, err)
		}

		err = roles.Create(ctx, role)
		if err != nil && !persistence.IsConflict(err) {
			return fmt.Errorf("failed to create role %s:%s: %w", role.Scope, role.Name, err)
		}
	}

	return nil
}

func findRole(ctx context.Context, roles persistence.RoleRepository, name string, scope models.RoleScope) (*models.Role, error) {
	role, err := roles.Find(ctx, name, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to find role %s:%s: %w", scope, name, err)
	}

	return role, nil
}
