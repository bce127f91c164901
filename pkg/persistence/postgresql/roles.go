package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

const roleSelect = `SELECT id, name, scope, created_at, updated_at FROM roles`

// RoleRepository handles role-related database operations.
type RoleRepository struct {
	q querier
}

func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	_, err := r.q.ExecContext(ctx,
		"INSERT INTO roles (id, name, scope, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		role.ID, role.Name, string(role.Scope), role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", mapError(err))
	}

	return nil
}

func (r *RoleRepository) Find(ctx context.Context, name string, scope models.RoleScope) (*models.Role, error) {
	return r.getOne(ctx, roleSelect+" WHERE name = $1 AND scope = $2", name, string(scope))
}

func (r *RoleRepository) GetByID(ctx context.Context, id string) (*models.Role, error) {
	return r.getOne(ctx, roleSelect+" WHERE id = $1", id)
}

func (r *RoleRepository) getOne(ctx context.Context, query string, args ...any) (*models.Role, error) {
	var (
		role  models.Role
		scope string
	)

	err := r.q.QueryRowContext(ctx, query, args...).Scan(&role.ID, &role.Name, &scope, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRoleNotFound
		}

		return nil, fmt.Errorf("failed to scan role: %w", err)
	}

	role.Scope = models.RoleScope(scope)

	return &role, nil
}
