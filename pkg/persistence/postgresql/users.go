package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

const userSelect = `
	SELECT
		u.id
	  , u.email
	  , u.first_name
	  , u.last_name
	  , u.password_hash
	  , COALESCE(u.api_key, '')
	  , COALESCE(u.global_role_id, '')
	  , u.created_at
	  , u.updated_at
	  , r.id
	  , r.name
	  , r.scope
	  , r.created_at
	  , r.updated_at
	FROM users u
	LEFT JOIN roles r ON r.id = u.global_role_id
`

// UserRepository handles user-related database operations.
type UserRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate user ID: %w", err)
		}

		user.ID = id.String()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, email, first_name, last_name, password_hash, api_key, global_role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		nullString(user.APIKey),
		nullString(user.GlobalRoleID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", mapError(err))
	}

	return nil
}

func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users SET
			email = $2,
			first_name = $3,
			last_name = $4,
			password_hash = $5,
			api_key = $6,
			global_role_id = $7,
			updated_at = $8
		WHERE id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		nullString(user.APIKey),
		nullString(user.GlobalRoleID),
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}

	return expectAffected(result, persistence.ErrUserNotFound)
}

// Delete removes the user. Shares cascade in the schema.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", mapError(err))
	}

	return expectAffected(result, persistence.ErrUserNotFound)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, userSelect+" WHERE u.id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, userSelect+" WHERE LOWER(u.email) = LOWER($1)", email)
}

func (r *UserRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	if apiKey == "" {
		return nil, persistence.ErrUserNotFound
	}

	return r.getOne(ctx, userSelect+" WHERE u.api_key = $1", apiKey)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrUserNotFound
		}

		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return user, nil
}

func (r *UserRepository) ListByEmails(ctx context.Context, emails []string) ([]*models.User, error) {
	lowered := make([]string, 0, len(emails))
	for _, email := range emails {
		lowered = append(lowered, strings.ToLower(email))
	}

	return r.list(ctx, userSelect+" WHERE LOWER(u.email) = ANY($1) ORDER BY u.created_at, u.id", pq.Array(lowered))
}

func (r *UserRepository) List(ctx context.Context, opts persistence.ListUsersOptions) ([]*models.User, int64, error) {
	var total int64

	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := userSelect + " ORDER BY u.created_at, u.id" + pageClause(opts.Offset, opts.Limit)

	users, err := r.list(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	return users, total, nil
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		users = append(users, user)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

func scanUser(row scanner) (*models.User, error) {
	var (
		user          models.User
		roleID        sql.NullString
		roleName      sql.NullString
		roleScope     sql.NullString
		roleCreatedAt sql.NullTime
		roleUpdatedAt sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.APIKey,
		&user.GlobalRoleID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&roleID,
		&roleName,
		&roleScope,
		&roleCreatedAt,
		&roleUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if roleID.Valid {
		user.GlobalRole = &models.Role{
			ID:        roleID.String,
			Name:      roleName.String,
			Scope:     models.RoleScope(roleScope.String),
			CreatedAt: roleCreatedAt.Time,
			UpdatedAt: roleUpdatedAt.Time,
		}
	}

	return &user, nil
}

func pageClause(offset, limit int) string {
	clause := ""

	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}

	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}

	return clause
}

func expectAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
