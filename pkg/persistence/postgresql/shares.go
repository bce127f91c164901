package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

const sharedWorkflowSelect = `
	SELECT
		s.user_id
	  , s.workflow_id
	  , s.role_id
	  , s.created_at
	  , s.updated_at
	  , r.id
	  , r.name
	  , r.scope
	  , r.created_at
	  , r.updated_at
	  , ` + workflowColumns + `
	FROM shared_workflows s
	JOIN roles r ON r.id = s.role_id
	JOIN workflows w ON w.id = s.workflow_id
`

// SharedWorkflowRepository handles workflow share database operations.
type SharedWorkflowRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *SharedWorkflowRepository) Create(ctx context.Context, share *models.SharedWorkflow) error {
	now := time.Now().UTC()
	share.CreatedAt = now
	share.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shared_workflows (user_id, workflow_id, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, share.UserID, share.WorkflowID, share.RoleID, share.CreatedAt, share.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert workflow share: %w", mapError(err))
	}

	return nil
}

func (r *SharedWorkflowRepository) Get(ctx context.Context, userID, workflowID string) (*models.SharedWorkflow, error) {
	share, err := scanSharedWorkflow(r.q.QueryRowContext(ctx,
		sharedWorkflowSelect+" WHERE s.user_id = $1 AND s.workflow_id = $2", userID, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrShareNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow share: %w", err)
	}

	return share, nil
}

func (r *SharedWorkflowRepository) ListByUser(ctx context.Context, userID string) ([]*models.SharedWorkflow, error) {
	return r.list(ctx, sharedWorkflowSelect+" WHERE s.user_id = $1 ORDER BY s.workflow_id, s.user_id", userID)
}

func (r *SharedWorkflowRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.SharedWorkflow, error) {
	return r.list(ctx, sharedWorkflowSelect+" WHERE s.workflow_id = $1 ORDER BY s.workflow_id, s.user_id", workflowID)
}

func (r *SharedWorkflowRepository) list(ctx context.Context, query string, arg any) ([]*models.SharedWorkflow, error) {
	rows, err := r.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow shares: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	shares := make([]*models.SharedWorkflow, 0)

	for rows.Next() {
		share, err := scanSharedWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow share: %w", err)
		}

		shares = append(shares, share)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow shares: %w", err)
	}

	return shares, nil
}

func (r *SharedWorkflowRepository) Delete(ctx context.Context, userID, workflowID string) error {
	result, err := r.q.ExecContext(ctx,
		"DELETE FROM shared_workflows WHERE user_id = $1 AND workflow_id = $2", userID, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow share: %w", err)
	}

	return expectAffected(result, persistence.ErrShareNotFound)
}

func (r *SharedWorkflowRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM shared_workflows WHERE workflow_id = $1", workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow shares: %w", err)
	}

	return nil
}

func (r *SharedWorkflowRepository) Reassign(ctx context.Context, fromUserID, toUserID string) error {
	return reassign(ctx, r.q, "shared_workflows", "workflow_id", fromUserID, toUserID)
}

func scanSharedWorkflow(row scanner) (*models.SharedWorkflow, error) {
	var (
		share    models.SharedWorkflow
		role     models.Role
		scope    string
		workflow models.Workflow
		encoded  workflowJSON
	)

	err := row.Scan(
		&share.UserID,
		&share.WorkflowID,
		&share.RoleID,
		&share.CreatedAt,
		&share.UpdatedAt,
		&role.ID,
		&role.Name,
		&scope,
		&role.CreatedAt,
		&role.UpdatedAt,
		&workflow.ID,
		&workflow.Name,
		&workflow.Active,
		&encoded.nodes,
		&encoded.connections,
		&encoded.settings,
		&encoded.staticData,
		&encoded.tags,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = decodeWorkflow(&workflow, &encoded)
	if err != nil {
		return nil, err
	}

	role.Scope = models.RoleScope(scope)
	share.Role = &role
	share.Workflow = &workflow

	return &share, nil
}

// SharedCredentialRepository handles credential share database operations.
type SharedCredentialRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *SharedCredentialRepository) Create(ctx context.Context, share *models.SharedCredential) error {
	now := time.Now().UTC()
	share.CreatedAt = now
	share.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO shared_credentials (user_id, credential_id, role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, share.UserID, share.CredentialID, share.RoleID, share.CreatedAt, share.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credential share: %w", mapError(err))
	}

	return nil
}

func (r *SharedCredentialRepository) ListByUser(ctx context.Context, userID string) ([]*models.SharedCredential, error) {
	return r.list(ctx, "user_id", userID)
}

func (r *SharedCredentialRepository) ListByCredential(ctx context.Context, credentialID string) ([]*models.SharedCredential, error) {
	return r.list(ctx, "credential_id", credentialID)
}

func (r *SharedCredentialRepository) list(ctx context.Context, column, value string) ([]*models.SharedCredential, error) {
	query := `
		SELECT user_id, credential_id, role_id, created_at, updated_at
		FROM shared_credentials
		WHERE ` + column + ` = $1
		ORDER BY credential_id, user_id
	`

	rows, err := r.q.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query credential shares: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	shares := make([]*models.SharedCredential, 0)

	for rows.Next() {
		var share models.SharedCredential

		err := rows.Scan(&share.UserID, &share.CredentialID, &share.RoleID, &share.CreatedAt, &share.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential share: %w", err)
		}

		shares = append(shares, &share)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating credential shares: %w", err)
	}

	return shares, nil
}

func (r *SharedCredentialRepository) Delete(ctx context.Context, userID, credentialID string) error {
	result, err := r.q.ExecContext(ctx,
		"DELETE FROM shared_credentials WHERE user_id = $1 AND credential_id = $2", userID, credentialID)
	if err != nil {
		return fmt.Errorf("failed to delete credential share: %w", err)
	}

	return expectAffected(result, persistence.ErrShareNotFound)
}

func (r *SharedCredentialRepository) DeleteByCredential(ctx context.Context, credentialID string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM shared_credentials WHERE credential_id = $1", credentialID)
	if err != nil {
		return fmt.Errorf("failed to delete credential shares: %w", err)
	}

	return nil
}

func (r *SharedCredentialRepository) Reassign(ctx context.Context, fromUserID, toUserID string) error {
	return reassign(ctx, r.q, "shared_credentials", "credential_id", fromUserID, toUserID)
}

// reassign drops the rows the target user already holds a share for, then
// moves the rest. Run it inside a transaction for the two statements to be atomic.
func reassign(ctx context.Context, q querier, table, resourceColumn, fromUserID, toUserID string) error {
	var exists bool

	err := q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", toUserID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if !exists {
		return persistence.ErrUserNotFound
	}

	_, err = q.ExecContext(ctx, `
		DELETE FROM `+table+` s
		WHERE s.user_id = $1
		  AND EXISTS (
			SELECT 1 FROM `+table+` t
			WHERE t.user_id = $2 AND t.`+resourceColumn+` = s.`+resourceColumn+`
		  )
	`, fromUserID, toUserID)
	if err != nil {
		return fmt.Errorf("failed to drop duplicate shares in %s: %w", table, err)
	}

	_, err = q.ExecContext(ctx,
		"UPDATE "+table+" SET user_id = $2, updated_at = $3 WHERE user_id = $1",
		fromUserID, toUserID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reassign shares in %s: %w", table, mapError(err))
	}

	return nil
}
