package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

const credentialSelect = `SELECT id, name, type, data, created_at, updated_at FROM credentials`

// CredentialRepository handles credential database operations.
type CredentialRepository struct {
	q      querier
	logger *slog.Logger
}

func (r *CredentialRepository) Create(ctx context.Context, credential *models.Credential) error {
	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	credential.CreatedAt = now
	credential.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credentials (id, name, type, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, credential.ID, credential.Name, credential.Type, credential.Data, credential.CreatedAt, credential.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", mapError(err))
	}

	return nil
}

func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	credential, err := scanCredential(r.q.QueryRowContext(ctx, credentialSelect+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCredentialNotFound
		}

		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}

	return credential, nil
}

func (r *CredentialRepository) FindByNameAndType(ctx context.Context, name, credentialType string) ([]*models.Credential, error) {
	rows, err := r.q.QueryContext(ctx,
		credentialSelect+" WHERE name = $1 AND type = $2 ORDER BY created_at", name, credentialType)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	credentials := make([]*models.Credential, 0)

	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		credentials = append(credentials, credential)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return credentials, nil
}

// Delete removes the credential. Shares cascade in the schema.
func (r *CredentialRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM credentials WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return expectAffected(result, persistence.ErrCredentialNotFound)
}

func scanCredential(row scanner) (*models.Credential, error) {
	var credential models.Credential

	err := row.Scan(
		&credential.ID,
		&credential.Name,
		&credential.Type,
		&credential.Data,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &credential, nil
}
