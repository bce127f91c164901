// Package postgresql provides PostgreSQL persistence implementation for users, workflows and their shares.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/tidewire/tidewire/pkg/persistence"
	"github.com/tidewire/tidewire/pkg/persistence/sqlbase"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
	repositories
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		repositories: repositories{q: database, logger: logger},
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Transaction runs fn inside a database transaction.
func (p *Persistence) Transaction(
	ctx context.Context,
	fn func(ctx context.Context, tx persistence.Repositories) error,
) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewTransactionError(fmt.Errorf("failed to begin transaction: %w", err))
	}

	err = fn(ctx, &repositories{q: tx, logger: p.logger})
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			p.logger.ErrorContext(ctx, "failed to roll back transaction", "error", rollbackErr)
		}

		return persistence.NewTransactionError(err)
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewTransactionError(fmt.Errorf("failed to commit transaction: %w", mapError(err)))
	}

	return nil
}

// repositories hands out repositories bound to a querier.
type repositories struct {
	q      querier
	logger *slog.Logger
}

func (r *repositories) Users() persistence.UserRepository {
	return &UserRepository{q: r.q, logger: r.logger}
}

func (r *repositories) Roles() persistence.RoleRepository {
	return &RoleRepository{q: r.q}
}

func (r *repositories) Workflows() persistence.WorkflowRepository {
	return &WorkflowRepository{q: r.q, logger: r.logger}
}

func (r *repositories) SharedWorkflows() persistence.SharedWorkflowRepository {
	return &SharedWorkflowRepository{q: r.q, logger: r.logger}
}

func (r *repositories) Credentials() persistence.CredentialRepository {
	return &CredentialRepository{q: r.q, logger: r.logger}
}

func (r *repositories) SharedCredentials() persistence.SharedCredentialRepository {
	return &SharedCredentialRepository{q: r.q, logger: r.logger}
}

// mapError translates constraint violations into persistence sentinel errors.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case uniqueViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, persistence.ErrConflict)
	case foreignKeyViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, persistence.ErrNotFound)
	default:
		return err
	}
}

func nullString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
