package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
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

const workflowColumns = `
		w.id
	  , w.name
	  , w.active
	  , w.nodes
	  , w.connections
	  , w.settings
	  , w.static_data
	  , w.tags
	  , w.created_at
	  , w.updated_at
`

// WorkflowRepository handles workflow-related database operations. The node
// graph, settings and tags are stored as JSONB columns.
type WorkflowRepository struct {
	q      querier
	logger *slog.Logger
}

type workflowJSON struct {
	nodes       []byte
	connections []byte
	settings    []byte
	staticData  []byte
	tags        []byte
}

func encodeWorkflow(workflow *models.Workflow) (*workflowJSON, error) {
	var (
		encoded workflowJSON
		err     error
	)

	nodes := workflow.Nodes
	if nodes == nil {
		nodes = make([]*models.WorkflowNode, 0)
	}

	encoded.nodes, err = json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}

	connections := workflow.Connections
	if connections == nil {
		connections = make([]*models.Connection, 0)
	}

	encoded.connections, err = json.Marshal(connections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connections: %w", err)
	}

	tags := workflow.Tags
	if tags == nil {
		tags = make([]*models.Tag, 0)
	}

	encoded.tags, err = json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	if workflow.Settings != nil {
		encoded.settings, err = json.Marshal(workflow.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
		}
	}

	if workflow.StaticData != nil {
		encoded.staticData, err = json.Marshal(workflow.StaticData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal static data: %w", err)
		}
	}

	return &encoded, nil
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	encoded, err := encodeWorkflow(workflow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflows (id, name, active, nodes, connections, settings, static_data, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.q.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Active,
		encoded.nodes,
		encoded.connections,
		nullJSON(encoded.settings),
		nullJSON(encoded.staticData),
		encoded.tags,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow: %w", mapError(err))
	}

	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	encoded, err := encodeWorkflow(workflow)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflows SET
			name = $2,
			active = $3,
			nodes = $4,
			connections = $5,
			settings = $6,
			static_data = $7,
			tags = $8,
			updated_at = $9
		WHERE id = $1
		RETURNING created_at
	`

	err = r.q.QueryRowContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Active,
		encoded.nodes,
		encoded.connections,
		nullJSON(encoded.settings),
		nullJSON(encoded.staticData),
		encoded.tags,
		workflow.UpdatedAt,
	).Scan(&workflow.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrWorkflowNotFound
		}

		return fmt.Errorf("failed to update workflow: %w", mapError(err))
	}

	return nil
}

func (r *WorkflowRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.q.ExecContext(ctx,
		"UPDATE workflows SET active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow active flag: %w", err)
	}

	return expectAffected(result, persistence.ErrWorkflowNotFound)
}

// Delete removes the workflow. Shares cascade in the schema.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return expectAffected(result, persistence.ErrWorkflowNotFound)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := "SELECT " + workflowColumns + " FROM workflows w WHERE w.id = $1"

	workflow, err := scanWorkflow(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, int64, error) {
	if opts.IDs != nil && len(opts.IDs) == 0 {
		return make([]*models.Workflow, 0), 0, nil
	}

	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if opts.IDs != nil {
		args = append(args, pq.Array(opts.IDs))
		conditions = append(conditions, fmt.Sprintf("w.id = ANY($%d)", len(args)))
	}

	if opts.Active != nil {
		args = append(args, *opts.Active)
		conditions = append(conditions, fmt.Sprintf("w.active = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64

	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows w"+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := "SELECT " + workflowColumns + " FROM workflows w" + where +
		" ORDER BY w.created_at DESC, w.id DESC" + pageClause(opts.Offset, opts.Limit)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, total, nil
}

func nullJSON(data []byte) any {
	if data == nil {
		return nil
	}

	return data
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow models.Workflow
		encoded  workflowJSON
	)

	err := row.Scan(
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

	return &workflow, nil
}

func decodeWorkflow(workflow *models.Workflow, encoded *workflowJSON) error {
	if err := json.Unmarshal(encoded.nodes, &workflow.Nodes); err != nil {
		return fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(encoded.connections, &workflow.Connections); err != nil {
		return fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	if err := json.Unmarshal(encoded.tags, &workflow.Tags); err != nil {
		return fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	if len(encoded.settings) > 0 {
		if err := json.Unmarshal(encoded.settings, &workflow.Settings); err != nil {
			return fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	if len(encoded.staticData) > 0 {
		if err := json.Unmarshal(encoded.staticData, &workflow.StaticData); err != nil {
			return fmt.Errorf("failed to unmarshal static data: %w", err)
		}
	}

	return nil
}
