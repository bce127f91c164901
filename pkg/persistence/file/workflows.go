package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

type workflowRepository struct {
	access access
}

func (r *workflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
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

	return r.access.write(func(st *state) error {
		if _, exists := st.workflows[workflow.ID]; exists {
			return fmt.Errorf("workflow %s: %w", workflow.ID, persistence.ErrConflict)
		}

		st.workflows[workflow.ID] = workflow.Clone()

		return nil
	})
}

func (r *workflowRepository) Update(_ context.Context, workflow *models.Workflow) error {
	return r.access.write(func(st *state) error {
		existing, ok := st.workflows[workflow.ID]
		if !ok {
			return persistence.ErrWorkflowNotFound
		}

		workflow.CreatedAt = existing.CreatedAt
		workflow.UpdatedAt = time.Now().UTC()
		st.workflows[workflow.ID] = workflow.Clone()

		return nil
	})
}

func (r *workflowRepository) SetActive(_ context.Context, id string, active bool) error {
	return r.access.write(func(st *state) error {
		workflow, ok := st.workflows[id]
		if !ok {
			return persistence.ErrWorkflowNotFound
		}

		workflow.Active = active
		workflow.UpdatedAt = time.Now().UTC()

		return nil
	})
}

// Delete removes the workflow together with every share pointing at it.
func (r *workflowRepository) Delete(_ context.Context, id string) error {
	return r.access.write(func(st *state) error {
		if _, ok := st.workflows[id]; !ok {
			return persistence.ErrWorkflowNotFound
		}

		delete(st.workflows, id)

		for key := range st.sharedWorkflows {
			if key.resourceID == id {
				delete(st.sharedWorkflows, key)
			}
		}

		return nil
	})
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	var found *models.Workflow

	err := r.access.read(func(st *state) error {
		workflow, ok := st.workflows[id]
		if !ok {
			return persistence.ErrWorkflowNotFound
		}

		found = workflow.Clone()

		return nil
	})

	return found, err
}

func (r *workflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, int64, error) {
	var (
		page  []*models.Workflow
		total int64
	)

	var allowed map[string]bool
	if opts.IDs != nil {
		allowed = make(map[string]bool, len(opts.IDs))
		for _, id := range opts.IDs {
			allowed[id] = true
		}
	}

	err := r.access.read(func(st *state) error {
		filtered := make([]*models.Workflow, 0)

		for _, workflow := range st.workflows {
			if allowed != nil && !allowed[workflow.ID] {
				continue
			}

			if opts.Active != nil && workflow.Active != *opts.Active {
				continue
			}

			filtered = append(filtered, workflow)
		}

		sortWorkflows(filtered)

		total = int64(len(filtered))

		for _, workflow := range paginate(filtered, opts.Offset, opts.Limit) {
			page = append(page, workflow.Clone())
		}

		return nil
	})

	if page == nil {
		page = make([]*models.Workflow, 0)
	}

	return page, total, err
}

// sortWorkflows orders by creation time, newest first.
func sortWorkflows(workflows []*models.Workflow) {
	sort.Slice(workflows, func(i, j int) bool {
		if !workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
		}

		return workflows[i].ID > workflows[j].ID
	})
}
