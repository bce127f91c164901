package file

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

type sharedWorkflowRepository struct {
	access access
}

func (r *sharedWorkflowRepository) Create(_ context.Context, share *models.SharedWorkflow) error {
	now := time.Now().UTC()
	share.CreatedAt = now
	share.UpdatedAt = now

	return r.access.write(func(st *state) error {
		key := shareKey{userID: share.UserID, resourceID: share.WorkflowID}
		if _, exists := st.sharedWorkflows[key]; exists {
			return fmt.Errorf("workflow %s already shared with user %s: %w", share.WorkflowID, share.UserID, persistence.ErrConflict)
		}

		if _, ok := st.users[share.UserID]; !ok {
			return persistence.ErrUserNotFound
		}

		if _, ok := st.workflows[share.WorkflowID]; !ok {
			return persistence.ErrWorkflowNotFound
		}

		if _, ok := st.roles[share.RoleID]; !ok {
			return persistence.ErrRoleNotFound
		}

		st.sharedWorkflows[key] = copySharedWorkflow(share)

		return nil
	})
}

func (r *sharedWorkflowRepository) Get(_ context.Context, userID, workflowID string) (*models.SharedWorkflow, error) {
	var found *models.SharedWorkflow

	err := r.access.read(func(st *state) error {
		share, ok := st.sharedWorkflows[shareKey{userID: userID, resourceID: workflowID}]
		if !ok {
			return persistence.ErrShareNotFound
		}

		found = expandShare(st, share)

		return nil
	})

	return found, err
}

func (r *sharedWorkflowRepository) ListByUser(_ context.Context, userID string) ([]*models.SharedWorkflow, error) {
	return r.list(func(key shareKey) bool { return key.userID == userID })
}

func (r *sharedWorkflowRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.SharedWorkflow, error) {
	return r.list(func(key shareKey) bool { return key.resourceID == workflowID })
}

func (r *sharedWorkflowRepository) list(match func(key shareKey) bool) ([]*models.SharedWorkflow, error) {
	shares := make([]*models.SharedWorkflow, 0)

	err := r.access.read(func(st *state) error {
		for key, share := range st.sharedWorkflows {
			if match(key) {
				shares = append(shares, expandShare(st, share))
			}
		}

		return nil
	})

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].WorkflowID != shares[j].WorkflowID {
			return shares[i].WorkflowID < shares[j].WorkflowID
		}

		return shares[i].UserID < shares[j].UserID
	})

	return shares, err
}

func (r *sharedWorkflowRepository) Delete(_ context.Context, userID, workflowID string) error {
	return r.access.write(func(st *state) error {
		key := shareKey{userID: userID, resourceID: workflowID}
		if _, ok := st.sharedWorkflows[key]; !ok {
			return persistence.ErrShareNotFound
		}

		delete(st.sharedWorkflows, key)

		return nil
	})
}

func (r *sharedWorkflowRepository) DeleteByWorkflow(_ context.Context, workflowID string) error {
	return r.access.write(func(st *state) error {
		for key := range st.sharedWorkflows {
			if key.resourceID == workflowID {
				delete(st.sharedWorkflows, key)
			}
		}

		return nil
	})
}

func (r *sharedWorkflowRepository) Reassign(_ context.Context, fromUserID, toUserID string) error {
	return r.access.write(func(st *state) error {
		if _, ok := st.users[toUserID]; !ok {
			return persistence.ErrUserNotFound
		}

		now := time.Now().UTC()

		for key, share := range st.sharedWorkflows {
			if key.userID != fromUserID {
				continue
			}

			delete(st.sharedWorkflows, key)

			target := shareKey{userID: toUserID, resourceID: key.resourceID}
			if _, exists := st.sharedWorkflows[target]; exists {
				continue
			}

			share.UserID = toUserID
			share.UpdatedAt = now
			st.sharedWorkflows[target] = share
		}

		return nil
	})
}

func expandShare(st *state, share *models.SharedWorkflow) *models.SharedWorkflow {
	s := copySharedWorkflow(share)

	if role, ok := st.roles[s.RoleID]; ok {
		r := *role
		s.Role = &r
	}

	if workflow, ok := st.workflows[s.WorkflowID]; ok {
		s.Workflow = workflow.Clone()
	}

	return s
}

type sharedCredentialRepository struct {
	access access
}

func (r *sharedCredentialRepository) Create(_ context.Context, share *models.SharedCredential) error {
	now := time.Now().UTC()
	share.CreatedAt = now
	share.UpdatedAt = now

	return r.access.write(func(st *state) error {
		key := shareKey{userID: share.UserID, resourceID: share.CredentialID}
		if _, exists := st.sharedCredentials[key]; exists {
			return fmt.Errorf("credential %s already shared with user %s: %w", share.CredentialID, share.UserID, persistence.ErrConflict)
		}

		if _, ok := st.users[share.UserID]; !ok {
			return persistence.ErrUserNotFound
		}

		if _, ok := st.credentials[share.CredentialID]; !ok {
			return persistence.ErrCredentialNotFound
		}

		stored := *share
		st.sharedCredentials[key] = &stored

		return nil
	})
}

func (r *sharedCredentialRepository) ListByUser(_ context.Context, userID string) ([]*models.SharedCredential, error) {
	return r.list(func(key shareKey) bool { return key.userID == userID })
}

func (r *sharedCredentialRepository) ListByCredential(_ context.Context, credentialID string) ([]*models.SharedCredential, error) {
	return r.list(func(key shareKey) bool { return key.resourceID == credentialID })
}

func (r *sharedCredentialRepository) list(match func(key shareKey) bool) ([]*models.SharedCredential, error) {
	shares := make([]*models.SharedCredential, 0)

	err := r.access.read(func(st *state) error {
		for key, share := range st.sharedCredentials {
			if match(key) {
				s := *share
				shares = append(shares, &s)
			}
		}

		return nil
	})

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].CredentialID != shares[j].CredentialID {
			return shares[i].CredentialID < shares[j].CredentialID
		}

		return shares[i].UserID < shares[j].UserID
	})

	return shares, err
}

func (r *sharedCredentialRepository) Delete(_ context.Context, userID, credentialID string) error {
	return r.access.write(func(st *state) error {
		key := shareKey{userID: userID, resourceID: credentialID}
		if _, ok := st.sharedCredentials[key]; !ok {
			return persistence.ErrShareNotFound
		}

		delete(st.sharedCredentials, key)

		return nil
	})
}

func (r *sharedCredentialRepository) DeleteByCredential(_ context.Context, credentialID string) error {
	return r.access.write(func(st *state) error {
		for key := range st.sharedCredentials {
			if key.resourceID == credentialID {
				delete(st.sharedCredentials, key)
			}
		}

		return nil
	})
}

func (r *sharedCredentialRepository) Reassign(_ context.Context, fromUserID, toUserID string) error {
	return r.access.write(func(st *state) error {
		if _, ok := st.users[toUserID]; !ok {
			return persistence.ErrUserNotFound
		}

		now := time.Now().UTC()

		for key, share := range st.sharedCredentials {
			if key.userID != fromUserID {
				continue
			}

			delete(st.sharedCredentials, key)

			target := shareKey{userID: toUserID, resourceID: key.resourceID}
			if _, exists := st.sharedCredentials[target]; exists {
				continue
			}

			share.UserID = toUserID
			share.UpdatedAt = now
			st.sharedCredentials[target] = share
		}

		return nil
	})
}
