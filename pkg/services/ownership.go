package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/locks"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

// Ledger records which users hold which workflows and credentials, and moves
// or removes those records when a user goes away.
type Ledger struct {
	persistence persistence.Persistence
	activator   activation.Activator
	locker      locks.Locker
	logger      *slog.Logger
}

func NewLedger(p persistence.Persistence, activator activation.Activator, locker locks.Locker, logger *slog.Logger) *Ledger {
	return &Ledger{
		persistence: p,
		activator:   activator,
		locker:      locker,
		logger:      logger.With("module", "ownership_ledger"),
	}
}

// ShareWorkflow grants user the role over workflow through repos, which is
// normally a transaction. A second share for the same pair is a conflict.
func (l *Ledger) ShareWorkflow(
	ctx context.Context,
	repos persistence.Repositories,
	workflow *models.Workflow,
	user *models.User,
	role *models.Role,
) (*models.SharedWorkflow, error) {
	share := &models.SharedWorkflow{
		UserID:     user.ID,
		WorkflowID: workflow.ID,
		RoleID:     role.ID,
	}

	err := repos.SharedWorkflows().Create(ctx, share)
	if err != nil {
		return nil, fmt.Errorf("failed to share workflow %s with user %s: %w", workflow.ID, user.ID, err)
	}

	share.Role = role
	share.Workflow = workflow

	return share, nil
}

// FindSharedWorkflow returns the caller's share of the workflow, with the
// workflow embedded. Instance owners may reach every workflow through its
// owner's share. A missing workflow and a workflow the caller cannot see
// both yield ErrNotFoundOrUnauthorized.
func (l *Ledger) FindSharedWorkflow(ctx context.Context, user *models.User, workflowID string) (*models.SharedWorkflow, error) {
	share, err := l.persistence.SharedWorkflows().Get(ctx, user.ID, workflowID)
	if err == nil {
		return share, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, fmt.Errorf("failed to find shared workflow: %w", err)
	}

	if !user.IsInstanceOwner() {
		return nil, ErrNotFoundOrUnauthorized
	}

	shares, err := l.persistence.SharedWorkflows().ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to find shared workflow: %w", err)
	}

	if len(shares) == 0 {
		return nil, ErrNotFoundOrUnauthorized
	}

	for _, candidate := range shares {
		if candidate.Role != nil && candidate.Role.Name == models.RoleOwner {
			return candidate, nil
		}
	}

	return shares[0], nil
}

// SharedWorkflows lists every share the user holds.
func (l *Ledger) SharedWorkflows(ctx context.Context, user *models.User) ([]*models.SharedWorkflow, error) {
	shares, err := l.persistence.SharedWorkflows().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared workflows: %w", err)
	}

	return shares, nil
}

// TransferOwnership moves every workflow and credential share of from to to
// and deletes from, all in one transaction.
func (l *Ledger) TransferOwnership(ctx context.Context, from, to *models.User) error {
	err := l.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		if err := tx.SharedWorkflows().Reassign(ctx, from.ID, to.ID); err != nil {
			return fmt.Errorf("failed to transfer workflows: %w", err)
		}

		if err := tx.SharedCredentials().Reassign(ctx, from.ID, to.ID); err != nil {
			return fmt.Errorf("failed to transfer credentials: %w", err)
		}

		if err := tx.Users().Delete(ctx, from.ID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "Transferred ownership", "from_user_id", from.ID, "to_user_id", to.ID)

	return nil
}

// CascadeDelete removes from together with the workflows and credentials
// nobody else owns. Active workflows are deregistered before the transaction
// runs. If the transaction fails they are registered again; one that cannot
// be is persisted inactive.
func (l *Ledger) CascadeDelete(ctx context.Context, from *models.User) error {
	workflowIDs, err := l.solelyOwnedWorkflows(ctx, from)
	if err != nil {
		return err
	}

	credentialIDs, err := l.solelyOwnedCredentials(ctx, from)
	if err != nil {
		return err
	}

	unlock, err := l.lockAll(ctx, workflowIDs)
	if err != nil {
		return err
	}
	defer unlock()

	deregistered := make([]*models.Workflow, 0)

	for _, id := range workflowIDs {
		workflow, err := l.persistence.Workflows().GetByID(ctx, id)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}

			return fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		if workflow.Active || l.activator.IsActive(id) {
			l.activator.Deregister(ctx, id)
			deregistered = append(deregistered, workflow)
		}
	}

	err = l.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		for _, id := range workflowIDs {
			if err := tx.SharedWorkflows().DeleteByWorkflow(ctx, id); err != nil {
				return fmt.Errorf("failed to delete shares of workflow %s: %w", id, err)
			}

			err := tx.Workflows().Delete(ctx, id)
			if err != nil && !persistence.IsNotFound(err) {
				return fmt.Errorf("failed to delete workflow %s: %w", id, err)
			}
		}

		for _, id := range credentialIDs {
			if err := tx.SharedCredentials().DeleteByCredential(ctx, id); err != nil {
				return fmt.Errorf("failed to delete shares of credential %s: %w", id, err)
			}

			err := tx.Credentials().Delete(ctx, id)
			if err != nil && !persistence.IsNotFound(err) {
				return fmt.Errorf("failed to delete credential %s: %w", id, err)
			}
		}

		if err := tx.Users().Delete(ctx, from.ID); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}

		return nil
	})
	if err != nil {
		l.restore(ctx, deregistered)

		return err
	}

	l.logger.InfoContext(ctx, "Deleted user with owned resources",
		"user_id", from.ID, "workflows", len(workflowIDs), "credentials", len(credentialIDs))

	return nil
}

func (l *Ledger) restore(ctx context.Context, workflows []*models.Workflow) {
	for _, workflow := range workflows {
		err := l.activator.Register(ctx, workflow, activation.ReasonInit)
		if err == nil {
			continue
		}

		l.logger.ErrorContext(ctx, "Failed to restore registration after aborted delete",
			"workflow_id", workflow.ID, "error", err)

		if err := l.persistence.Workflows().SetActive(ctx, workflow.ID, false); err != nil {
			l.logger.ErrorContext(ctx, "Failed to mark workflow inactive", "workflow_id", workflow.ID, "error", err)
		}
	}
}

// solelyOwnedWorkflows returns the ids of workflows where user holds the owner
// role and no other user does.
func (l *Ledger) solelyOwnedWorkflows(ctx context.Context, user *models.User) ([]string, error) {
	ownerRole, err := findRole(ctx, l.persistence.Roles(), models.RoleOwner, models.RoleScopeWorkflow)
	if err != nil {
		return nil, err
	}

	shares, err := l.persistence.SharedWorkflows().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared workflows: %w", err)
	}

	ids := make([]string, 0, len(shares))

	for _, share := range shares {
		if share.RoleID != ownerRole.ID {
			continue
		}

		all, err := l.persistence.SharedWorkflows().ListByWorkflow(ctx, share.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to list shares of workflow %s: %w", share.WorkflowID, err)
		}

		coOwned := slices.ContainsFunc(all, func(other *models.SharedWorkflow) bool {
			return other.UserID != user.ID && other.RoleID == ownerRole.ID
		})
		if !coOwned {
			ids = append(ids, share.WorkflowID)
		}
	}

	return ids, nil
}

func (l *Ledger) solelyOwnedCredentials(ctx context.Context, user *models.User) ([]string, error) {
	ownerRole, err := findRole(ctx, l.persistence.Roles(), models.RoleOwner, models.RoleScopeCredential)
	if err != nil {
		return nil, err
	}

	shares, err := l.persistence.SharedCredentials().ListByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared credentials: %w", err)
	}

	ids := make([]string, 0, len(shares))

	for _, share := range shares {
		if share.RoleID != ownerRole.ID {
			continue
		}

		all, err := l.persistence.SharedCredentials().ListByCredential(ctx, share.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("failed to list shares of credential %s: %w", share.CredentialID, err)
		}

		coOwned := slices.ContainsFunc(all, func(other *models.SharedCredential) bool {
			return other.UserID != user.ID && other.RoleID == ownerRole.ID
		})
		if !coOwned {
			ids = append(ids, share.CredentialID)
		}
	}

	return ids, nil
}

// lockAll takes the workflow locks in id order so two cascades cannot
// deadlock each other.
func (l *Ledger) lockAll(ctx context.Context, workflowIDs []string) (func(), error) {
	sorted := slices.Sorted(slices.Values(workflowIDs))
	unlocks := make([]locks.Unlock, 0, len(sorted))

	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, id := range sorted {
		unlock, err := l.locker.Lock(ctx, workflowLockKey(id))
		if err != nil {
			release()

			return nil, fmt.Errorf("failed to lock workflow %s: %w", id, err)
		}

		unlocks = append(unlocks, unlock)
	}

	return release, nil
}

func workflowLockKey(id string) string {
	return "workflow:" + id
}
