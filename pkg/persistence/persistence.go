// Package persistence provides the data storage abstraction for users, workflows and their shares.
package persistence

import (
	"context"

	"github.com/tidewire/tidewire/pkg/models"
)

// Persistence is the storage root. Repositories obtained from it run outside
// any transaction; Transaction hands the callback repositories bound to one.
type Persistence interface {
	Repositories

	// Transaction runs fn atomically. If fn or the commit fails, every write
	// made through the Repositories passed to fn is discarded and the error is
	// returned wrapped in a *TransactionError.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Repositories groups the entity repositories.
type Repositories interface {
	Users() UserRepository
	Roles() RoleRepository
	Workflows() WorkflowRepository
	SharedWorkflows() SharedWorkflowRepository
	Credentials() CredentialRepository
	SharedCredentials() SharedCredentialRepository
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	// GetByID, GetByEmail and GetByAPIKey load the user's global role.
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
	ListByEmails(ctx context.Context, emails []string) ([]*models.User, error)
	List(ctx context.Context, opts ListUsersOptions) ([]*models.User, int64, error)
}

type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	Find(ctx context.Context, name string, scope models.RoleScope) (*models.Role, error)
	GetByID(ctx context.Context, id string) (*models.Role, error)
}

type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	// Update replaces the workflow graph, name, settings, tags and active flag.
	Update(ctx context.Context, workflow *models.Workflow) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, int64, error)
}

type SharedWorkflowRepository interface {
	Create(ctx context.Context, share *models.SharedWorkflow) error
	// Get returns the share with its role and workflow loaded.
	Get(ctx context.Context, userID, workflowID string) (*models.SharedWorkflow, error)
	// ListByUser returns the user's shares with role and workflow loaded.
	ListByUser(ctx context.Context, userID string) ([]*models.SharedWorkflow, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.SharedWorkflow, error)
	Delete(ctx context.Context, userID, workflowID string) error
	DeleteByWorkflow(ctx context.Context, workflowID string) error
	// Reassign moves every share of fromUserID to toUserID. Shares toUserID
	// already holds on the same workflow are kept and fromUserID's copy dropped.
	Reassign(ctx context.Context, fromUserID, toUserID string) error
}

type CredentialRepository interface {
	Create(ctx context.Context, credential *models.Credential) error
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	FindByNameAndType(ctx context.Context, name, credentialType string) ([]*models.Credential, error)
	Delete(ctx context.Context, id string) error
}

type SharedCredentialRepository interface {
	Create(ctx context.Context, share *models.SharedCredential) error
	ListByUser(ctx context.Context, userID string) ([]*models.SharedCredential, error)
	ListByCredential(ctx context.Context, credentialID string) ([]*models.SharedCredential, error)
	Delete(ctx context.Context, userID, credentialID string) error
	DeleteByCredential(ctx context.Context, credentialID string) error
	Reassign(ctx context.Context, fromUserID, toUserID string) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	Offset int
	// Limit <= 0 returns every matching workflow.
	Limit  int
	Active *bool
	// IDs restricts the listing when non-nil. An empty non-nil slice matches nothing.
	IDs []string
}

// ListUsersOptions paginates user listings.
type ListUsersOptions struct {
	Offset int
	Limit  int
}
