package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
)

func (f *fixture) workflowRole(t *testing.T) *models.Role {
	t.Helper()

	role, err := f.persistence.Roles().Find(t.Context(), models.RoleOwner, models.RoleScopeWorkflow)
	require.NoError(t, err)

	return role
}

func TestLedger_ShareWorkflowConflict(t *testing.T) {
	f := newFixture(t)

	created := f.createWorkflow(t, f.member, manualWorkflow("report"), false)

	_, err := f.ledger.ShareWorkflow(t.Context(), f.persistence, created, f.member, f.workflowRole(t))
	require.Error(t, err)
	assert.True(t, persistence.IsConflict(err))
	assert.True(t, IsConflictError(err))

	share, err := f.ledger.ShareWorkflow(t.Context(), f.persistence, created, f.owner, f.workflowRole(t))
	require.NoError(t, err)
	assert.Equal(t, created.ID, share.Workflow.ID)
	assert.Equal(t, models.RoleOwner, share.Role.Name)
}

func TestLedger_FindSharedWorkflow(t *testing.T) {
	f := newFixture(t)

	stranger := f.createUser(t, "stranger@example.com", models.RoleMember, true)
	created := f.createWorkflow(t, f.member, manualWorkflow("report"), false)

	tests := []struct {
		name        string
		user        *models.User
		workflowID  string
		expectError bool
	}{
		{name: "share holder", user: f.member, workflowID: created.ID},
		{name: "instance owner without share", user: f.owner, workflowID: created.ID},
		{name: "member without share", user: stranger, workflowID: created.ID, expectError: true},
		{name: "missing workflow", user: f.member, workflowID: "missing", expectError: true},
		{name: "missing workflow for owner", user: f.owner, workflowID: "missing", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			share, err := f.ledger.FindSharedWorkflow(t.Context(), tt.user, tt.workflowID)

			if tt.expectError {
				require.ErrorIs(t, err, ErrNotFoundOrUnauthorized)
				assert.Nil(t, share)

				return
			}

			require.NoError(t, err)
			require.NotNil(t, share.Workflow)
			assert.Equal(t, created.ID, share.Workflow.ID)
		})
	}
}

func TestLedger_TransferOwnership(t *testing.T) {
	f := newFixture(t)

	target := f.createUser(t, "target@example.com", models.RoleMember, true)

	mine := f.createWorkflow(t, f.member, webhookWorkflow("mine"), true)
	theirs := f.createWorkflow(t, target, manualWorkflow("theirs"), false)
	both := f.createWorkflow(t, f.member, manualWorkflow("both"), false)

	_, err := f.ledger.ShareWorkflow(t.Context(), f.persistence, both, target, f.workflowRole(t))
	require.NoError(t, err)

	credential := f.createCredential(t, f.member, "ops slack")

	require.NoError(t, f.ledger.TransferOwnership(t.Context(), f.member, target))

	_, err = f.persistence.Users().GetByID(t.Context(), f.member.ID)
	assert.True(t, persistence.IsNotFound(err))

	memberShares, err := f.persistence.SharedWorkflows().ListByUser(t.Context(), f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, memberShares)

	targetShares, err := f.persistence.SharedWorkflows().ListByUser(t.Context(), target.ID)
	require.NoError(t, err)

	ids := make([]string, 0, len(targetShares))
	for _, share := range targetShares {
		ids = append(ids, share.WorkflowID)
	}

	assert.ElementsMatch(t, []string{mine.ID, theirs.ID, both.ID}, ids)

	credentialShares, err := f.persistence.SharedCredentials().ListByCredential(t.Context(), credential.ID)
	require.NoError(t, err)
	require.Len(t, credentialShares, 1)
	assert.Equal(t, target.ID, credentialShares[0].UserID)

	// transferred workflows keep running
	assert.True(t, f.activator.IsActive(mine.ID))
	assert.True(t, f.stored(t, mine.ID).Active)
}

func TestLedger_CascadeDelete(t *testing.T) {
	f := newFixture(t)

	coOwner := f.createUser(t, "co-owner@example.com", models.RoleMember, true)

	active := f.createWorkflow(t, f.member, webhookWorkflow("active"), true)
	idle := f.createWorkflow(t, f.member, manualWorkflow("idle"), false)
	shared := f.createWorkflow(t, f.member, webhookWorkflow("shared"), true)

	_, err := f.ledger.ShareWorkflow(t.Context(), f.persistence, shared, coOwner, f.workflowRole(t))
	require.NoError(t, err)

	owned := f.createCredential(t, f.member, "ops slack")
	coOwned := f.createCredential(t, f.member, "team slack")

	credentialRole, err := f.persistence.Roles().Find(t.Context(), models.RoleOwner, models.RoleScopeCredential)
	require.NoError(t, err)
	require.NoError(t, f.persistence.SharedCredentials().Create(t.Context(), &models.SharedCredential{
		UserID: coOwner.ID, CredentialID: coOwned.ID, RoleID: credentialRole.ID,
	}))

	require.NoError(t, f.ledger.CascadeDelete(t.Context(), f.member))

	assert.Contains(t, f.activator.Calls(), "deregister:"+active.ID)
	assert.NotContains(t, f.activator.Calls(), "deregister:"+idle.ID)
	assert.False(t, f.activator.IsActive(active.ID))

	for _, id := range []string{active.ID, idle.ID} {
		_, err := f.persistence.Workflows().GetByID(t.Context(), id)
		assert.True(t, persistence.IsNotFound(err), "workflow %s should be deleted", id)
	}

	// a workflow another user also owns survives, still active
	assert.True(t, f.stored(t, shared.ID).Active)
	assert.True(t, f.activator.IsActive(shared.ID))

	_, err = f.persistence.Credentials().GetByID(t.Context(), owned.ID)
	assert.True(t, persistence.IsNotFound(err))

	_, err = f.persistence.Credentials().GetByID(t.Context(), coOwned.ID)
	require.NoError(t, err)

	workflowShares, err := f.persistence.SharedWorkflows().ListByUser(t.Context(), f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, workflowShares)

	credentialShares, err := f.persistence.SharedCredentials().ListByUser(t.Context(), f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, credentialShares)

	_, err = f.persistence.Users().GetByID(t.Context(), f.member.ID)
	assert.True(t, persistence.IsNotFound(err))

	assert.Zero(t, f.locker.Len())
}

func TestLedger_CascadeDeleteRollback(t *testing.T) {
	f := newFixture(t)

	active := f.createWorkflow(t, f.member, webhookWorkflow("active"), true)
	stale := f.createWorkflow(t, f.member, webhookWorkflow("stale"), true)

	ledger := NewLedger(failingTransactions{f.persistence}, f.activator, f.locker, f.logger)

	// stale cannot be registered again once torn down
	f.activator.Fail(stale.ID, activation.ErrUnknownTriggerType)

	err := ledger.CascadeDelete(t.Context(), f.member)
	require.Error(t, err)
	assert.True(t, persistence.IsTransactionError(err))

	_, err = f.persistence.Users().GetByID(t.Context(), f.member.ID)
	require.NoError(t, err)

	reason, registered := f.activator.Reason(active.ID)
	assert.True(t, registered)
	assert.Equal(t, activation.ReasonInit, reason)

	assert.False(t, f.stored(t, stale.ID).Active)

	for _, id := range []string{active.ID, stale.ID} {
		assertConsistent(t, f, id)
	}
}
