package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/auth"
	"github.com/tidewire/tidewire/pkg/credentials"
	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/locks"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/mocks"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/persistence"
	"github.com/tidewire/tidewire/pkg/persistence/file"
	"github.com/tidewire/tidewire/pkg/testutil"
)

var errDiskFull = errors.New("disk full")

type recordingNotifier struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, event eventbus.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(eventType events.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	count := 0

	for _, event := range n.events {
		if event.GetType() == eventType {
			count++
		}
	}

	return count
}

func (n *recordingNotifier) last(eventType events.EventType) eventbus.Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].GetType() == eventType {
			return n.events[i]
		}
	}

	return nil
}

// failingTransactions behaves like the wrapped persistence except that every
// transaction rolls back.
type failingTransactions struct {
	persistence.Persistence
}

func (failingTransactions) Transaction(context.Context, func(context.Context, persistence.Repositories) error) error {
	return persistence.NewTransactionError(errDiskFull)
}

type fixture struct {
	persistence *file.Persistence
	activator   *mocks.FakeActivator
	notifier    *recordingNotifier
	mailer      *mocks.MockMailer
	locker      *locks.MemoryLocker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	ledger      *Ledger
	workflows   *Workflow
	users       *Users
	owner       *models.User
	member      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, EnsureRoles(ctx, p.Roles()))

	f := &fixture{
		persistence: p,
		activator:   mocks.NewFakeActivator(),
		notifier:    &recordingNotifier{},
		mailer:      &mocks.MockMailer{},
		locker:      locks.NewMemoryLocker(),
		metrics:     metrics.New(),
		logger:      slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}

	f.ledger = NewLedger(p, f.activator, f.locker, f.logger)
	f.workflows = f.newWorkflowService(p)
	f.users = f.newUserService(t, p, f.ledger)

	f.owner = f.createUser(t, "owner@example.com", models.RoleOwner, true)
	f.member = f.createUser(t, "member@example.com", models.RoleMember, true)

	return f
}

func (f *fixture) newWorkflowService(p persistence.Persistence) *Workflow {
	return NewWorkflow(WorkflowConfig{
		Persistence: p,
		Ledger:      NewLedger(p, f.activator, f.locker, f.logger),
		Activator:   f.activator,
		Repairer:    credentials.NewRepairer(p.Credentials(), f.logger),
		Locker:      f.locker,
		Notifier:    f.notifier,
		Metrics:     f.metrics,
		Logger:      f.logger,
	})
}

func (f *fixture) newUserService(t *testing.T, p persistence.Persistence, ledger *Ledger) *Users {
	t.Helper()

	tokens, err := auth.NewInviteTokens("test-secret", time.Hour)
	require.NoError(t, err)

	return NewUsers(UsersConfig{
		Persistence: p,
		Ledger:      ledger,
		Mailer:      f.mailer,
		Tokens:      tokens,
		Notifier:    f.notifier,
		Metrics:     f.metrics,
		BaseURL:     "https://tidewire.example.com/",
		Logger:      f.logger,
	})
}

func (f *fixture) createUser(t *testing.T, email, globalRole string, signedUp bool) *models.User {
	t.Helper()

	ctx := context.Background()

	role, err := f.persistence.Roles().Find(ctx, globalRole, models.RoleScopeGlobal)
	require.NoError(t, err)

	user := &models.User{Email: email, GlobalRoleID: role.ID}
	if signedUp {
		user.PasswordHash = "$2a$10$hash"
		user.APIKey = auth.GenerateAPIKey()
	}

	require.NoError(t, f.persistence.Users().Create(ctx, user))

	loaded, err := f.persistence.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)

	return loaded
}

// createWorkflow stores workflow through the service, optionally activating it.
func (f *fixture) createWorkflow(t *testing.T, user *models.User, workflow *models.Workflow, activate bool) *models.Workflow {
	t.Helper()

	created, err := f.workflows.Create(t.Context(), user, workflow)
	require.NoError(t, err)

	if activate {
		created, err = f.workflows.Activate(t.Context(), user, created.ID)
		require.NoError(t, err)
	}

	return created
}

func (f *fixture) stored(t *testing.T, id string) *models.Workflow {
	t.Helper()

	workflow, err := f.persistence.Workflows().GetByID(t.Context(), id)
	require.NoError(t, err)

	return workflow
}

func (f *fixture) createCredential(t *testing.T, user *models.User, name string) *models.Credential {
	t.Helper()

	ctx := t.Context()

	credential := &models.Credential{Name: name, Type: "slackApi"}
	require.NoError(t, f.persistence.Credentials().Create(ctx, credential))

	role, err := f.persistence.Roles().Find(ctx, models.RoleOwner, models.RoleScopeCredential)
	require.NoError(t, err)

	require.NoError(t, f.persistence.SharedCredentials().Create(ctx, &models.SharedCredential{
		UserID:       user.ID,
		CredentialID: credential.ID,
		RoleID:       role.ID,
	}))

	return credential
}

// webhookWorkflow returns a webhook workflow whose node ids are left for the
// service to assign.
func webhookWorkflow(name string) *models.Workflow {
	workflow := testutil.CreateWebhookWorkflow(name, "/"+name)
	for _, node := range workflow.Nodes {
		node.ID = ""
	}

	return workflow
}

func manualWorkflow(name string) *models.Workflow {
	return testutil.CreateManualWorkflow(name)
}
