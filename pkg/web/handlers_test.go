package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/auth"
	"github.com/tidewire/tidewire/pkg/credentials"
	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/locks"
	"github.com/tidewire/tidewire/pkg/mailer"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/notify"
	"github.com/tidewire/tidewire/pkg/persistence/file"
	"github.com/tidewire/tidewire/pkg/services"
	"github.com/tidewire/tidewire/pkg/testutil"
	"github.com/tidewire/tidewire/pkg/triggers/schedule"
	"github.com/tidewire/tidewire/pkg/triggers/webhook"
	"github.com/tidewire/tidewire/pkg/web"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) triggered(workflowID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, event := range p.events {
		if triggered, ok := event.(events.WorkflowTriggered); ok && triggered.WorkflowID == workflowID {
			return true
		}
	}

	return false
}

type apiFixture struct {
	app         *fiber.App
	persistence *file.Persistence
	registry    *activation.Registry
	publisher   *recordingPublisher
	ownerKey    string
	memberKey   string
	owner       *models.User
	member      *models.User
}

func setupTestApp(t *testing.T) *apiFixture {
	t.Helper()

	ctx := t.Context()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, services.EnsureRoles(ctx, p.Roles()))

	publisher := &recordingPublisher{}
	m := metrics.New()
	router := webhook.NewRouter(logger)

	registry := activation.NewRegistry(logger, publisher, m)
	require.NoError(t, registry.RegisterFactory(webhook.NewTriggerFactory(router)))
	require.NoError(t, registry.RegisterFactory(schedule.NewScheduleTriggerFactory()))
	t.Cleanup(func() { registry.Close(context.Background()) })

	dispatcher := notify.NewDispatcher(logger, publisher, m, notify.Options{})
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	locker := locks.NewMemoryLocker()
	ledger := services.NewLedger(p, registry, locker, logger)

	tokens, err := auth.NewInviteTokens("test-secret", time.Hour)
	require.NoError(t, err)

	workflowService := services.NewWorkflow(services.WorkflowConfig{
		Persistence: p,
		Ledger:      ledger,
		Activator:   registry,
		Repairer:    credentials.NewRepairer(p.Credentials(), logger),
		Locker:      locker,
		Notifier:    dispatcher,
		Metrics:     m,
		Logger:      logger,
	})

	userService := services.NewUsers(services.UsersConfig{
		Persistence: p,
		Ledger:      ledger,
		Mailer:      mailer.NewLogMailer(logger),
		Tokens:      tokens,
		Notifier:    dispatcher,
		Metrics:     m,
		BaseURL:     "https://tidewire.example.com",
		Logger:      logger,
	})

	handlers := web.NewAPIHandlers(workflowService, userService, router, registry, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.Mount(app, p.Users())

	f := &apiFixture{app: app, persistence: p, registry: registry, publisher: publisher}
	f.owner, f.ownerKey = f.createUser(t, "owner@example.com", models.RoleOwner)
	f.member, f.memberKey = f.createUser(t, "member@example.com", models.RoleMember)

	return f
}

func (f *apiFixture) createUser(t *testing.T, email, globalRole string) (*models.User, string) {
	t.Helper()

	role, err := f.persistence.Roles().Find(t.Context(), globalRole, models.RoleScopeGlobal)
	require.NoError(t, err)

	apiKey := auth.GenerateAPIKey()
	user := &models.User{Email: email, GlobalRoleID: role.ID, PasswordHash: "$2a$10$hash", APIKey: apiKey}
	require.NoError(t, f.persistence.Users().Create(t.Context(), user))

	return user, apiKey
}

func (f *apiFixture) do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if apiKey != "" {
		req.Header.Set(web.APIKeyHeader, apiKey)
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var value T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))

	return value
}

func (f *apiFixture) createWorkflow(t *testing.T, apiKey string, req web.WorkflowRequest) *models.Workflow {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/v1/workflows", apiKey, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return decode[*models.Workflow](t, resp)
}

func webhookRequest(name, path string) web.WorkflowRequest {
	workflow := testutil.CreateWebhookWorkflow(name, path)

	return web.WorkflowRequest{Name: workflow.Name, Nodes: workflow.Nodes, Connections: workflow.Connections}
}

func TestAPIHandlers_Authentication(t *testing.T) {
	f := setupTestApp(t)

	_, pendingKey := f.createUser(t, "pending@example.com", models.RoleMember)
	pending, err := f.persistence.Users().GetByAPIKey(t.Context(), pendingKey)
	require.NoError(t, err)

	pending.PasswordHash = ""
	require.NoError(t, f.persistence.Users().Update(t.Context(), pending))

	tests := []struct {
		name           string
		apiKey         string
		expectedStatus int
	}{
		{name: "missing key", apiKey: "", expectedStatus: http.StatusUnauthorized},
		{name: "unknown key", apiKey: "not-a-key", expectedStatus: http.StatusUnauthorized},
		{name: "pending user", apiKey: pendingKey, expectedStatus: http.StatusUnauthorized},
		{name: "member", apiKey: f.memberKey, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, "/api/v1/workflows", tt.apiKey, nil)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	f := setupTestApp(t)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{name: "valid workflow", body: webhookRequest("orders", "/orders"), expectedStatus: http.StatusCreated},
		{name: "missing name", body: web.WorkflowRequest{}, expectedStatus: http.StatusBadRequest},
		{name: "node without type", body: web.WorkflowRequest{
			Name:  "broken",
			Nodes: []*models.WorkflowNode{{Name: "Untyped"}},
		}, expectedStatus: http.StatusBadRequest},
		{name: "invalid JSON", body: "not an object", expectedStatus: http.StatusBadRequest},
		{name: "null node", body: map[string]any{"name": "x", "nodes": []any{nil}}, expectedStatus: http.StatusBadRequest},
		{name: "null connection", body: map[string]any{
			"name":        "x",
			"nodes":       webhookRequest("x", "/x").Nodes,
			"connections": []any{nil},
		}, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/v1/workflows", f.memberKey, tt.body)
			require.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusCreated {
				return
			}

			created := decode[*models.Workflow](t, resp)
			assert.NotEmpty(t, created.ID)
			assert.False(t, created.Active)
			assert.True(t, models.HasStartNode(created))
		})
	}
}

func TestAPIHandlers_WorkflowLifecycle(t *testing.T) {
	f := setupTestApp(t)

	created := f.createWorkflow(t, f.memberKey, webhookRequest("orders", "/orders"))

	// inactive workflows do not receive webhooks
	resp := f.do(t, http.MethodPost, "/webhook/orders", "", map[string]any{"id": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/activate", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[*models.Workflow](t, resp).Active)
	assert.True(t, f.registry.IsActive(created.ID))

	resp = f.do(t, http.MethodPost, "/webhook/orders", "", map[string]any{"id": 1})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool { return f.publisher.triggered(created.ID) }, time.Second, 10*time.Millisecond)

	resp = f.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/deactivate", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[*models.Workflow](t, resp).Active)
	assert.False(t, f.registry.IsActive(created.ID))

	resp = f.do(t, http.MethodPost, "/webhook/orders", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/v1/workflows/"+created.ID, f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	deleted := decode[*models.Workflow](t, resp)
	assert.Equal(t, created.ID, deleted.ID)
	assert.Equal(t, "orders", deleted.Name)

	resp = f.do(t, http.MethodGet, "/api/v1/workflows/"+created.ID, f.memberKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_ActivateWithoutTrigger(t *testing.T) {
	f := setupTestApp(t)

	created := f.createWorkflow(t, f.memberKey, web.WorkflowRequest{Name: "manual"})

	resp := f.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/activate", f.memberKey, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem := decode[map[string]any](t, resp)
	assert.Equal(t, "activation_error", problem["type"])
	assert.NotEmpty(t, problem["detail"])

	stored, err := f.persistence.Workflows().GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.False(t, f.registry.IsActive(created.ID))
}

func TestAPIHandlers_UpdateActiveWithBrokenTrigger(t *testing.T) {
	f := setupTestApp(t)

	created := f.createWorkflow(t, f.memberKey, webhookRequest("orders", "/orders"))

	resp := f.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/activate", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the path misses its leading slash
	resp = f.do(t, http.MethodPut, "/api/v1/workflows/"+created.ID, f.memberKey, webhookRequest("orders v2", "orders"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	problem := decode[problems.ExtendedProblem[web.ActivationProblemExtensions]](t, resp)
	assert.Equal(t, "activation_error", problem.Type)
	require.NotNil(t, problem.Extensions.Workflow)
	assert.Equal(t, created.ID, problem.Extensions.Workflow.ID)
	assert.Equal(t, "orders v2", problem.Extensions.Workflow.Name)
	assert.False(t, problem.Extensions.Workflow.Active)

	stored, err := f.persistence.Workflows().GetByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders v2", stored.Name)
	assert.False(t, stored.Active)
	assert.False(t, f.registry.IsActive(created.ID))

	resp = f.do(t, http.MethodPut, "/api/v1/workflows/"+created.ID, f.memberKey, webhookRequest("orders v3", "/orders"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[*models.Workflow](t, resp).Active)
}

func TestAPIHandlers_WorkflowVisibility(t *testing.T) {
	f := setupTestApp(t)

	mine := f.createWorkflow(t, f.memberKey, web.WorkflowRequest{Name: "member workflow"})
	theirs := f.createWorkflow(t, f.ownerKey, web.WorkflowRequest{Name: "owner workflow"})

	tests := []struct {
		name           string
		apiKey         string
		workflowID     string
		expectedStatus int
	}{
		{name: "member reads own", apiKey: f.memberKey, workflowID: mine.ID, expectedStatus: http.StatusOK},
		{name: "member reads unshared", apiKey: f.memberKey, workflowID: theirs.ID, expectedStatus: http.StatusNotFound},
		{name: "owner reads any", apiKey: f.ownerKey, workflowID: mine.ID, expectedStatus: http.StatusOK},
		{name: "missing workflow", apiKey: f.ownerKey, workflowID: "missing", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, "/api/v1/workflows/"+tt.workflowID, tt.apiKey, nil)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}

	resp := f.do(t, http.MethodGet, "/api/v1/workflows", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[web.ListResponse[*models.Workflow]](t, resp)
	require.Len(t, page.Data, 1)
	assert.Equal(t, mine.ID, page.Data[0].ID)
}

func TestAPIHandlers_ListWorkflowsPagination(t *testing.T) {
	f := setupTestApp(t)

	for _, name := range []string{"a", "b", "c"} {
		f.createWorkflow(t, f.ownerKey, web.WorkflowRequest{Name: name})
	}

	resp := f.do(t, http.MethodGet, "/api/v1/workflows?limit=2", f.ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	first := decode[web.ListResponse[*models.Workflow]](t, resp)
	assert.Len(t, first.Data, 2)
	assert.Equal(t, int64(3), first.TotalCount)
	require.NotNil(t, first.NextCursor)

	resp = f.do(t, http.MethodGet, "/api/v1/workflows?cursor="+*first.NextCursor, f.ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second := decode[web.ListResponse[*models.Workflow]](t, resp)
	assert.Len(t, second.Data, 1)
	assert.Nil(t, second.NextCursor)

	resp = f.do(t, http.MethodGet, "/api/v1/workflows?active=true", f.ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[web.ListResponse[*models.Workflow]](t, resp).Data)

	for _, query := range []string{"cursor=bm9wZQ", "offset=-1", "active=maybe"} {
		resp = f.do(t, http.MethodGet, "/api/v1/workflows?"+query, f.ownerKey, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestAPIHandlers_InviteAndSignup(t *testing.T) {
	f := setupTestApp(t)

	invites := []web.InviteRequest{{Email: "new@example.com"}}

	resp := f.do(t, http.MethodPost, "/api/v1/users", f.memberKey, invites)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/users", f.ownerKey, []web.InviteRequest{{Email: "not-an-email"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/v1/users", f.ownerKey, invites)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	results := decode[[]services.InviteResult](t, resp)
	require.Len(t, results, 1)
	assert.True(t, results[0].EmailSent)

	signupURL, err := url.Parse(results[0].SignupURL)
	require.NoError(t, err)

	token := signupURL.Query().Get("token")
	require.NotEmpty(t, token)

	resp = f.do(t, http.MethodGet, "/api/v1/users/new@example.com", f.ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[web.UserView](t, resp).IsPending)

	signup := services.AcceptInviteRequest{Token: token, FirstName: "New", Password: "correct-horse"}

	resp = f.do(t, http.MethodPost, "/api/v1/signup", "", signup)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	signedUp := decode[web.SignupResponse](t, resp)
	assert.False(t, signedUp.IsPending)
	assert.Equal(t, "New", signedUp.FirstName)
	require.NotEmpty(t, signedUp.APIKey)

	resp = f.do(t, http.MethodGet, "/api/v1/workflows", signedUp.APIKey, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// tokens are single use
	resp = f.do(t, http.MethodPost, "/api/v1/signup", "", signup)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIHandlers_GetUsers(t *testing.T) {
	f := setupTestApp(t)

	resp := f.do(t, http.MethodGet, "/api/v1/users?include_role=true&limit=1", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := decode[web.ListResponse[web.UserViewWithRole]](t, resp)
	require.Len(t, page.Data, 1)
	assert.NotEmpty(t, page.Data[0].Role)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.NotNil(t, page.NextCursor)

	resp = f.do(t, http.MethodGet, "/api/v1/users/"+f.member.ID+"?include_role=true", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.RoleMember, decode[web.UserViewWithRole](t, resp).Role)

	resp = f.do(t, http.MethodGet, "/api/v1/users/nobody@example.com", f.memberKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_DeleteUser(t *testing.T) {
	f := setupTestApp(t)

	created := f.createWorkflow(t, f.memberKey, webhookRequest("orders", "/orders"))

	resp := f.do(t, http.MethodPost, "/api/v1/workflows/"+created.ID+"/activate", f.memberKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name           string
		path           string
		apiKey         string
		expectedStatus int
	}{
		{name: "member cannot delete", path: "/api/v1/users/" + f.owner.ID, apiKey: f.memberKey, expectedStatus: http.StatusForbidden},
		{name: "delete self", path: "/api/v1/users/" + f.owner.ID, apiKey: f.ownerKey, expectedStatus: http.StatusBadRequest},
		{name: "transfer to deleted user", path: "/api/v1/users/" + f.member.ID + "?transfer_id=" + f.member.ID, apiKey: f.ownerKey, expectedStatus: http.StatusBadRequest},
		{name: "missing user", path: "/api/v1/users/missing", apiKey: f.ownerKey, expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodDelete, tt.path, tt.apiKey, nil)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}

	resp = f.do(t, http.MethodDelete, "/api/v1/users/"+f.member.ID+"?transfer_id="+f.owner.ID, f.ownerKey, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/workflows/"+created.ID, f.ownerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[*models.Workflow](t, resp).Active)
	assert.True(t, f.registry.IsActive(created.ID))

	resp = f.do(t, http.MethodGet, "/api/v1/workflows", f.memberKey, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	f := setupTestApp(t)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["checkers"], "registry")
	assert.Contains(t, body["checkers"], "repository")
}
