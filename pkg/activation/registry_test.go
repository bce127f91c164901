package activation_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/mocks"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/protocol"
	"github.com/tidewire/tidewire/pkg/triggers/schedule"
	"github.com/tidewire/tidewire/pkg/triggers/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeTrigger struct {
	factory *fakeFactory
	config  map[string]any
}

func (t *fakeTrigger) Start(_ context.Context, _ protocol.TriggerCallback) error {
	t.factory.mu.Lock()
	defer t.factory.mu.Unlock()

	if fail, _ := t.config["fail_start"].(bool); fail {
		return errors.New("start refused")
	}

	t.factory.running[t.config["id"].(string)] = true

	return nil
}

func (t *fakeTrigger) Stop(_ context.Context) error {
	t.factory.mu.Lock()
	defer t.factory.mu.Unlock()

	delete(t.factory.running, t.config["id"].(string))
	t.factory.stops++

	return nil
}

func (t *fakeTrigger) Validate(_ context.Context) error {
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	running map[string]bool
	configs []map[string]any
	stops   int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{running: make(map[string]bool)}
}

func (f *fakeFactory) ID() string          { return "fake" }
func (f *fakeFactory) Name() string        { return "Fake" }
func (f *fakeFactory) Description() string { return "Test trigger" }

func (f *fakeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fail_start": map[string]any{"type": "boolean"},
		},
	}
}

func (f *fakeFactory) Create(_ context.Context, config map[string]any, _ *slog.Logger) (protocol.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configs = append(f.configs, config)

	return &fakeTrigger{factory: f, config: config}, nil
}

func (f *fakeFactory) runningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.running)
}

func fakeNode(id string, parameters map[string]any) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Name: "Node " + id, Type: "tidewire.trigger.fake", Parameters: parameters}
}

func newRegistry(t *testing.T, bus *mocks.MockEventBus) (*activation.Registry, *fakeFactory, *webhook.Router) {
	t.Helper()

	var registry *activation.Registry
	if bus == nil {
		registry = activation.NewRegistry(testLogger(), nil, metrics.New())
	} else {
		registry = activation.NewRegistry(testLogger(), bus, metrics.New())
	}

	fake := newFakeFactory()
	router := webhook.NewRouter(testLogger())

	require.NoError(t, registry.RegisterFactory(fake))
	require.NoError(t, registry.RegisterFactory(webhook.NewTriggerFactory(router)))
	require.NoError(t, registry.RegisterFactory(schedule.NewScheduleTriggerFactory()))

	t.Cleanup(func() { registry.Close(context.Background()) })

	return registry, fake, router
}

func TestRegistry_RegisterDeregister(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)
	ctx := context.Background()

	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{
		models.NewStartNode(),
		fakeNode("a", nil),
		fakeNode("b", map[string]any{}),
	}}

	require.NoError(t, registry.Register(ctx, workflow, activation.ReasonActivate))
	assert.True(t, registry.IsActive("wf-1"))
	assert.Equal(t, []string{"wf-1"}, registry.Active())
	assert.Equal(t, 2, fake.runningCount())

	registry.Deregister(ctx, "wf-1")
	assert.False(t, registry.IsActive("wf-1"))
	assert.Empty(t, registry.Active())
	assert.Zero(t, fake.runningCount())

	assert.NotPanics(t, func() { registry.Deregister(ctx, "wf-1") })
	assert.NotPanics(t, func() { registry.Deregister(ctx, "never-registered") })
}

func TestRegistry_InjectsTriggerIdentity(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)

	params := map[string]any{"fail_start": false}
	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{fakeNode("a", params)}}

	require.NoError(t, registry.Register(context.Background(), workflow, activation.ReasonCreate))

	require.Len(t, fake.configs, 1)
	assert.Equal(t, "wf-1:a", fake.configs[0]["id"])
	assert.Equal(t, "wf-1", fake.configs[0]["workflow_id"])
	assert.NotContains(t, params, "id", "node parameters must not be modified")
}

func TestRegistry_RegisterFailures(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []*models.WorkflowNode
		wantCause error
		wantNode  string
	}{
		{
			name:      "no trigger nodes",
			nodes:     []*models.WorkflowNode{models.NewStartNode()},
			wantCause: activation.ErrNoTriggerNodes,
		},
		{
			name: "only disabled trigger nodes",
			nodes: []*models.WorkflowNode{
				{ID: "a", Name: "Off", Type: "tidewire.trigger.fake", Disabled: true},
			},
			wantCause: activation.ErrNoTriggerNodes,
		},
		{
			name:      "unknown trigger type",
			nodes:     []*models.WorkflowNode{{ID: "a", Name: "Mystery", Type: "tidewire.trigger.carrier_pigeon"}},
			wantCause: activation.ErrUnknownTriggerType,
			wantNode:  "Mystery",
		},
		{
			name: "schema violation",
			nodes: []*models.WorkflowNode{
				{ID: "a", Name: "Cron", Type: models.NodeTypeTriggerSchedule, Parameters: map[string]any{}},
			},
			wantCause: activation.ErrInvalidParameters,
			wantNode:  "Cron",
		},
		{
			name: "invalid cron expression",
			nodes: []*models.WorkflowNode{
				{ID: "a", Name: "Cron", Type: models.NodeTypeTriggerSchedule, Parameters: map[string]any{"cron": "every tuesday"}},
			},
			wantNode: "Cron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _, _ := newRegistry(t, nil)

			err := registry.Register(context.Background(), &models.Workflow{ID: "wf-1", Nodes: tt.nodes}, activation.ReasonActivate)
			require.Error(t, err)

			var activationErr *activation.ActivationError
			require.ErrorAs(t, err, &activationErr)
			assert.Equal(t, "wf-1", activationErr.WorkflowID)
			assert.Equal(t, tt.wantNode, activationErr.NodeName)

			if tt.wantCause != nil {
				assert.ErrorIs(t, err, tt.wantCause)
			}

			assert.False(t, registry.IsActive("wf-1"))
		})
	}
}

func TestRegistry_RollsBackStartedTriggers(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)

	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{
		fakeNode("a", nil),
		fakeNode("b", nil),
		fakeNode("c", map[string]any{"fail_start": true}),
	}}

	err := registry.Register(context.Background(), workflow, activation.ReasonActivate)
	require.Error(t, err)

	var activationErr *activation.ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.Equal(t, "Node c", activationErr.NodeName)
	assert.Contains(t, activationErr.Message(), "start refused")

	assert.False(t, registry.IsActive("wf-1"))
	assert.Zero(t, fake.runningCount())
	assert.Equal(t, 2, fake.stops)
}

func TestRegistry_DoubleRegistration(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)
	ctx := context.Background()

	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{fakeNode("a", nil)}}
	require.NoError(t, registry.Register(ctx, workflow, activation.ReasonActivate))

	for _, reason := range []activation.Reason{activation.ReasonActivate, activation.ReasonCreate, activation.ReasonInit} {
		err := registry.Register(ctx, workflow, reason)
		assert.ErrorIs(t, err, activation.ErrAlreadyRegistered, "reason %s", reason)
	}

	assert.True(t, registry.IsActive("wf-1"))

	updated := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{fakeNode("b", nil)}}
	require.NoError(t, registry.Register(ctx, updated, activation.ReasonUpdate))

	assert.True(t, registry.IsActive("wf-1"))
	assert.Equal(t, 1, fake.runningCount())
	assert.Equal(t, 1, fake.stops)
}

func TestRegistry_FailedUpdateLeavesNothingRegistered(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)
	ctx := context.Background()

	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{fakeNode("a", nil)}}
	require.NoError(t, registry.Register(ctx, workflow, activation.ReasonActivate))

	broken := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{fakeNode("a", map[string]any{"fail_start": true})}}
	require.Error(t, registry.Register(ctx, broken, activation.ReasonUpdate))

	assert.False(t, registry.IsActive("wf-1"))
	assert.Zero(t, fake.runningCount())
}

func TestRegistry_WebhookCollision(t *testing.T) {
	registry, _, router := newRegistry(t, nil)
	ctx := context.Background()

	hook := func(workflowID string) *models.Workflow {
		return &models.Workflow{ID: workflowID, Nodes: []*models.WorkflowNode{{
			ID:         "hook",
			Name:       "Incoming",
			Type:       models.NodeTypeTriggerWebhook,
			Parameters: map[string]any{"path": "/orders"},
		}}}
	}

	require.NoError(t, registry.Register(ctx, hook("wf-1"), activation.ReasonActivate))

	err := registry.Register(ctx, hook("wf-2"), activation.ReasonActivate)
	require.Error(t, err)
	assert.ErrorIs(t, err, webhook.ErrPathInUse)
	assert.False(t, registry.IsActive("wf-2"))

	registry.Deregister(ctx, "wf-1")
	assert.Zero(t, router.HandlerCount())

	require.NoError(t, registry.Register(ctx, hook("wf-2"), activation.ReasonActivate))
}

func TestRegistry_CallbackPublishesWorkflowTriggered(t *testing.T) {
	bus := &mocks.MockEventBus{}
	published := make(chan events.WorkflowTriggered, 1)

	bus.On("Publish", mock.Anything, "wf-1", mock.AnythingOfType("events.WorkflowTriggered")).
		Run(func(args mock.Arguments) {
			published <- args.Get(2).(events.WorkflowTriggered)
		}).
		Return(nil)

	registry, _, router := newRegistry(t, bus)
	ctx := context.Background()

	workflow := &models.Workflow{ID: "wf-1", Nodes: []*models.WorkflowNode{{
		ID:         "hook",
		Name:       "Incoming",
		Type:       models.NodeTypeTriggerWebhook,
		Parameters: map[string]any{"path": "/orders", "method": "POST"},
	}}}
	require.NoError(t, registry.Register(ctx, workflow, activation.ReasonActivate))

	require.NoError(t, router.Dispatch(ctx, "POST", "/orders", map[string]any{"order": 42}))

	select {
	case event := <-published:
		assert.Equal(t, "wf-1", event.WorkflowID)
		assert.Equal(t, "wf-1:hook", event.TriggerID)
		assert.Equal(t, "Incoming", event.NodeName)
		assert.Equal(t, 42, event.TriggerData["order"])
	case <-time.After(5 * time.Second):
		t.Fatal("workflow.triggered was not published")
	}

	bus.AssertExpectations(t)
}

func TestRegistry_Close(t *testing.T) {
	registry, fake, _ := newRegistry(t, nil)
	ctx := context.Background()

	for _, id := range []string{"wf-1", "wf-2"} {
		workflow := &models.Workflow{ID: id, Nodes: []*models.WorkflowNode{fakeNode("a", nil)}}
		require.NoError(t, registry.Register(ctx, workflow, activation.ReasonInit))
	}

	registry.Close(ctx)

	assert.Empty(t, registry.Active())
	assert.Zero(t, fake.runningCount())

	err := registry.Register(ctx, &models.Workflow{ID: "wf-3", Nodes: []*models.WorkflowNode{fakeNode("a", nil)}}, activation.ReasonActivate)
	assert.ErrorIs(t, err, activation.ErrClosed)
}

func TestRegistry_TriggerTypes(t *testing.T) {
	registry, _, _ := newRegistry(t, nil)

	assert.Equal(t, []string{"fake", "schedule", "webhook"}, registry.TriggerTypes())
}

func TestActivationError(t *testing.T) {
	cause := errors.New("boom")

	withNode := &activation.ActivationError{WorkflowID: "wf-1", NodeName: "Cron", Cause: cause}
	assert.Equal(t, `failed to activate workflow wf-1: node "Cron": boom`, withNode.Error())
	assert.Equal(t, `node "Cron": boom`, withNode.Message())
	assert.ErrorIs(t, withNode, cause)
	assert.True(t, activation.IsActivationError(withNode))

	withoutNode := &activation.ActivationError{WorkflowID: "wf-1", Cause: cause}
	assert.Equal(t, "failed to activate workflow wf-1: boom", withoutNode.Error())
	assert.Equal(t, "boom", withoutNode.Message())

	assert.False(t, activation.IsActivationError(cause))
}
