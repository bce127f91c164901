package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type liveTrigger struct {
	id          string
	nodeName    string
	triggerType string
	trigger     protocol.Trigger
}

type entry struct {
	reason      Reason
	triggers    []liveTrigger
	activatedAt time.Time
}

// Registry is the in-process Activator. Trigger kinds are pluggable through
// protocol.TriggerFactory; each firing publishes a workflow.triggered event.
type Registry struct {
	factories map[string]protocol.TriggerFactory
	schemas   map[string]*gojsonschema.Schema
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	entries   map[string]*entry
	closed    bool
	mu        sync.Mutex
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, publisher eventbus.EventPublisher, m *metrics.Metrics) *Registry {
	return &Registry{
		factories: make(map[string]protocol.TriggerFactory),
		schemas:   make(map[string]*gojsonschema.Schema),
		publisher: publisher,
		metrics:   m,
		entries:   make(map[string]*entry),
		logger:    logger.With("module", "activation_registry"),
	}
}

// RegisterFactory makes a trigger kind available. Node types map to factories
// by the suffix after "tidewire.trigger.".
func (r *Registry) RegisterFactory(factory protocol.TriggerFactory) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("failed to compile schema for trigger %s: %w", factory.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	r.schemas[factory.ID()] = schema

	return nil
}

// TriggerTypes lists the registered trigger kinds.
func (r *Registry) TriggerTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.factories))
}

func (r *Registry) Register(ctx context.Context, workflow *models.Workflow, reason Reason) error {
	if workflow == nil {
		return errors.New("workflow is nil")
	}

	logger := r.logger.With("workflow_id", workflow.ID, "reason", reason)

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return &ActivationError{WorkflowID: workflow.ID, Cause: ErrClosed}
	}

	previous, exists := r.entries[workflow.ID]
	if exists && reason != ReasonUpdate {
		r.mu.Unlock()

		return &ActivationError{WorkflowID: workflow.ID, Cause: ErrAlreadyRegistered}
	}

	delete(r.entries, workflow.ID)
	r.mu.Unlock()

	if exists {
		logger.InfoContext(ctx, "Replacing live registration")
		r.stopAll(ctx, logger, previous.triggers)
	}

	started, err := r.startTriggers(ctx, logger, workflow)
	if err != nil {
		r.metrics.ActivationFailed(string(reason))
		r.updateGauge()

		return err
	}

	r.mu.Lock()

	if _, raced := r.entries[workflow.ID]; raced || r.closed {
		r.mu.Unlock()
		r.stopAll(ctx, logger, started)

		return &ActivationError{WorkflowID: workflow.ID, Cause: ErrAlreadyRegistered}
	}

	r.entries[workflow.ID] = &entry{reason: reason, triggers: started, activatedAt: time.Now().UTC()}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetRegisteredWorkflows(count)
	logger.InfoContext(ctx, "Workflow registered", "triggers", len(started))

	return nil
}

// startTriggers builds every trigger first, then starts them in order. On any
// failure the ones already started are stopped again.
func (r *Registry) startTriggers(ctx context.Context, logger *slog.Logger, workflow *models.Workflow) ([]liveTrigger, error) {
	nodes := workflow.TriggerNodes()
	if len(nodes) == 0 {
		return nil, &ActivationError{WorkflowID: workflow.ID, Cause: ErrNoTriggerNodes}
	}

	built := make([]liveTrigger, 0, len(nodes))

	for _, node := range nodes {
		trigger, err := r.createTrigger(ctx, workflow.ID, node)
		if err != nil {
			return nil, &ActivationError{WorkflowID: workflow.ID, NodeName: node.Name, Cause: err}
		}

		built = append(built, liveTrigger{
			id:          triggerID(workflow.ID, nodeKey(node)),
			nodeName:    node.Name,
			triggerType: node.TriggerType(),
			trigger:     trigger,
		})
	}

	started := make([]liveTrigger, 0, len(built))

	for _, live := range built {
		callback := r.callback(workflow.ID, live.id, live.nodeName, live.triggerType)

		err := live.trigger.Start(ctx, callback)
		if err != nil {
			logger.WarnContext(ctx, "Trigger failed to start, rolling back",
				"node", live.nodeName, "error", err)
			r.stopAll(ctx, logger, started)

			return nil, &ActivationError{WorkflowID: workflow.ID, NodeName: live.nodeName, Cause: err}
		}

		started = append(started, live)
	}

	return started, nil
}

func (r *Registry) createTrigger(ctx context.Context, workflowID string, node *models.WorkflowNode) (protocol.Trigger, error) {
	triggerType := node.TriggerType()

	r.mu.Lock()
	factory, ok := r.factories[triggerType]
	schema := r.schemas[triggerType]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTriggerType, node.Type)
	}

	parameters := node.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(parameters))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(messages, "; "))
	}

	config := maps.Clone(parameters)
	config["id"] = triggerID(workflowID, nodeKey(node))
	config["workflow_id"] = workflowID

	return factory.Create(ctx, config, r.logger)
}

func nodeKey(node *models.WorkflowNode) string {
	if node.ID != "" {
		return node.ID
	}

	return node.Name
}

func triggerID(workflowID, node string) string {
	return workflowID + ":" + node
}

func (r *Registry) callback(workflowID, triggerID, nodeName, triggerType string) protocol.TriggerCallback {
	return func(ctx context.Context, data map[string]any) error {
		r.metrics.TriggerFired(triggerType)

		if r.publisher == nil {
			return nil
		}

		event := events.WorkflowTriggered{
			BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent),
			WorkflowID:  workflowID,
			TriggerID:   triggerID,
			NodeName:    nodeName,
			TriggerData: data,
		}

		err := r.publisher.Publish(ctx, workflowID, event)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to publish workflow.triggered",
				"workflow_id", workflowID, "node", nodeName, "error", err)

			return fmt.Errorf("failed to publish trigger event: %w", err)
		}

		return nil
	}
}

func (r *Registry) Deregister(ctx context.Context, workflowID string) {
	r.mu.Lock()
	current, exists := r.entries[workflowID]
	delete(r.entries, workflowID)
	count := len(r.entries)
	r.mu.Unlock()

	if !exists {
		return
	}

	logger := r.logger.With("workflow_id", workflowID)
	r.stopAll(ctx, logger, current.triggers)
	r.metrics.SetRegisteredWorkflows(count)

	logger.InfoContext(ctx, "Workflow deregistered")
}

func (r *Registry) stopAll(ctx context.Context, logger *slog.Logger, triggers []liveTrigger) {
	for i := len(triggers) - 1; i >= 0; i-- {
		err := triggers[i].trigger.Stop(ctx)
		if err != nil {
			logger.WarnContext(ctx, "Failed to stop trigger", "node", triggers[i].nodeName, "error", err)
		}
	}
}

func (r *Registry) updateGauge() {
	r.mu.Lock()
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.SetRegisteredWorkflows(count)
}

func (r *Registry) IsActive(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[workflowID]

	return exists
}

// Active returns the registered workflow ids in lexical order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Sorted(maps.Keys(r.entries))
}

// Close stops every live trigger. Further registrations fail.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for workflowID, current := range entries {
		r.stopAll(ctx, r.logger.With("workflow_id", workflowID), current.triggers)
	}

	r.metrics.SetRegisteredWorkflows(0)
}
