package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/credentials"
	"github.com/tidewire/tidewire/pkg/events"
	"github.com/tidewire/tidewire/pkg/locks"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/models"
	"github.com/tidewire/tidewire/pkg/notify"
	"github.com/tidewire/tidewire/pkg/otelhelper"
	"github.com/tidewire/tidewire/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultWorkflowListLimit = 100
	MaxWorkflowListLimit     = 250
)

// Transition names reported in metrics and spans.
const (
	transitionCreate     = "create"
	transitionUpdate     = "update"
	transitionActivate   = "activate"
	transitionDeactivate = "deactivate"
	transitionDelete     = "delete"
	transitionReconcile  = "reconcile"
)

type WorkflowConfig struct {
	Persistence persistence.Persistence
	Ledger      *Ledger
	Activator   activation.Activator
	Repairer    *credentials.Repairer
	Locker      locks.Locker
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// Workflow drives workflows through create, update, activate, deactivate and
// delete. A workflow is stored active exactly when its triggers are
// registered with the activator: registration happens before the active flag
// is written, and deregistration before it is cleared.
type Workflow struct {
	persistence persistence.Persistence
	ledger      *Ledger
	activator   activation.Activator
	repairer    *credentials.Repairer
	locker      locks.Locker
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(config WorkflowConfig) *Workflow {
	tracer := config.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Workflow{
		persistence: config.Persistence,
		ledger:      config.Ledger,
		activator:   config.Activator,
		repairer:    config.Repairer,
		locker:      config.Locker,
		notifier:    config.Notifier,
		metrics:     config.Metrics,
		tracer:      tracer,
		validate:    validator.New(),
		logger:      config.Logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Offset int
	Limit  int
	Active *bool
}

// Create stores a new inactive workflow owned by user. A start node is added
// when the graph has none.
func (w *Workflow) Create(ctx context.Context, user *models.User, workflow *models.Workflow) (created *models.Workflow, err error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.create", attribute.String(otelhelper.UserIDKey, user.ID))
	defer func() {
		w.record(transitionCreate, err)
		otelhelper.End(span, err)
	}()

	created, err = w.prepare(workflow)
	if err != nil {
		return nil, err
	}

	w.repairCredentials(ctx, created)

	created.ID = ""
	created.Active = false

	role, err := findRole(ctx, w.persistence.Roles(), models.RoleOwner, models.RoleScopeWorkflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		if err := tx.Workflows().Create(ctx, created); err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}

		_, err := w.ledger.ShareWorkflow(ctx, tx, created, user, role)

		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.WorkflowIDKey, created.ID))
	w.logger.InfoContext(ctx, "Created workflow", "workflow_id", created.ID, "user_id", user.ID)

	return created, nil
}

// Update replaces the workflow graph. An active workflow is deregistered
// before the write and registered again afterwards. If registering fails the
// edit is kept, the workflow is stored inactive and the activation error is
// returned together with the stored workflow.
func (w *Workflow) Update(ctx context.Context, user *models.User, id string, workflow *models.Workflow) (updated *models.Workflow, err error) {
	ctx, span := w.startSpan(ctx, "workflow.update", user, id)
	defer func() {
		w.record(transitionUpdate, err)
		otelhelper.End(span, err)
	}()

	next, err := w.prepare(workflow)
	if err != nil {
		return nil, err
	}

	unlock, err := w.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := w.load(ctx, user, id)
	if err != nil {
		return nil, err
	}

	w.repairCredentials(ctx, next)

	wasActive := current.Active || w.activator.IsActive(id)
	if wasActive {
		w.activator.Deregister(ctx, id)
	}

	next.ID = id
	next.Active = false
	next.CreatedAt = current.CreatedAt

	if err := w.persistence.Workflows().Update(ctx, next); err != nil {
		if wasActive {
			w.restore(ctx, current)
		}

		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	if !wasActive {
		return w.reload(ctx, id)
	}

	activationErr := w.activator.Register(ctx, next, activation.ReasonUpdate)
	if activationErr != nil {
		w.activationFailed(ctx, next, activation.ReasonUpdate, activationErr)
		w.notifyDeactivated(ctx, id, user.ID)

		final, err := w.reload(ctx, id)
		if err != nil {
			return nil, errors.Join(activationErr, err)
		}

		return final, activationErr
	}

	if err := w.persistence.Workflows().SetActive(ctx, id, true); err != nil {
		w.activator.Deregister(ctx, id)

		return nil, fmt.Errorf("failed to mark workflow active: %w", err)
	}

	w.notifyActivated(ctx, id, activation.ReasonUpdate, user.ID)

	return w.reload(ctx, id)
}

// Activate registers the workflow's triggers and then stores it active.
// Activating an active workflow changes nothing. When registering fails
// nothing is written.
func (w *Workflow) Activate(ctx context.Context, user *models.User, id string) (workflow *models.Workflow, err error) {
	ctx, span := w.startSpan(ctx, "workflow.activate", user, id)
	noop := false
	defer func() {
		if noop {
			w.metrics.Transition(transitionActivate, metrics.OutcomeNoop)
		} else {
			w.record(transitionActivate, err)
		}

		otelhelper.End(span, err)
	}()

	unlock, err := w.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	workflow, err = w.load(ctx, user, id)
	if err != nil {
		return nil, err
	}

	registered := w.activator.IsActive(id)

	switch {
	case workflow.Active && registered:
		noop = true

		return workflow, nil
	case workflow.Active && !registered:
		return w.repairActive(ctx, user, workflow)
	case !workflow.Active && registered:
		w.logger.WarnContext(ctx, "Dropping registration of inactive workflow", "workflow_id", id)
		w.activator.Deregister(ctx, id)
	}

	if err := w.activator.Register(ctx, workflow, activation.ReasonActivate); err != nil {
		w.activationFailed(ctx, workflow, activation.ReasonActivate, err)

		return nil, err
	}

	if err := w.persistence.Workflows().SetActive(ctx, id, true); err != nil {
		w.activator.Deregister(ctx, id)

		return nil, fmt.Errorf("failed to mark workflow active: %w", err)
	}

	workflow.Active = true
	w.notifyActivated(ctx, id, activation.ReasonActivate, user.ID)

	w.logger.InfoContext(ctx, "Activated workflow", "workflow_id", id, "user_id", user.ID)

	return workflow, nil
}

// repairActive handles a workflow stored active whose triggers are not
// registered. It registers them, or stores the workflow inactive when that fails.
func (w *Workflow) repairActive(ctx context.Context, user *models.User, workflow *models.Workflow) (*models.Workflow, error) {
	w.logger.WarnContext(ctx, "Active workflow had no registration", "workflow_id", workflow.ID)

	err := w.activator.Register(ctx, workflow, activation.ReasonActivate)
	if err == nil {
		w.notifyActivated(ctx, workflow.ID, activation.ReasonActivate, user.ID)

		return workflow, nil
	}

	w.activationFailed(ctx, workflow, activation.ReasonActivate, err)

	if setErr := w.persistence.Workflows().SetActive(ctx, workflow.ID, false); setErr != nil {
		return nil, errors.Join(err, fmt.Errorf("failed to mark workflow inactive: %w", setErr))
	}

	return nil, err
}

// Deactivate deregisters the workflow's triggers and then stores it inactive.
// Deactivating an inactive workflow changes nothing.
func (w *Workflow) Deactivate(ctx context.Context, user *models.User, id string) (workflow *models.Workflow, err error) {
	ctx, span := w.startSpan(ctx, "workflow.deactivate", user, id)
	noop := false
	defer func() {
		if noop {
			w.metrics.Transition(transitionDeactivate, metrics.OutcomeNoop)
		} else {
			w.record(transitionDeactivate, err)
		}

		otelhelper.End(span, err)
	}()

	unlock, err := w.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	workflow, err = w.load(ctx, user, id)
	if err != nil {
		return nil, err
	}

	registered := w.activator.IsActive(id)
	if !workflow.Active && !registered {
		noop = true

		return workflow, nil
	}

	w.activator.Deregister(ctx, id)

	if workflow.Active {
		if err := w.persistence.Workflows().SetActive(ctx, id, false); err != nil {
			w.restore(ctx, workflow)

			return nil, fmt.Errorf("failed to mark workflow inactive: %w", err)
		}
	}

	workflow.Active = false
	w.notifyDeactivated(ctx, id, user.ID)

	w.logger.InfoContext(ctx, "Deactivated workflow", "workflow_id", id, "user_id", user.ID)

	return workflow, nil
}

// Delete deregisters the workflow when active and then removes it with all
// its shares in one transaction. It returns the deleted workflow.
func (w *Workflow) Delete(ctx context.Context, user *models.User, id string) (workflow *models.Workflow, err error) {
	ctx, span := w.startSpan(ctx, "workflow.delete", user, id)
	defer func() {
		w.record(transitionDelete, err)
		otelhelper.End(span, err)
	}()

	unlock, err := w.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	workflow, err = w.load(ctx, user, id)
	if err != nil {
		return nil, err
	}

	wasActive := workflow.Active || w.activator.IsActive(id)
	if wasActive {
		w.activator.Deregister(ctx, id)
	}

	err = w.persistence.Transaction(ctx, func(ctx context.Context, tx persistence.Repositories) error {
		if err := tx.SharedWorkflows().DeleteByWorkflow(ctx, id); err != nil {
			return fmt.Errorf("failed to delete workflow shares: %w", err)
		}

		if err := tx.Workflows().Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete workflow: %w", err)
		}

		return nil
	})
	if err != nil {
		if wasActive {
			w.restore(ctx, workflow)
		}

		return nil, err
	}

	w.notifier.Notify(ctx, id, &events.WorkflowDeleted{
		BaseEvent:  events.NewBaseEvent(events.WorkflowDeletedEvent),
		WorkflowID: id,
		UserID:     user.ID,
	})

	w.logger.InfoContext(ctx, "Deleted workflow", "workflow_id", id, "user_id", user.ID)

	return workflow, nil
}

// Get returns the workflow when user may see it.
func (w *Workflow) Get(ctx context.Context, user *models.User, id string) (*models.Workflow, error) {
	return w.load(ctx, user, id)
}

// List pages through the workflows user may see. Instance owners see every
// workflow.
func (w *Workflow) List(ctx context.Context, user *models.User, req ListWorkflowsRequest) ([]*models.Workflow, int64, error) {
	if req.Offset < 0 {
		return nil, 0, NewValidationError("list_workflows", "INVALID_OFFSET", "offset must not be negative", ErrInvalidRequest)
	}

	if req.Limit <= 0 {
		req.Limit = DefaultWorkflowListLimit
	}

	req.Limit = min(req.Limit, MaxWorkflowListLimit)

	opts := persistence.ListWorkflowsOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Active: req.Active,
	}

	if !user.IsInstanceOwner() {
		shares, err := w.ledger.SharedWorkflows(ctx, user)
		if err != nil {
			return nil, 0, err
		}

		opts.IDs = make([]string, 0, len(shares))
		for _, share := range shares {
			opts.IDs = append(opts.IDs, share.WorkflowID)
		}
	}

	workflows, total, err := w.persistence.Workflows().List(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, total, nil
}

// Reconcile registers every workflow stored active, as on process start.
// Workflows that cannot be registered are stored inactive. It returns how
// many workflows were registered.
func (w *Workflow) Reconcile(ctx context.Context) (registered int, err error) {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "workflow.reconcile")
	defer func() { otelhelper.End(span, err) }()

	active := true

	workflows, _, err := w.persistence.Workflows().List(ctx, persistence.ListWorkflowsOptions{Active: &active})
	if err != nil {
		return 0, fmt.Errorf("failed to list active workflows: %w", err)
	}

	for _, workflow := range workflows {
		if w.reconcileOne(ctx, workflow) {
			registered++
		}
	}

	w.logger.InfoContext(ctx, "Reconciled active workflows", "registered", registered, "total", len(workflows))

	return registered, nil
}

func (w *Workflow) reconcileOne(ctx context.Context, workflow *models.Workflow) bool {
	unlock, err := w.lock(ctx, workflow.ID)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to lock workflow for reconcile", "workflow_id", workflow.ID, "error", err)

		return false
	}
	defer unlock()

	if w.activator.IsActive(workflow.ID) {
		return true
	}

	err = w.activator.Register(ctx, workflow, activation.ReasonInit)
	if err == nil {
		w.metrics.Transition(transitionReconcile, metrics.OutcomeSuccess)

		return true
	}

	w.metrics.Transition(transitionReconcile, metrics.OutcomeFailure)
	w.activationFailed(ctx, workflow, activation.ReasonInit, err)

	if err := w.persistence.Workflows().SetActive(ctx, workflow.ID, false); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark workflow inactive", "workflow_id", workflow.ID, "error", err)
	}

	return false
}

// prepare validates a submitted workflow and returns a normalized copy with
// node ids filled in and a start node present.
func (w *Workflow) prepare(workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("prepare_workflow", "WORKFLOW_NIL", "workflow cannot be nil", ErrWorkflowNil)
	}

	if slices.Contains(workflow.Nodes, nil) || slices.Contains(workflow.Connections, nil) {
		return nil, NewValidationError("prepare_workflow", "INVALID_WORKFLOW", "nodes and connections must not be null", ErrInvalidRequest)
	}

	prepared := workflow.Clone()
	prepared.Name = strings.TrimSpace(prepared.Name)

	if prepared.Name == "" {
		return nil, NewValidationError("prepare_workflow", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	for _, node := range prepared.Nodes {
		if node != nil && node.ID == "" {
			node.ID = uuid.NewString()
		}
	}

	models.EnsureStartNode(prepared)

	if err := w.validate.Struct(prepared); err != nil {
		return nil, NewValidationError("prepare_workflow", "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	return prepared, nil
}

// repairCredentials points name-only credential references at stored
// credentials. Callers authorize first.
func (w *Workflow) repairCredentials(ctx context.Context, workflow *models.Workflow) {
	if w.repairer != nil {
		w.repairer.Repair(ctx, workflow.Nodes)
	}
}

// load returns the stored workflow behind user's share.
func (w *Workflow) load(ctx context.Context, user *models.User, id string) (*models.Workflow, error) {
	share, err := w.ledger.FindSharedWorkflow(ctx, user, id)
	if err != nil {
		return nil, err
	}

	if share.Workflow != nil {
		return share.Workflow, nil
	}

	return w.reload(ctx, id)
}

func (w *Workflow) reload(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// restore puts back the registration of a workflow whose storage write failed
// after it was deregistered. If that fails too the workflow is stored inactive.
func (w *Workflow) restore(ctx context.Context, workflow *models.Workflow) {
	err := w.activator.Register(ctx, workflow, activation.ReasonInit)
	if err == nil {
		return
	}

	w.logger.ErrorContext(ctx, "Failed to restore workflow registration", "workflow_id", workflow.ID, "error", err)

	if err := w.persistence.Workflows().SetActive(ctx, workflow.ID, false); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark workflow inactive", "workflow_id", workflow.ID, "error", err)
	}
}

func (w *Workflow) lock(ctx context.Context, id string) (locks.Unlock, error) {
	unlock, err := w.locker.Lock(ctx, workflowLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", id, err)
	}

	return unlock, nil
}

// nolint:ireturn,spancheck
func (w *Workflow) startSpan(ctx context.Context, name string, user *models.User, id string) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, w.tracer, name,
		attribute.String(otelhelper.WorkflowIDKey, id),
		attribute.String(otelhelper.UserIDKey, user.ID),
	)
}

func (w *Workflow) record(transition string, err error) {
	if err != nil {
		w.metrics.Transition(transition, metrics.OutcomeFailure)

		return
	}

	w.metrics.Transition(transition, metrics.OutcomeSuccess)
}

func (w *Workflow) activationFailed(ctx context.Context, workflow *models.Workflow, reason activation.Reason, err error) {
	w.metrics.ActivationFailed(string(reason))

	w.logger.WarnContext(ctx, "Workflow activation failed",
		"workflow_id", workflow.ID, "reason", reason, "error", err)

	event := &events.WorkflowActivationFailed{
		BaseEvent:  events.NewBaseEvent(events.WorkflowActivationFailedEvent),
		WorkflowID: workflow.ID,
		Reason:     string(reason),
		Error:      err.Error(),
	}

	var activationErr *activation.ActivationError
	if errors.As(err, &activationErr) {
		event.NodeName = activationErr.NodeName
		event.Error = activationErr.Message()
	}

	w.notifier.Notify(ctx, workflow.ID, event)
}

func (w *Workflow) notifyActivated(ctx context.Context, id string, reason activation.Reason, userID string) {
	w.notifier.Notify(ctx, id, &events.WorkflowActivated{
		BaseEvent:  events.NewBaseEvent(events.WorkflowActivatedEvent),
		WorkflowID: id,
		Reason:     string(reason),
		UserID:     userID,
	})
}

func (w *Workflow) notifyDeactivated(ctx context.Context, id, userID string) {
	w.notifier.Notify(ctx, id, &events.WorkflowDeactivated{
		BaseEvent:  events.NewBaseEvent(events.WorkflowDeactivatedEvent),
		WorkflowID: id,
		UserID:     userID,
	})
}
