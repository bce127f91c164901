package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/models"
)

// FakeActivator is a stateful activation.Activator for service tests. A
// workflow registers when it has at least one trigger node and is not listed
// in Fail.
type FakeActivator struct {
	mu         sync.Mutex
	registered map[string]activation.Reason
	fail       map[string]error
	calls      []string
}

func NewFakeActivator() *FakeActivator {
	return &FakeActivator{
		registered: make(map[string]activation.Reason),
		fail:       make(map[string]error),
	}
}

// Fail makes every later Register of workflowID fail with cause. A nil cause clears it.
func (f *FakeActivator) Fail(workflowID string, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cause == nil {
		delete(f.fail, workflowID)

		return
	}

	f.fail[workflowID] = cause
}

func (f *FakeActivator) Register(_ context.Context, workflow *models.Workflow, reason activation.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "register:"+workflow.ID+":"+string(reason))

	if cause, ok := f.fail[workflow.ID]; ok {
		return &activation.ActivationError{WorkflowID: workflow.ID, Cause: cause}
	}

	if len(workflow.TriggerNodes()) == 0 {
		return &activation.ActivationError{WorkflowID: workflow.ID, Cause: activation.ErrNoTriggerNodes}
	}

	if _, exists := f.registered[workflow.ID]; exists && reason != activation.ReasonUpdate {
		return &activation.ActivationError{WorkflowID: workflow.ID, Cause: activation.ErrAlreadyRegistered}
	}

	f.registered[workflow.ID] = reason

	return nil
}

func (f *FakeActivator) Deregister(_ context.Context, workflowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "deregister:"+workflowID)
	delete(f.registered, workflowID)
}

func (f *FakeActivator) IsActive(workflowID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.registered[workflowID]

	return exists
}

// Reason returns the reason of the live registration, if any.
func (f *FakeActivator) Reason(workflowID string) (activation.Reason, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	reason, exists := f.registered[workflowID]

	return reason, exists
}

// Calls returns the register/deregister calls in order.
func (f *FakeActivator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

var ErrBadTrigger = errors.New("bad trigger configuration")

// Active lists the registered workflow ids.
func (f *FakeActivator) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.registered))
	for id := range f.registered {
		ids = append(ids, id)
	}

	return ids
}
