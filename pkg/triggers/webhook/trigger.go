// Package webhook provides the HTTP webhook trigger and the router the API ingress dispatches into.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/tidewire/tidewire/pkg/protocol"
)

type Trigger struct {
	ID         string
	WorkflowID string
	Path       string
	Method     string
	Enabled    bool
	router     *Router
	logger     *slog.Logger
}

func NewTrigger(ctx context.Context, router *Router, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	workflowID, _ := config["workflow_id"].(string)

	path, ok := config["path"].(string)
	if !ok {
		path = "/" + id
	}

	method, ok := config["method"].(string)
	if !ok || method == "" {
		method = "POST"
	}

	enabled := true
	if enabledBool, ok := config["enabled"].(bool); ok {
		enabled = enabledBool
	}

	trigger := &Trigger{
		ID:         id,
		WorkflowID: workflowID,
		Path:       path,
		Method:     strings.ToUpper(method),
		Enabled:    enabled,
		router:     router,
		logger: logger.With(
			"module", "webhook_trigger",
			"path", path,
			"method", method,
			"workflow_id", workflowID,
		),
	}

	err := trigger.Validate(ctx)
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.router == nil {
		return errors.New("webhook router not configured")
	}

	if t.Path == "" || t.Path == "/" {
		return errors.New("webhook trigger path is required")
	}

	if t.Path[0] != '/' {
		return errors.New("webhook trigger path must start with '/'")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "WebhookTrigger is disabled.")

		return nil
	}

	handler := &Handler{
		TriggerID:  t.ID,
		WorkflowID: t.WorkflowID,
		Callback:   callback,
		Logger:     t.logger,
	}

	err := t.router.Register(ctx, t.Method, t.Path, handler)
	if err != nil {
		return err
	}

	t.logger.InfoContext(ctx, "WebhookTrigger started")

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping WebhookTrigger")
	t.router.Unregister(ctx, t.Method, t.Path, t.ID)

	return nil
}
