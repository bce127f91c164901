package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidewire/tidewire/pkg/protocol"
)

func NewTriggerFactory(router *Router) protocol.TriggerFactory {
	return &TriggerFactory{router: router}
}

type TriggerFactory struct {
	router *Router
}

func (f *TriggerFactory) ID() string {
	return "webhook"
}

func (f *TriggerFactory) Name() string {
	return "Webhook"
}

func (f *TriggerFactory) Description() string {
	return "Trigger workflow execution via HTTP webhook endpoints"
}

func (f *TriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Webhook Trigger Configuration",
		"description": "Configuration for HTTP webhook-based workflow triggering",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path under /webhook that receives requests (e.g., '/github')",
				"pattern":     `^/.+`,
				"examples":    []string{"/github", "/events/user", "/payments"},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method to accept for this webhook",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default":     "POST",
			},
			"enabled": map[string]any{
				"type":        "boolean",
				"description": "Whether this webhook trigger is active",
				"default":     true,
			},
		},
		"required": []string{"path"},
	}
}

func (f *TriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	trigger, err := NewTrigger(ctx, f.router, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook trigger: %w", err)
	}

	return trigger, nil
}
