package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
	"github.com/tidewire/tidewire/pkg/protocol"
)

func NewQueueTriggerFactory(client redis.UniversalClient) protocol.TriggerFactory {
	return &QueueTriggerFactory{client: client}
}

type QueueTriggerFactory struct {
	client redis.UniversalClient
}

func (f *QueueTriggerFactory) ID() string {
	return "queue"
}

func (f *QueueTriggerFactory) Name() string {
	return "Queue"
}

func (f *QueueTriggerFactory) Description() string {
	return "Trigger workflow execution for each message pushed onto a Redis list"
}

func (f *QueueTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":  "object",
		"title": "Queue Trigger Configuration",
		"properties": map[string]any{
			"queue": map[string]any{
				"type":        "string",
				"description": "Name of the Redis list to pop messages from",
				"minLength":   1,
			},
			"enabled": map[string]any{
				"type":    "boolean",
				"default": true,
			},
		},
		"required": []string{"queue"},
	}
}

func (f *QueueTriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	trigger, err := NewTrigger(ctx, f.client, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue trigger: %w", err)
	}

	return trigger, nil
}
