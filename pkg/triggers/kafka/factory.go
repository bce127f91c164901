package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidewire/tidewire/pkg/protocol"
)

var (
	ErrConfigNil = errors.New("config cannot be nil")
)

func NewKafkaTriggerFactory(newSubscriber SubscriberFactory) protocol.TriggerFactory {
	return &KafkaTriggerFactory{newSubscriber: newSubscriber}
}

type KafkaTriggerFactory struct {
	newSubscriber SubscriberFactory
}

func (f *KafkaTriggerFactory) ID() string {
	return "kafka"
}

func (f *KafkaTriggerFactory) Name() string {
	return "Kafka"
}

func (f *KafkaTriggerFactory) Description() string {
	return "Trigger workflow execution when messages are received on Kafka topics"
}

func (f *KafkaTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Kafka Trigger Configuration",
		"description": "Configuration for Kafka topic message triggering",
		"properties": map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"description": "The Kafka topic name to subscribe to",
				"minLength":   1,
				"examples":    []string{"user-events", "orders"},
			},
			"consumer_group": map[string]any{
				"type":        "string",
				"description": "Kafka consumer group ID (defaults to tidewire-trigger-{trigger_id})",
			},
		},
		"required": []string{"topic"},
	}
}

func (f *KafkaTriggerFactory) Create(ctx context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewTrigger(ctx, f.newSubscriber, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka trigger: %w", err)
	}

	return trigger, nil
}
