// Package kafka provides the Kafka topic trigger, consuming through a Watermill subscriber.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tidewire/tidewire/pkg/protocol"
)

// SubscriberFactory opens a subscriber bound to a consumer group.
type SubscriberFactory func(consumerGroup string) (message.Subscriber, error)

type Trigger struct {
	ID            string
	WorkflowID    string
	Topic         string
	ConsumerGroup string
	newSubscriber SubscriberFactory
	subscriber    message.Subscriber
	cancel        context.CancelFunc
	done          chan struct{}
	mu            sync.Mutex
	logger        *slog.Logger
}

func NewTrigger(ctx context.Context, newSubscriber SubscriberFactory, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	workflowID, _ := config["workflow_id"].(string)
	topic, _ := config["topic"].(string)

	consumerGroup, _ := config["consumer_group"].(string)
	if consumerGroup == "" {
		consumerGroup = "tidewire-trigger-" + strings.ReplaceAll(id, ":", "-")
	}

	trigger := &Trigger{
		ID:            id,
		WorkflowID:    workflowID,
		Topic:         topic,
		ConsumerGroup: consumerGroup,
		newSubscriber: newSubscriber,
		logger: logger.With(
			"module", "kafka_trigger",
			"topic", topic,
			"consumer_group", consumerGroup,
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
	if t.Topic == "" {
		return errors.New("kafka trigger topic is required")
	}

	if t.newSubscriber == nil {
		return errors.New("kafka trigger subscriber not configured")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subscriber != nil {
		return nil
	}

	t.logger.InfoContext(ctx, "Starting Kafka trigger")

	subscriber, err := t.newSubscriber(t.ConsumerGroup)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	messages, err := subscriber.Subscribe(consumeCtx, t.Topic)
	if err != nil {
		cancel()

		if closeErr := subscriber.Close(); closeErr != nil {
			t.logger.ErrorContext(ctx, "Error closing subscriber", "error", closeErr)
		}

		return fmt.Errorf("failed to subscribe to topic %s: %w", t.Topic, err)
	}

	t.subscriber = subscriber
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.consume(consumeCtx, messages, callback)

	return nil
}

func (t *Trigger) consume(ctx context.Context, messages <-chan *message.Message, callback protocol.TriggerCallback) {
	defer close(t.done)

	for msg := range messages {
		triggerData := map[string]any{
			"topic":     t.Topic,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"key":       msg.Metadata.Get("key"),
			"message":   decodePayload(msg.Payload),
			"headers":   map[string]string(msg.Metadata),
		}

		err := callback(ctx, triggerData)
		if err != nil {
			t.logger.ErrorContext(ctx, "Error handling Kafka trigger", "error", err, "message_uuid", msg.UUID)
		}

		msg.Ack()
	}
}

func decodePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return map[string]any{"raw_message": string(payload)}
	}

	return data
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.subscriber == nil {
		return nil
	}

	t.logger.InfoContext(ctx, "Stopping Kafka trigger")

	t.cancel()

	err := t.subscriber.Close()

	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.logger.WarnContext(ctx, "Kafka trigger consumer did not stop in time")
	}

	t.subscriber = nil

	if err != nil {
		return fmt.Errorf("failed to close subscriber: %w", err)
	}

	return nil
}
