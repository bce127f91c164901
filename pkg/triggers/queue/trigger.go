// Package queue provides the Redis list queue trigger.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/tidewire/tidewire/pkg/protocol"
)

const popTimeout = 1 * time.Second

type Trigger struct {
	ID         string
	WorkflowID string
	Queue      string
	Enabled    bool

	client redis.UniversalClient
	cancel context.CancelFunc
	logger *slog.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
}

func NewTrigger(ctx context.Context, client redis.UniversalClient, config map[string]any, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	workflowID, _ := config["workflow_id"].(string)
	queue, _ := config["queue"].(string)

	enabled := true
	if enabledBool, ok := config["enabled"].(bool); ok {
		enabled = enabledBool
	}

	trigger := &Trigger{
		ID:         id,
		WorkflowID: workflowID,
		Queue:      queue,
		Enabled:    enabled,
		client:     client,
		logger: logger.With(
			"module", "queue_trigger",
			"queue", queue,
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
	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	if t.client == nil {
		return errors.New("queue trigger redis client not configured")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Enabled {
		t.logger.InfoContext(ctx, "QueueTrigger is disabled.")

		return nil
	}

	if t.cancel != nil {
		return nil
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()

	err := t.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Starting QueueTrigger")

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel

	t.wg.Add(1)

	go t.consume(consumeCtx, callback)

	return nil
}

func (t *Trigger) consume(ctx context.Context, callback protocol.TriggerCallback) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		default:
			err := t.processMessage(ctx, callback)
			if err != nil && ctx.Err() == nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(popTimeout)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context, callback protocol.TriggerCallback) error {
	result, err := t.client.BLPop(ctx, popTimeout, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	triggerData := decodeMessage(result[1])

	err = callback(ctx, triggerData)
	if err != nil {
		t.logger.ErrorContext(ctx, "Error handling queue trigger", "error", err)
	}

	return nil
}

func decodeMessage(message string) map[string]any {
	var triggerData map[string]any
	if err := json.Unmarshal([]byte(message), &triggerData); err != nil || triggerData == nil {
		triggerData = map[string]any{"message": message}
	}

	if triggerData["timestamp"] == nil {
		triggerData["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	return triggerData
}

// Stop ends consumption. The Redis client is shared and stays open.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}

	t.logger.InfoContext(ctx, "Stopping QueueTrigger")

	t.cancel()
	t.wg.Wait()
	t.cancel = nil

	return nil
}
