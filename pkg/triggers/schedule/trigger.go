// Package schedule provides the cron schedule trigger.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidewire/tidewire/pkg/protocol"
)

type ScheduleTrigger struct {
	ID         string
	CronExpr   string
	Timezone   string
	WorkflowID string
	Enabled    bool
	cron       *cron.Cron
	callback   protocol.TriggerCallback
	mu         sync.Mutex
	logger     *slog.Logger
}

func NewScheduleTrigger(config map[string]any, logger *slog.Logger) (*ScheduleTrigger, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)
	timezone, _ := config["timezone"].(string)
	workflowID, _ := config["workflow_id"].(string)

	enabled := true
	if enabledBool, ok := config["enabled"].(bool); ok {
		enabled = enabledBool
	}

	trigger := &ScheduleTrigger{
		ID:         id,
		CronExpr:   cronExpr,
		Timezone:   timezone,
		Enabled:    enabled,
		WorkflowID: workflowID,
		logger: logger.With(
			"module", "schedule_trigger",
			"id", id,
			"cron", cronExpr,
			"workflow_id", workflowID,
		),
	}

	if err := trigger.Validate(context.Background()); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *ScheduleTrigger) Validate(_ context.Context) error {
	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	return nil
}

func (t *ScheduleTrigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.Enabled {
		t.logger.InfoContext(ctx, "ScheduleTrigger is disabled.")

		return nil
	}

	if t.cron != nil {
		return nil
	}

	t.logger.InfoContext(ctx, "Starting ScheduleTrigger")
	t.callback = callback

	location := time.UTC
	if t.Timezone != "" {
		loaded, err := time.LoadLocation(t.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}

		location = loaded
	}

	scheduler := cron.New(
		cron.WithLocation(location),
		cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		),
	)

	entryID, err := scheduler.AddFunc(t.CronExpr, t.run)
	if err != nil {
		return fmt.Errorf("failed to add cron job for trigger %s: %w", t.ID, err)
	}

	t.logger.InfoContext(ctx, "Added cron job for trigger", "entry_id", entryID)

	scheduler.Start()
	t.cron = scheduler

	return nil
}

func (t *ScheduleTrigger) run() {
	t.logger.Info("Cron job triggered")

	triggerData := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := t.callback(context.Background(), triggerData); err != nil {
		t.logger.Error("Error handling schedule trigger", "error", err)
	}
}

func (t *ScheduleTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.InfoContext(ctx, "Stopping ScheduleTrigger")

	if t.cron != nil {
		<-t.cron.Stop().Done()
		t.cron = nil
	}

	return nil
}
