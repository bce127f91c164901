package schedule

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

func NewScheduleTriggerFactory() protocol.TriggerFactory {
	return &ScheduleTriggerFactory{}
}

type ScheduleTriggerFactory struct{}

func (f *ScheduleTriggerFactory) ID() string {
	return "schedule"
}

func (f *ScheduleTriggerFactory) Name() string {
	return "Schedule"
}

func (f *ScheduleTriggerFactory) Description() string {
	return "Trigger workflow execution based on cron schedule expressions"
}

func (f *ScheduleTriggerFactory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Schedule Trigger Configuration",
		"description": "Configuration for cron-based workflow triggering",
		"properties": map[string]any{
			"cron": map[string]any{
				"type":        "string",
				"description": "Cron expression (standard 5-field format or @every/@daily descriptors)",
				"minLength":   1,
				"examples": []string{
					"0 9 * * *",
					"*/15 * * * *",
					"@every 1h",
				},
			},
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone the schedule is evaluated in (defaults to UTC)",
				"examples":    []string{"Europe/Berlin", "America/Sao_Paulo"},
			},
			"enabled": map[string]any{
				"type":        "boolean",
				"description": "Whether this trigger is active",
				"default":     true,
			},
		},
		"required": []string{"cron"},
	}
}

func (f *ScheduleTriggerFactory) Create(_ context.Context, config map[string]any, logger *slog.Logger) (protocol.Trigger, error) {
	if config == nil {
		return nil, ErrConfigNil
	}

	trigger, err := NewScheduleTrigger(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
	}

	return trigger, nil
}
