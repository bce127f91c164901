package schedule

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/protocol"
)

func TestNewScheduleTrigger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	tests := []struct {
		name        string
		config      map[string]any
		expectError bool
		expected    *ScheduleTrigger
	}{
		{
			name: "valid cron expression",
			config: map[string]any{
				"id":          "test-schedule-1",
				"cron":        "*/5 * * * *",
				"workflow_id": "workflow-123",
			},
			expected: &ScheduleTrigger{CronExpr: "*/5 * * * *", Enabled: true},
		},
		{
			name: "descriptor",
			config: map[string]any{
				"id":   "test-schedule-2",
				"cron": "@every 1h",
			},
			expected: &ScheduleTrigger{CronExpr: "@every 1h", Enabled: true},
		},
		{
			name: "with timezone",
			config: map[string]any{
				"cron":     "0 9 * * *",
				"timezone": "Europe/Berlin",
			},
			expected: &ScheduleTrigger{CronExpr: "0 9 * * *", Enabled: true},
		},
		{
			name: "disabled",
			config: map[string]any{
				"cron":    "0 9 * * *",
				"enabled": false,
			},
			expected: &ScheduleTrigger{CronExpr: "0 9 * * *", Enabled: false},
		},
		{
			name: "invalid cron expression",
			config: map[string]any{
				"id":   "test-invalid",
				"cron": "invalid cron",
			},
			expectError: true,
		},
		{
			name: "seconds field is not standard",
			config: map[string]any{
				"cron": "0 */5 * * * *",
			},
			expectError: true,
		},
		{
			name: "invalid timezone",
			config: map[string]any{
				"cron":     "0 9 * * *",
				"timezone": "Mars/Olympus",
			},
			expectError: true,
		},
		{
			name:        "empty config",
			config:      map[string]any{},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := NewScheduleTrigger(tt.config, logger)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, trigger)
			} else {
				require.NoError(t, err)
				require.NotNil(t, trigger)
				assert.Equal(t, tt.expected.CronExpr, trigger.CronExpr)
				assert.Equal(t, tt.expected.Enabled, trigger.Enabled)
				assert.NotNil(t, trigger.logger)
			}
		})
	}
}

func TestScheduleTrigger_Fires(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trigger, err := NewScheduleTrigger(map[string]any{
		"id":          "test-fires",
		"cron":        "@every 1s",
		"workflow_id": "workflow-fires",
	}, logger)
	require.NoError(t, err)

	received := make(chan map[string]any, 4)

	err = trigger.Start(t.Context(), func(_ context.Context, data map[string]any) error {
		received <- data

		return nil
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		timestamp, ok := data["timestamp"].(string)
		require.True(t, ok)

		_, err = time.Parse(time.RFC3339, timestamp)
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("schedule trigger did not fire")
	}

	require.NoError(t, trigger.Stop(t.Context()))
}

func TestScheduleTrigger_NoFiringAfterStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trigger, err := NewScheduleTrigger(map[string]any{"id": "test-stop", "cron": "@every 1s"}, logger)
	require.NoError(t, err)

	var (
		count int
		mu    sync.Mutex
	)

	err = trigger.Start(t.Context(), func(context.Context, map[string]any) error {
		mu.Lock()
		count++
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, trigger.Stop(t.Context()))

	mu.Lock()
	stopped := count
	mu.Unlock()

	time.Sleep(1500 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, stopped, count)
}

func TestScheduleTrigger_DisabledTrigger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trigger, err := NewScheduleTrigger(map[string]any{"cron": "@every 1s", "enabled": false}, logger)
	require.NoError(t, err)

	called := make(chan struct{}, 1)

	err = trigger.Start(t.Context(), func(context.Context, map[string]any) error {
		called <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	select {
	case <-called:
		t.Fatal("disabled trigger fired")
	case <-time.After(1500 * time.Millisecond):
	}

	require.NoError(t, trigger.Stop(t.Context()))
}

func TestScheduleTrigger_RepeatedStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	trigger, err := NewScheduleTrigger(map[string]any{"cron": "* * * * *"}, logger)
	require.NoError(t, err)

	callback := func(context.Context, map[string]any) error { return nil }

	for range 3 {
		assert.NoError(t, trigger.Start(t.Context(), callback))
	}

	for range 3 {
		assert.NoError(t, trigger.Stop(t.Context()))
	}
}

func TestScheduleTriggerFactory(t *testing.T) {
	factory := NewScheduleTriggerFactory()
	assert.Equal(t, "schedule", factory.ID())

	trigger, err := factory.Create(t.Context(), map[string]any{"cron": "*/5 * * * *"}, slog.Default())
	require.NoError(t, err)

	var _ protocol.Trigger = trigger

	_, err = factory.Create(t.Context(), nil, slog.Default())
	assert.ErrorIs(t, err, ErrConfigNil)
}
