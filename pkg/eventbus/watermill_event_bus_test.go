package eventbus

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewire/tidewire/pkg/channels/gochannel"
	"github.com/tidewire/tidewire/pkg/events"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.New(slog.NewTextHandler(os.Stdout, nil)), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribe(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.UserDeleted, 1)

	require.NoError(t, bus.Handle(events.UserDeletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.UserDeleted)

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "u1", events.UserDeleted{
		BaseEvent:         events.NewBaseEvent(events.UserDeletedEvent),
		UserID:            "u1",
		MigrationStrategy: events.MigrationDeleteData,
		PreviousStatus:    "active",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, events.MigrationDeleteData, event.MigrationStrategy)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan string, 1)

	require.NoError(t, bus.Handle(events.WorkflowActivatedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.WorkflowActivated).WorkflowID

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowDeactivated{
		BaseEvent:  events.NewBaseEvent(events.WorkflowDeactivatedEvent),
		WorkflowID: "wf-1",
	}))
	require.NoError(t, bus.Publish(ctx, "wf-2", events.WorkflowActivated{
		BaseEvent:  events.NewBaseEvent(events.WorkflowActivatedEvent),
		WorkflowID: "wf-2",
		Reason:     "activate",
	}))

	select {
	case id := <-received:
		assert.Equal(t, "wf-2", id)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

func TestWatermillEventBus_UndecodableMessagesAreAcked(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(slog.New(slog.NewTextHandler(os.Stdout, nil)), pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	received := make(chan string, 2)

	require.NoError(t, bus.Handle(events.UserDeletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.UserDeleted).UserID

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	broken := message.NewMessage(watermill.NewUUID(), []byte("not json"))
	broken.Metadata.Set(events.EventTypeMetadataKey, string(events.UserDeletedEvent))
	require.NoError(t, pub.Publish(events.Topic, broken))

	require.NoError(t, bus.Publish(ctx, "u2", events.UserDeleted{
		BaseEvent: events.NewBaseEvent(events.UserDeletedEvent),
		UserID:    "u2",
	}))

	select {
	case id := <-received:
		assert.Equal(t, "u2", id)
	case <-time.After(5 * time.Second):
		t.Fatal("event after an undecodable message was not delivered")
	}
}
