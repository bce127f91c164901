package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tidewire/tidewire/pkg/channels/gochannel"
	"github.com/tidewire/tidewire/pkg/channels/kafka"
	"github.com/tidewire/tidewire/pkg/eventbus"
	kafkatrigger "github.com/tidewire/tidewire/pkg/triggers/kafka"
)

const serviceName = "tidewire"

// EventChannel bundles the lifecycle event bus with the subscriber factory
// used by kafka triggers on the same transport.
type EventChannel struct {
	Bus           eventbus.EventBus
	NewSubscriber kafkatrigger.SubscriberFactory
}

// NewEventChannel builds the event bus for provider ("gochannel" or "kafka").
func NewEventChannel(provider string, brokers []string, logger *slog.Logger) (*EventChannel, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return &EventChannel{
			Bus:           eventbus.NewWatermillEventBus(logger, pub, sub),
			NewSubscriber: kafka.SubscriberFactory(watermillLogger, brokers),
		}, nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return &EventChannel{
			Bus: eventbus.NewWatermillEventBus(logger, pub, sub),
			NewSubscriber: func(string) (message.Subscriber, error) {
				return sharedSubscriber{sub}, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}

// sharedSubscriber keeps the in-memory pubsub open when one trigger stops.
type sharedSubscriber struct {
	message.Subscriber
}

func (sharedSubscriber) Close() error {
	return nil
}
