// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidewire/tidewire/pkg/activation"
	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/locks"
	"github.com/tidewire/tidewire/pkg/metrics"
	"github.com/tidewire/tidewire/pkg/protocol"
	"github.com/tidewire/tidewire/pkg/triggers/kafka"
	"github.com/tidewire/tidewire/pkg/triggers/queue"
	"github.com/tidewire/tidewire/pkg/triggers/schedule"
	"github.com/tidewire/tidewire/pkg/triggers/webhook"
)

const DefaultLockTTL = 30 * time.Second

// ActivationOwnerKey names the lease held by the one instance that registers
// triggers and serves lifecycle calls.
const ActivationOwnerKey = "activation-owner"

var ErrActivationOwnershipLost = errors.New("activation ownership lost")

// NewActivationRegistry creates the registry with every native trigger kind.
// The queue trigger is only available when a Redis client is configured.
func NewActivationRegistry(
	logger *slog.Logger,
	publisher eventbus.EventPublisher,
	m *metrics.Metrics,
	router *webhook.Router,
	newSubscriber kafka.SubscriberFactory,
	redisClient redis.UniversalClient,
) (*activation.Registry, error) {
	reg := activation.NewRegistry(logger, publisher, m)

	factories := []protocol.TriggerFactory{
		webhook.NewTriggerFactory(router),
		schedule.NewScheduleTriggerFactory(),
		kafka.NewKafkaTriggerFactory(newSubscriber),
	}

	if redisClient != nil {
		factories = append(factories, queue.NewQueueTriggerFactory(redisClient))
	}

	for _, factory := range factories {
		if err := reg.RegisterFactory(factory); err != nil {
			return nil, fmt.Errorf("failed to register trigger %s: %w", factory.ID(), err)
		}
	}

	return reg, nil
}

// NewLocker returns the per-workflow lock for backend ("memory" or "redis").
//
// nolint:ireturn // callers only need the interface
func NewLocker(backend string, redisClient redis.UniversalClient, logger *slog.Logger) (locks.Locker, error) {
	switch backend {
	case "memory", "":
		return locks.NewMemoryLocker(), nil
	case "redis":
		if redisClient == nil {
			return nil, errors.New("redis lock backend requires a redis url")
		}

		return locks.NewRedisLocker(redisClient, DefaultLockTTL, logger), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", backend)
	}
}

// NewRedisClient parses redisURL, returning nil for an empty url.
//
// nolint:ireturn // go-redis hands out the universal interface
func NewRedisClient(redisURL string) (redis.UniversalClient, error) {
	if redisURL == "" {
		return nil, nil
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return redis.NewClient(options), nil
}

// HoldActivationOwnership blocks until this instance owns trigger
// registration. Other instances sharing the locker wait here as standbys. The
// returned context is canceled with ErrActivationOwnershipLost when the lease
// is lost; release gives ownership up.
func HoldActivationOwnership(ctx context.Context, locker locks.Locker, logger *slog.Logger) (context.Context, func(), error) {
	logger.InfoContext(ctx, "Waiting for activation ownership")

	lease, err := locker.Acquire(ctx, ActivationOwnerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire activation ownership: %w", err)
	}

	ownerCtx, cancel := context.WithCancelCause(ctx)

	go func() {
		select {
		case <-lease.Lost():
			logger.ErrorContext(ctx, "Lost activation ownership")
			cancel(ErrActivationOwnershipLost)
		case <-ownerCtx.Done():
		}
	}()

	logger.InfoContext(ctx, "Acquired activation ownership")

	return ownerCtx, func() {
		cancel(context.Canceled)
		lease.Release()
	}, nil
}
