// Package notify delivers lifecycle notifications on a bounded background
// queue. Delivery is best effort: failures are logged and never reach the
// operation that raised the notification.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewire/tidewire/pkg/eventbus"
	"github.com/tidewire/tidewire/pkg/metrics"
)

const (
	DefaultQueueSize      = 256
	DefaultWorkers        = 2
	DefaultPublishTimeout = 5 * time.Second
)

var ErrClosed = errors.New("notification dispatcher is closed")

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, key string, event eventbus.Event)
}

type Options struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

type job struct {
	ctx   context.Context
	key   string
	event eventbus.Event
}

type Dispatcher struct {
	publisher eventbus.EventPublisher
	metrics   *metrics.Metrics
	options   Options
	queue     chan job
	closed    bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewDispatcher starts the workers. Call Close to drain the queue.
func NewDispatcher(logger *slog.Logger, publisher eventbus.EventPublisher, m *metrics.Metrics, options Options) *Dispatcher {
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}

	if options.Workers <= 0 {
		options.Workers = DefaultWorkers
	}

	if options.PublishTimeout <= 0 {
		options.PublishTimeout = DefaultPublishTimeout
	}

	d := &Dispatcher{
		publisher: publisher,
		metrics:   m,
		options:   options,
		queue:     make(chan job, options.QueueSize),
		logger:    logger.With("module", "notify"),
	}

	for range options.Workers {
		d.wg.Add(1)

		go d.work()
	}

	return d
}

// Notify enqueues event. When the queue is full or the dispatcher is closed
// the event is dropped.
func (d *Dispatcher) Notify(ctx context.Context, key string, event eventbus.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.WarnContext(ctx, "Dropping notification", "event_type", event.GetType(), "error", ErrClosed)
		d.metrics.NotificationDropped()

		return
	}

	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), key: key, event: event}:
	default:
		d.logger.WarnContext(ctx, "Notification queue full, dropping event", "event_type", event.GetType())
		d.metrics.NotificationDropped()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for j := range d.queue {
		d.publish(j)
	}
}

func (d *Dispatcher) publish(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.options.PublishTimeout)
	defer cancel()

	err := d.publisher.Publish(ctx, j.key, j.event)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish notification",
			"event_type", j.event.GetType(), "key", j.key, "error", err)
	}
}

// Close stops accepting events and waits for queued ones to be published or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})

	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
