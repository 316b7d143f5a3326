package notification

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Publisher hands a notification to the delivery transport.
type Publisher interface {
	Publish(ctx context.Context, n *Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, n *Notification) error

func (f PublisherFunc) Publish(ctx context.Context, n *Notification) error { return f(ctx, n) }

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Workers   int
	Attempts  int
	BaseDelay time.Duration
}

// Dispatcher drains the outbox with a fixed pool of workers.
type Dispatcher struct {
	outbox    *Outbox
	publisher Publisher
	logger    *zap.Logger
	workers   int
	attempts  int
	baseDelay time.Duration
}

func NewDispatcher(outbox *Outbox, publisher Publisher, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	return &Dispatcher{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger,
		workers:   cfg.Workers,
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
	}
}

// Run blocks until ctx is cancelled or the outbox is closed and drained,
// and returns once every worker has exited.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.outbox.events():
			if !ok {
				return
			}
			d.dispatch(ctx, worker, n)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, worker int, n *Notification) {
	ctx, span := tracer.Start(ctx, "notification.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.id", n.ID.String()),
		attribute.String("notification.kind", string(n.Kind)),
		attribute.Int("worker", worker),
	)

	err := d.publishWithRetry(ctx, n)
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "notification delivery failed")
	d.logger.Error("notification delivery failed",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("kind", string(n.Kind)),
		zap.Int("attempts", d.attempts),
		zap.Error(err))
}

// publishWithRetry backs off exponentially between attempts.
func (d *Dispatcher) publishWithRetry(ctx context.Context, n *Notification) error {
	delay := d.baseDelay
	for attempt := 1; ; attempt++ {
		err := d.publisher.Publish(ctx, n)
		if err == nil || attempt >= d.attempts {
			return err
		}
		d.logger.Warn("notification publish failed, retrying",
			zap.String("notification_id", n.ID.String()),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
}
