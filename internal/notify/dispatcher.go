// Package notify delivers order updates, errors and initialization results to the
// owning strategy context without blocking the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/internal/schema"
	"github.com/coachpo/meltica-trader/lib/async"
)

const defaultQueueSize = 1024

// Callbacks are supplied by the owning context. Nil callbacks are skipped.
type Callbacks struct {
	OrderUpdate func(*schema.Order)
	Error       func(error)
	InitDone    func(success bool, err error)
}

// Sink persists or mirrors order updates.
type Sink interface {
	Name() string
	WriteOrder(ctx context.Context, order *schema.Order) error
}

// Options configures a Dispatcher.
type Options struct {
	Callbacks   Callbacks
	Sinks       []Sink
	QueueSize   int
	SinkTimeout time.Duration
	Logger      observability.Logger
	Metrics     *observability.Metrics
}

// Dispatcher queues notifications on a single worker, so callbacks observe notifications
// in the order they were enqueued. Enqueueing never blocks; a full queue drops the
// notification and logs it.
type Dispatcher struct {
	callbacks   Callbacks
	sinks       []Sink
	sinkTimeout time.Duration
	queue       *async.Pool
	logger      observability.Logger
	metrics     *observability.Metrics
}

// NewDispatcher builds a dispatcher and starts its worker.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 5 * time.Second
	}
	d := &Dispatcher{
		callbacks:   opts.Callbacks,
		sinks:       opts.Sinks,
		sinkTimeout: opts.SinkTimeout,
		logger:      observability.OrDefault(opts.Logger),
		metrics:     opts.Metrics,
	}
	queue, err := async.NewPool(async.PoolOptions{
		Workers: 1,
		Queue:   opts.QueueSize,
		OnError: d.taskFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("notify queue: %w", err)
	}
	d.queue = queue
	return d, nil
}

// OrderUpdate enqueues delivery of an order snapshot to the callback and all sinks.
func (d *Dispatcher) OrderUpdate(ctx context.Context, order *schema.Order) {
	if order == nil {
		return
	}
	d.metrics.RecordOrderUpdate(ctx, string(order.Status))
	d.enqueue(ctx, "order", func(ctx context.Context) error {
		if d.callbacks.OrderUpdate != nil {
			d.callbacks.OrderUpdate(order.Clone())
		}
		return d.writeSinks(ctx, order)
	})
}

// Error enqueues delivery of err to the error callback.
func (d *Dispatcher) Error(ctx context.Context, err error) {
	if err == nil {
		return
	}
	d.enqueue(ctx, "error", func(context.Context) error {
		if d.callbacks.Error != nil {
			d.callbacks.Error(err)
		}
		return nil
	})
}

// InitDone enqueues delivery of the initialization result.
func (d *Dispatcher) InitDone(ctx context.Context, success bool, err error) {
	d.enqueue(ctx, "init", func(context.Context) error {
		if d.callbacks.InitDone != nil {
			d.callbacks.InitDone(success, err)
		}
		return nil
	})
}

// Close drains queued notifications until ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	if err := d.queue.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain notifications: %w", err)
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, task async.Task) {
	// Delivery outlives the caller's request scope.
	err := d.queue.Submit(context.WithoutCancel(ctx), task)
	if err == nil {
		return
	}
	d.metrics.RecordDispatchDrop(ctx, kind)
	d.logger.Error("notification dropped",
		observability.F("kind", kind),
		observability.F("error", err))
}

// writeSinks fans the update out to all sinks and waits, so per-order ordering holds
// across consecutive notifications.
func (d *Dispatcher) writeSinks(ctx context.Context, order *schema.Order) error {
	if len(d.sinks) == 0 {
		return nil
	}
	sinkCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	p := pool.New().WithErrors().WithMaxGoroutines(len(d.sinks))
	for _, sink := range d.sinks {
		p.Go(func() error {
			if err := sink.WriteOrder(sinkCtx, order.Clone()); err != nil {
				d.metrics.RecordSinkError(ctx, sink.Name())
				return &SinkError{Sink: sink.Name(), OrderID: order.OrderID, Err: err}
			}
			return nil
		})
	}
	return p.Wait()
}

func (d *Dispatcher) taskFailed(err error) {
	d.logger.Error("notification delivery failed", observability.F("error", err))
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) && d.callbacks.Error != nil {
		// Sink failures surface through the error callback.
		d.callbacks.Error(err)
	}
}

// SinkError wraps a sink failure with its origin.
type SinkError struct {
	Sink    string
	OrderID string
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: order %s: %v", e.Sink, e.OrderID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
