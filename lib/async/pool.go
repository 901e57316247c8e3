// Package async provides bounded worker pools and periodic task runners.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/meltica-trader/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// ErrorHandler receives task failures and recovered panics.
type ErrorHandler func(error)

// ErrPoolFull is returned by Submit when the queue has no free slot.
var ErrPoolFull = errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers int
	Queue   int
	OnError ErrorHandler
}

// Pool is a bounded worker pool that rejects work instead of blocking when saturated.
// A pool with a single worker runs tasks in submission order.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan job
	onError ErrorHandler

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if opts.Queue < 0 {
		opts.Queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan job, opts.Queue),
		onError: opts.OnError,
	}
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task without blocking. It returns ErrPoolFull when the queue is saturated.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}
	p.wg.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return ErrPoolFull
	}
}

// Close stops accepting new tasks. Queued tasks still drain.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Shutdown closes the pool and waits for queued tasks until the context expires,
// after which remaining workers are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.cancel()
		return nil
	}
}

func (p *Pool) worker() {
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer p.wg.Done()
	if p.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("task panic: %v", r))
		}
	}()
	if err := j.fn(j.ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}
