package async

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Ticker runs a set of periodic tasks until stopped.
type Ticker struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	once   sync.Once
}

// NewTicker returns a Ticker bound to the parent context.
func NewTicker(parent context.Context) *Ticker {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Ticker{ctx: ctx, cancel: cancel}
}

// Every invokes fn each interval. The first call happens one interval after registration.
// A non-positive interval registers nothing.
func (t *Ticker) Every(interval time.Duration, fn func(context.Context)) {
	if interval <= 0 || fn == nil {
		return
	}
	t.wg.Go(func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-tick.C:
				fn(t.ctx)
			}
		}
	})
}

// Stop cancels all periodic tasks and waits for running invocations to return.
func (t *Ticker) Stop() {
	t.once.Do(t.cancel)
	t.wg.Wait()
}
