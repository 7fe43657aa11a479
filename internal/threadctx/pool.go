package threadctx

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
)

// Pool runs callbacks on background goroutines. The number running at once
// is bounded by the interceptor's MaxCallbackPoolSize, when it sets one.
type Pool struct {
	ctx context.Context
	g   errgroup.Group
}

// NewPool returns a pool for callbacks created under ic. ctx is passed to the
// callbacks with any thread Context removed.
func NewPool(ctx context.Context, ic interceptor.Interceptor) *Pool {
	p := &Pool{ctx: Detach(ctx)}
	if n, ok := ic.MaxCallbackPoolSize(); ok && n > 0 {
		p.g.SetLimit(n)
	}
	return p
}

// Future is the pending result of a submitted callback.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Submit schedules cb. It blocks while the pool is at its limit.
func (p *Pool) Submit(cb *Callback, args ...any) *Future {
	f := &Future{done: make(chan struct{})}
	p.g.Go(func() error {
		defer close(f.done)
		f.value, f.err = cb.Invoke(p.ctx, args...)
		return f.err
	})
	return f
}

// Wait blocks until the callback returns or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until every submitted callback has returned and reports the
// first error.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
