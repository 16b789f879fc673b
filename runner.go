package metaform

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultRunner returns a runner backed by errgroup.Group with
// DefaultMaxConcurrency slots.
func DefaultRunner(ctx context.Context) Runner {
	return newErrGroupRunner(ctx, DefaultMaxConcurrency)
}

// NewLimitedRunner creates a runner with bounded concurrency.
func NewLimitedRunner(ctx context.Context, maxConcurrency int) Runner {
	return newErrGroupRunner(ctx, maxConcurrency)
}

// SequentialRunner runs every task inline, in scheduling order.
type SequentialRunner struct {
	err error
}

func (r *SequentialRunner) Go(fn func() error) {
	if err := fn(); err != nil && r.err == nil {
		r.err = err
	}
}

func (r *SequentialRunner) Wait() error { return r.err }

// errGroupRunner is the default implementation backed by errgroup.Group.
type errGroupRunner struct {
	ctx context.Context // derived ctx shared by all tasks
	eg  *errgroup.Group
	sem chan struct{} // concurrency gate
}

func newErrGroupRunner(parent context.Context, maxConcurrency int) *errGroupRunner {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	eg, ctx := errgroup.WithContext(parent)
	return &errGroupRunner{
		ctx: ctx,
		eg:  eg,
		sem: make(chan struct{}, maxConcurrency),
	}
}

func (r *errGroupRunner) Go(fn func() error) {
	r.eg.Go(func() error {
		select {
		case r.sem <- struct{}{}: // acquire
		case <-r.ctx.Done():
			return r.ctx.Err()
		}
		defer func() { <-r.sem }() // release
		return fn()
	})
}

func (r *errGroupRunner) Wait() error { return r.eg.Wait() }
