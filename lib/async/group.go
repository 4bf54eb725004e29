// Package async provides the shared goroutine-group primitives used by the
// connector's long-running loops.
package async

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Group runs related goroutines under one context. The first error cancels
// the group's context; Wait returns that error after every goroutine exits.
// Panics inside goroutines are captured by the underlying pool and re-raised
// from Wait, so a crashing loop cannot die silently.
type Group struct {
	inner *pool.ContextPool
}

// NewGroup constructs an unbounded group derived from ctx.
func NewGroup(ctx context.Context) *Group {
	return &Group{inner: pool.New().WithContext(ctx).WithCancelOnError()}
}

// NewBoundedGroup constructs a group running at most limit goroutines at once.
func NewBoundedGroup(ctx context.Context, limit int) *Group {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	if limit > 0 {
		p = p.WithMaxGoroutines(limit)
	}
	return &Group{inner: p}
}

// Go schedules fn on the group.
func (g *Group) Go(fn func(context.Context) error) {
	g.inner.Go(fn)
}

// Wait blocks until all scheduled goroutines finish and returns the first
// error, if any.
func (g *Group) Wait() error {
	return g.inner.Wait()
}
