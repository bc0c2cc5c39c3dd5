// Package turn implements the coordinator that owns a single run_turn
// call's lifecycle: starting the ReAct engine, bounding global concurrency
// across in-flight turns, and batching the durable writes of streamed
// content so the message store isn't hit on every delta.
package turn

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Budget bounds how many turns may run concurrently across the whole
// process, the same way this codebase's context assembler bounds its
// fan-out with an errgroup rather than an unbounded goroutine-per-request
// pattern.
type Budget struct {
	group *errgroup.Group
}

// NewBudget returns a Budget allowing at most maxConcurrent turns to run at
// once. The returned context is derived from ctx and is cancelled the first
// time a function passed to Go returns an error, or when Wait returns.
func NewBudget(ctx context.Context, maxConcurrent int) (*Budget, context.Context) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrent)
	return &Budget{group: group}, groupCtx
}

// Go runs fn under the budget, blocking until a slot is free.
func (b *Budget) Go(fn func() error) {
	b.group.Go(fn)
}

// Wait blocks until every tracked turn has returned, propagating the first
// error encountered.
func (b *Budget) Wait() error {
	return b.group.Wait()
}
