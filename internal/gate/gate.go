// Package gate provides the single-holder gate that serializes backend
// invocations.
//
// At most one caller holds the gate at a time. Waiters are admitted strictly
// in the order their Acquire calls arrived. The gate is not reentrant: a
// holder that calls Acquire again blocks forever.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a FIFO mutual-exclusion gate.
type Gate struct {
	sem     *semaphore.Weighted
	held    atomic.Bool
	waiting atomic.Int64
}

// New returns a free gate.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the caller holds the gate. It only fails if ctx ends
// first, in which case the caller does not hold the gate.
func (g *Gate) Acquire(ctx context.Context) error {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return err
	}
	g.held.Store(true)
	return nil
}

// Release hands the gate to the longest waiter, or frees it.
// Releasing a gate that is not held panics.
func (g *Gate) Release() {
	g.held.Store(false)
	g.sem.Release(1)
}

// Do runs fn while holding the gate. The gate is released on every exit path
// of fn, panics included.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// Held reports whether some caller currently holds the gate.
func (g *Gate) Held() bool {
	return g.held.Load()
}

// Waiting returns the number of callers blocked in Acquire.
func (g *Gate) Waiting() int {
	return int(g.waiting.Load())
}
