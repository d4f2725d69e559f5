// ABOUTME: Bounded worker pool for blocking tool executions.
// ABOUTME: A weighted semaphore caps concurrency; slots are released when work finishes, not when callers give up.

package tools

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is used when NewWorkerPool is given a non-positive size.
const DefaultPoolSize = 8

// WorkerPool runs blocking functions with bounded concurrency.
type WorkerPool struct {
	sem    *semaphore.Weighted
	size   int
	active atomic.Int64
}

// NewWorkerPool creates a pool with size slots.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: size,
	}
}

// Go waits for a free slot (bounded by ctx) and then runs fn on a new goroutine.
// The slot is held until fn returns, regardless of what happens to ctx afterwards.
func (p *WorkerPool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.active.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
		}()
		fn()
	}()
	return nil
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return p.size }

// Active returns the number of functions currently running.
func (p *WorkerPool) Active() int { return int(p.active.Load()) }
