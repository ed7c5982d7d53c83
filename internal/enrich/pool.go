// Package enrich implements the optional concurrent quote-enrichment
// stage: batch splitting over a shared worker pool, with a synchronous
// fallback and graceful degradation on provider failure.
package enrich

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent batch execution. It is injectable so tests can
// substitute a deterministic stub for the process-wide pool.
type Pool interface {
	// Acquire blocks until a worker slot is free or ctx is done.
	Acquire(ctx context.Context) error
	// Release returns a previously acquired slot.
	Release()
}

// workerPool is the semaphore-backed Pool implementation.
type workerPool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with the given worker count. Counts below one
// are clamped to one.
func NewPool(workers int) Pool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(workers))}
}

func (p *workerPool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

func (p *workerPool) Release() {
	p.sem.Release(1)
}

var (
	sharedMu   sync.Mutex
	sharedPool Pool
)

// SharedPool returns the process-wide pool, constructing it on first use
// with the given worker count. Later calls ignore workers: the pool is
// sized once for the life of the process.
func SharedPool(workers int) Pool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedPool == nil {
		sharedPool = NewPool(workers)
	}
	return sharedPool
}

// ResetSharedPool discards the process-wide pool so the next SharedPool
// call rebuilds it. Intended for tests.
func ResetSharedPool() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedPool = nil
}
