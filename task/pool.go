package task

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool runs units of work in the background.
//
// Each unit gets its own goroutine, and a weighted semaphore bounds how many
// units run at once. Units over the limit wait inside their goroutine, so
// [Pool.Go] returns immediately regardless of load.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	sem     *semaphore.Weighted
	workers int

	wg      sync.WaitGroup
	running atomic.Int64
	spawned atomic.Uint64
}

// NewPool creates a pool that runs at most workers units at once.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}
}

// Go starts fn in the background. It never blocks.
// A nil fn is ignored.
func (p *Pool) Go(fn func()) {
	if fn == nil {
		return
	}
	p.spawned.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Acquire with a background context cannot fail.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		fn()
	}()
}

// Wait blocks until every unit started so far has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Workers returns the concurrency limit of the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// Running returns the number of units currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Spawned returns the total number of units started on the pool.
func (p *Pool) Spawned() uint64 {
	return p.spawned.Load()
}

// Spawn runs fn on the pool and returns a future for its result.
func Spawn[T any](p *Pool, fn func() (T, error)) *Future[T] {
	f, resolve := NewPromise[T]()
	p.Go(func() {
		resolve(fn())
	})
	return f
}
