// Package parallel runs batches of independent work on a fixed set of
// goroutines with work stealing.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a pool of goroutines with one queue per worker. A worker whose
// queue is empty steals from the others, which keeps slow items (a large
// shader file, a pipeline with many stages) from stalling a whole batch.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	workers int
	queues  []chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	// mu orders submissions against Close: queues take no items once
	// done is closed.
	mu       sync.RWMutex
	overflow sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	own := p.queues[id]

	for {
		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
			continue
		default:
		}

		if fn := p.steal(id); fn != nil {
			fn()
			continue
		}

		select {
		case <-p.done:
			drain(own)
			return
		case fn := <-own:
			fn()
		}
	}
}

func drain(queue chan func()) {
	for {
		select {
		case fn := <-queue:
			fn()
		default:
			return
		}
	}
}

// steal takes one item from another worker's queue, or returns nil.
func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-p.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// Go queues fn on the worker with the shortest queue and never blocks.
// When every queue is full, fn runs on a goroutine of its own. After Close,
// fn runs on the calling goroutine so no work is ever dropped.
func (p *Pool) Go(fn func()) {
	if fn == nil {
		return
	}

	p.mu.RLock()
	if !p.running.Load() {
		p.mu.RUnlock()
		fn()
		return
	}

	shortest := 0
	for i := 1; i < p.workers; i++ {
		if len(p.queues[i]) < len(p.queues[shortest]) {
			shortest = i
		}
	}

	select {
	case p.queues[shortest] <- fn:
	default:
		p.overflow.Add(1)
		go func() {
			defer p.overflow.Done()
			fn()
		}()
	}
	p.mu.RUnlock()
}

// ExecuteAll runs every item and waits for all of them. Items are spread
// round-robin over the workers; an item whose queue is full runs on the
// calling goroutine.
func (p *Pool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for i, fn := range work {
		wrapped := func() {
			defer wg.Done()
			fn()
		}

		queued := false
		p.mu.RLock()
		if p.running.Load() {
			select {
			case p.queues[i%p.workers] <- wrapped:
				queued = true
			default:
			}
		}
		p.mu.RUnlock()

		if !queued {
			wrapped()
		}
	}
	wg.Wait()
}

// Map applies fn to every input on the pool and returns the results in
// input order.
func Map[In, Out any](p *Pool, inputs []In, fn func(In) Out) []Out {
	out := make([]Out, len(inputs))
	work := make([]func(), len(inputs))
	for i, in := range inputs {
		work[i] = func() { out[i] = fn(in) }
	}
	p.ExecuteAll(work)
	return out
}

// Close stops the workers after the queued work has run, and waits for
// overflow goroutines. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	p.overflow.Wait()
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool accepts work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Queued returns the number of items waiting in the queues. The value is
// approximate while workers run.
func (p *Pool) Queued() int {
	total := 0
	for _, q := range p.queues {
		total += len(q)
	}
	return total
}
