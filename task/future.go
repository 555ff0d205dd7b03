// Package task provides the cooperative units of work used for background
// pipeline compilation.
//
// A [Future] has two states, pending and resolved. It can be polled without
// blocking ([Future.Ready]) or waited on ([Future.Wait]). There is no
// cancelled state: once a unit of work is spawned it runs to completion.
//
// [Pool] runs units of work on goroutines, bounded by a weighted semaphore.
// Spawning never blocks the caller.
package task

import "sync"

// Future is the result of a unit of work that may still be running.
//
// Thread safety: Future is safe for concurrent use. The value and error are
// written exactly once, before Done is closed.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewPromise returns a pending future and the function that resolves it.
// Only the first call to resolve has an effect.
func NewPromise[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

// Resolved returns a future that is already resolved with v and err.
func Resolved[T any](v T, err error) *Future[T] {
	f, resolve := NewPromise[T]()
	resolve(v, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Ready reports whether the future is resolved. It never blocks.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved and returns its result.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}
