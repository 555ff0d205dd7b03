package pipecache

import (
	"log/slog"

	"github.com/gogpu/pipecache/task"
)

// Executor runs creation work in the background. Go must not block the
// caller. *task.Pool implements Executor.
type Executor interface {
	Go(fn func())
}

// Option configures a PipelineCache during creation.
//
// Example:
//
//	// Background creation on four goroutines
//	cache := pipecache.New(device, pipecache.WithWorkers(4))
//
//	// Everything inline on the calling goroutine
//	cache := pipecache.New(device, pipecache.WithSynchronousCompilation(true))
type Option func(*options)

// options holds optional configuration for PipelineCache creation.
type options struct {
	executor        Executor
	executorSet     bool
	synchronous     bool
	validateShaders bool
	logger          *slog.Logger
}

// defaultOptions returns the default cache options.
func defaultOptions() options {
	return options{
		validateShaders: true,
	}
}

// WithSynchronousCompilation makes every creation attempt run inline
// inside ProcessQueue, blocking until the pipeline is ready or failed.
func WithSynchronousCompilation(sync bool) Option {
	return func(o *options) {
		o.synchronous = sync
	}
}

// WithExecutor sets the executor for background creation. A nil executor
// means no background execution is available and creation runs inline.
func WithExecutor(e Executor) Option {
	return func(o *options) {
		o.executor = e
		o.executorSet = true
	}
}

// WithWorkers runs background creation on a task.Pool that executes at
// most n units at once. If n is 0 or negative, GOMAXPROCS is used.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.executor = task.NewPool(n)
		o.executorSet = true
	}
}

// WithShaderValidation turns IR validation of composed shaders on or off.
// Validation is on by default.
func WithShaderValidation(validate bool) Option {
	return func(o *options) {
		o.validateShaders = validate
	}
}

// WithLogger sets the logger of this cache. Without it the cache logs
// through [Logger].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
