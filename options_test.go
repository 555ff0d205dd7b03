package pipecache

import (
	"log/slog"
	"testing"
	"time"

	"github.com/gogpu/pipecache/internal/parallel"
	"github.com/gogpu/pipecache/task"
)

type countingExecutor struct {
	calls int
}

func (e *countingExecutor) Go(fn func()) {
	e.calls++
	fn()
}

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if !o.validateShaders {
		t.Error("shader validation should be on by default")
	}
	if o.synchronous || o.executorSet {
		t.Errorf("unexpected defaults: %+v", o)
	}
}

func TestNew_DefaultExecutorIsPool(t *testing.T) {
	c, err := New(newFakeDevice())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.opts.executor.(*task.Pool); !ok {
		t.Errorf("default executor = %T, want *task.Pool", c.opts.executor)
	}
}

func TestOptions(t *testing.T) {
	exec := &countingExecutor{}
	logger := slog.New(nopHandler{})

	tests := []struct {
		name  string
		opt   Option
		check func(*testing.T, options)
	}{
		{
			name: "synchronous",
			opt:  WithSynchronousCompilation(true),
			check: func(t *testing.T, o options) {
				if !o.synchronous {
					t.Error("synchronous not set")
				}
			},
		},
		{
			name: "executor",
			opt:  WithExecutor(exec),
			check: func(t *testing.T, o options) {
				if o.executor != exec || !o.executorSet {
					t.Errorf("executor = %v", o.executor)
				}
			},
		},
		{
			name: "nil executor",
			opt:  WithExecutor(nil),
			check: func(t *testing.T, o options) {
				if o.executor != nil || !o.executorSet {
					t.Errorf("nil executor should be kept, got %v", o.executor)
				}
			},
		},
		{
			name: "workers",
			opt:  WithWorkers(3),
			check: func(t *testing.T, o options) {
				p, ok := o.executor.(*task.Pool)
				if !ok || p.Workers() != 3 {
					t.Errorf("executor = %T, want a 3-worker pool", o.executor)
				}
			},
		},
		{
			name: "no validation",
			opt:  WithShaderValidation(false),
			check: func(t *testing.T, o options) {
				if o.validateShaders {
					t.Error("validation still on")
				}
			},
		},
		{
			name: "logger",
			opt:  WithLogger(logger),
			check: func(t *testing.T, o options) {
				if o.logger != logger {
					t.Error("logger not set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			tt.opt(&o)
			tt.check(t, o)
		})
	}
}

func TestWithExecutor_UsedForCreation(t *testing.T) {
	exec := &countingExecutor{}
	c, err := New(newFakeDevice(), WithExecutor(exec))
	if err != nil {
		t.Fatal(err)
	}
	shader := setShader(t, c, "compute.wgsl", computeSource)

	id := c.QueueComputePipeline(computeDesc(shader))
	c.ProcessQueue()
	if exec.calls != 1 {
		t.Fatalf("executor ran %d units, want 1", exec.calls)
	}

	// The unit already ran, so the next tick collects it.
	if _, ok := c.ComputePipelineState(id).(Creating); !ok {
		t.Fatalf("state = %v, want Creating", c.ComputePipelineState(id))
	}
	c.ProcessQueue()
	mustComputeReady(t, c, id)
}

func TestProcessQueue_SaturatedParallelPool(t *testing.T) {
	dev := newFakeDevice()
	dev.gate = make(chan struct{})

	// One worker with a queue of 8: most of the 20 units overflow.
	pool := parallel.NewPool(1)
	defer pool.Close()
	c, err := New(dev, WithExecutor(pool))
	if err != nil {
		t.Fatal(err)
	}
	shader := setShader(t, c, "compute.wgsl", computeSource)

	ids := make([]ComputePipelineID, 20)
	for i := range ids {
		ids[i] = c.QueueComputePipeline(computeDesc(shader))
	}

	done := make(chan struct{})
	go func() {
		c.ProcessQueue()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		close(dev.gate)
		t.Fatal("ProcessQueue blocked while every pool queue was full")
	}

	close(dev.gate)
	for _, id := range ids {
		c.BlockOnComputePipeline(id)
		mustComputeReady(t, c, id)
	}
}
