package pipecache

import (
	"fmt"

	"github.com/gogpu/pipecache/task"
)

// CachedPipelineID is the dense index of a queued pipeline. Render and
// compute ids come from the same counter and never collide.
type CachedPipelineID int

// RenderPipelineID identifies a queued render pipeline.
type RenderPipelineID CachedPipelineID

// ComputePipelineID identifies a queued compute pipeline.
type ComputePipelineID CachedPipelineID

// Invalid ids never refer to a pipeline.
const (
	InvalidRenderPipelineID  = RenderPipelineID(int(^uint(0) >> 1))
	InvalidComputePipelineID = ComputePipelineID(int(^uint(0) >> 1))
)

// Pipeline is either a *RenderPipeline or a *ComputePipeline.
type Pipeline interface {
	ID() uint64
	Label() string
	Raw() any
	pipeline()
}

// RenderPipeline is a created render pipeline.
type RenderPipeline struct {
	id       uint64
	label    string
	raw      any
	vertex   *ShaderModule
	fragment *ShaderModule
	layout   *PipelineLayout
}

// ID returns the unique id of the pipeline.
func (p *RenderPipeline) ID() uint64 { return p.id }

// Label returns the debug label.
func (p *RenderPipeline) Label() string { return p.label }

// Raw returns the device object.
func (p *RenderPipeline) Raw() any { return p.raw }

// VertexModule returns the module of the vertex stage.
func (p *RenderPipeline) VertexModule() *ShaderModule { return p.vertex }

// FragmentModule returns the module of the fragment stage, or nil.
func (p *RenderPipeline) FragmentModule() *ShaderModule { return p.fragment }

// Layout returns the pipeline layout, or nil for the device default.
func (p *RenderPipeline) Layout() *PipelineLayout { return p.layout }

func (*RenderPipeline) pipeline() {}

// ComputePipeline is a created compute pipeline.
type ComputePipeline struct {
	id     uint64
	label  string
	raw    any
	module *ShaderModule
	layout *PipelineLayout
}

// ID returns the unique id of the pipeline.
func (p *ComputePipeline) ID() uint64 { return p.id }

// Label returns the debug label.
func (p *ComputePipeline) Label() string { return p.label }

// Raw returns the device object.
func (p *ComputePipeline) Raw() any { return p.raw }

// Module returns the compute module.
func (p *ComputePipeline) Module() *ShaderModule { return p.module }

// Layout returns the pipeline layout, or nil for the device default.
func (p *ComputePipeline) Layout() *PipelineLayout { return p.layout }

func (*ComputePipeline) pipeline() {}

// State is the creation state of a queued pipeline. It is one of Queued,
// Creating, Ready or Failed.
type State interface {
	fmt.Stringer
	state()
}

// Queued means the pipeline waits for its next creation attempt.
type Queued struct{}

// Creating means a background unit is creating the pipeline.
type Creating struct {
	Task *task.Future[Pipeline]
}

// Ready means the pipeline was created.
type Ready struct {
	Pipeline Pipeline
}

// Failed means the last creation attempt failed.
type Failed struct {
	Err *Error
}

func (Queued) String() string   { return "Queued" }
func (Creating) String() string { return "Creating" }
func (Ready) String() string    { return "Ready" }
func (Failed) String() string   { return "Failed" }

func (Queued) state()   {}
func (Creating) state() {}
func (Ready) state()    {}
func (Failed) state()   {}

// Unwrap returns the pipeline of a Ready state. It panics on any other
// state: using a pipeline that does not exist is a programming error.
func Unwrap(s State) Pipeline {
	switch s := s.(type) {
	case Ready:
		return s.Pipeline
	case Queued, Creating:
		panic(fmt.Sprintf("pipecache: pipeline is not ready (%s)", s))
	case Failed:
		panic(fmt.Sprintf("pipecache: pipeline failed: %v", s.Err))
	default:
		panic(fmt.Sprintf("pipecache: unknown pipeline state %T", s))
	}
}

// cachedPipeline is one merged registry entry. The descriptor never
// changes, only the state does.
type cachedPipeline struct {
	descriptor PipelineDescriptor
	state      State
}
