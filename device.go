package pipecache

import (
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// DownlevelFlags are the capabilities a device may lack compared to full
// WebGPU support.
type DownlevelFlags uint32

// Downlevel capability flags.
const (
	// DownlevelArrayTextures means 2D array textures are supported.
	DownlevelArrayTextures DownlevelFlags = 1 << iota

	// DownlevelCubeArrayTextures means cube array textures are supported.
	DownlevelCubeArrayTextures

	// DownlevelUnalignedBufferBindings means uniform bindings need no
	// 16 byte padding.
	DownlevelUnalignedBufferBindings

	// DownlevelFull is the full set of capabilities.
	DownlevelFull = DownlevelArrayTextures | DownlevelCubeArrayTextures | DownlevelUnalignedBufferBindings
)

// Contains reports whether all bits of other are set.
func (f DownlevelFlags) Contains(other DownlevelFlags) bool {
	return f&other == other
}

// Device creates the GPU objects the cache hands out.
//
// Creation calls may run on background goroutines, so implementations
// must be safe for concurrent use. Returned raw objects are opaque to the
// cache and are passed back to the device unchanged.
type Device interface {
	Features() gputypes.Features
	Limits() gputypes.Limits
	DownlevelFlags() DownlevelFlags

	CreateShaderModule(desc *ShaderModuleDescriptor) (any, error)
	CreatePipelineLayout(desc *PipelineLayoutDescriptor) (any, error)
	CreateRenderPipeline(desc *RawRenderPipelineDescriptor) (any, error)
	CreateComputePipeline(desc *RawComputePipelineDescriptor) (any, error)

	// PushErrorScope opens a validation error scope.
	PushErrorScope()

	// PopErrorScope closes the innermost scope. The channel yields the
	// first captured error, or nil, once the device knows the outcome.
	// Native devices deliver immediately; others may deliver later.
	PopErrorScope() <-chan error
}

// Destroyer is implemented by devices that release raw objects.
type Destroyer interface {
	DestroyShaderModule(raw any)
	DestroyPipelineLayout(raw any)
	DestroyRenderPipeline(raw any)
	DestroyComputePipeline(raw any)
}

// ShaderModuleDescriptor describes a shader module to create. Exactly one
// of WGSL and SPIRV is set.
type ShaderModuleDescriptor struct {
	Label    string
	WGSL     string
	SPIRV    []uint32
	Validate bool
}

// PipelineLayoutDescriptor describes a pipeline layout to create.
type PipelineLayoutDescriptor struct {
	Label              string
	BindGroupLayouts   []*BindGroupLayout
	PushConstantRanges []PushConstantRange
}

// RawVertexState is the resolved vertex stage of a render pipeline.
type RawVertexState struct {
	Module     *ShaderModule
	EntryPoint string
	Buffers    []gputypes.VertexBufferLayout
}

// RawFragmentState is the resolved fragment stage of a render pipeline.
type RawFragmentState struct {
	Module     *ShaderModule
	EntryPoint string
	Targets    []gputypes.ColorTargetState
}

// RawRenderPipelineDescriptor is a render pipeline with its modules and
// layout resolved. A nil Layout asks for the device default.
type RawRenderPipelineDescriptor struct {
	Label                         string
	Layout                        *PipelineLayout
	Vertex                        RawVertexState
	Fragment                      *RawFragmentState
	Primitive                     gputypes.PrimitiveState
	DepthStencil                  *DepthStencilState
	Multisample                   gputypes.MultisampleState
	ZeroInitializeWorkgroupMemory bool
}

// RawComputePipelineDescriptor is a compute pipeline with its module and
// layout resolved. A nil Layout asks for the device default.
type RawComputePipelineDescriptor struct {
	Label                         string
	Layout                        *PipelineLayout
	Module                        *ShaderModule
	EntryPoint                    string
	ZeroInitializeWorkgroupMemory bool
}

// objectIDCounter numbers every wrapper the package creates.
var objectIDCounter atomic.Uint64

func nextObjectID() uint64 {
	return objectIDCounter.Add(1)
}

// BindGroupLayout wraps a device bind group layout. Layout caching keys
// on the id, so two wrappers of the same raw object are distinct.
type BindGroupLayout struct {
	id    uint64
	label string
	raw   any
}

// NewBindGroupLayout wraps a raw bind group layout and gives it a new id.
func NewBindGroupLayout(label string, raw any) *BindGroupLayout {
	return &BindGroupLayout{id: nextObjectID(), label: label, raw: raw}
}

// ID returns the unique id of the layout.
func (l *BindGroupLayout) ID() uint64 { return l.id }

// Label returns the debug label.
func (l *BindGroupLayout) Label() string { return l.label }

// Raw returns the device object.
func (l *BindGroupLayout) Raw() any { return l.raw }

// ShaderModule is a compiled shader module shared by every pipeline that
// requested the same shader with the same defs.
type ShaderModule struct {
	id    uint64
	label string
	raw   any
}

func newShaderModule(label string, raw any) *ShaderModule {
	return &ShaderModule{id: nextObjectID(), label: label, raw: raw}
}

// ID returns the unique id of the module.
func (m *ShaderModule) ID() uint64 { return m.id }

// Label returns the debug label.
func (m *ShaderModule) Label() string { return m.label }

// Raw returns the device object.
func (m *ShaderModule) Raw() any { return m.raw }

// PipelineLayout is a cached pipeline layout.
type PipelineLayout struct {
	id  uint64
	raw any
}

// ID returns the unique id of the layout.
func (l *PipelineLayout) ID() uint64 { return l.id }

// Raw returns the device object.
func (l *PipelineLayout) Raw() any { return l.raw }
