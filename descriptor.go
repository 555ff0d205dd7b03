package pipecache

import (
	"github.com/gogpu/gputypes"
)

// ShaderStage is a set of shader stages.
type ShaderStage uint32

// Shader stages.
const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
)

// PushConstantRange is a range of push constant memory visible to stages.
type PushConstantRange struct {
	Stages ShaderStage
	Start  uint32
	End    uint32
}

// StencilOperation is the action taken on a stencil value.
type StencilOperation uint8

// Stencil operations.
const (
	StencilOperationKeep StencilOperation = iota
	StencilOperationZero
	StencilOperationReplace
	StencilOperationInvert
	StencilOperationIncrementClamp
	StencilOperationDecrementClamp
	StencilOperationIncrementWrap
	StencilOperationDecrementWrap
)

// StencilFaceState is the stencil test of one face.
type StencilFaceState struct {
	Compare     gputypes.CompareFunction
	FailOp      StencilOperation
	DepthFailOp StencilOperation
	PassOp      StencilOperation
}

// DepthStencilState is the depth and stencil configuration of a render pipeline.
type DepthStencilState struct {
	Format            gputypes.TextureFormat
	DepthWriteEnabled bool
	DepthCompare      gputypes.CompareFunction
	StencilFront      StencilFaceState
	StencilBack       StencilFaceState
	StencilReadMask   uint32
	StencilWriteMask  uint32
}

// VertexState is the vertex stage of a render pipeline.
type VertexState struct {
	Shader     ShaderID
	ShaderDefs []ShaderDef
	EntryPoint string
	Buffers    []gputypes.VertexBufferLayout
}

// FragmentState is the fragment stage of a render pipeline.
type FragmentState struct {
	Shader     ShaderID
	ShaderDefs []ShaderDef
	EntryPoint string
	Targets    []gputypes.ColorTargetState
}

// RenderPipelineDescriptor describes a render pipeline to queue.
type RenderPipelineDescriptor struct {
	Label string

	// Layout lists the bind group layouts in binding order. An empty
	// layout with no push constant ranges uses the device default.
	Layout             []*BindGroupLayout
	PushConstantRanges []PushConstantRange

	Vertex       VertexState
	Fragment     *FragmentState
	Primitive    gputypes.PrimitiveState
	DepthStencil *DepthStencilState
	Multisample  gputypes.MultisampleState

	ZeroInitializeWorkgroupMemory bool
}

// ComputePipelineDescriptor describes a compute pipeline to queue.
type ComputePipelineDescriptor struct {
	Label string

	Layout             []*BindGroupLayout
	PushConstantRanges []PushConstantRange

	Shader     ShaderID
	ShaderDefs []ShaderDef
	EntryPoint string

	ZeroInitializeWorkgroupMemory bool
}

// PipelineDescriptor is either a *RenderPipelineDescriptor or a
// *ComputePipelineDescriptor.
type PipelineDescriptor interface {
	pipelineDescriptor()
}

func (*RenderPipelineDescriptor) pipelineDescriptor()  {}
func (*ComputePipelineDescriptor) pipelineDescriptor() {}
