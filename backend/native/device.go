package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/pipecache"
)

// Config describes what the wrapped device supports. The HAL does not
// report these itself.
type Config struct {
	Features  gputypes.Features
	Limits    gputypes.Limits
	Downlevel pipecache.DownlevelFlags
}

// DefaultConfig returns the WebGPU default limits with every downlevel
// capability present.
func DefaultConfig() Config {
	return Config{
		Limits:    gputypes.DefaultLimits(),
		Downlevel: pipecache.DownlevelFull,
	}
}

// Device implements pipecache.Device and pipecache.Destroyer on top of a
// hal.Device.
//
// HAL calls report failures synchronously, through the error each Create
// method returns. Error scopes are therefore only counted: a popped scope
// resolves to nil unless the stack was empty.
//
// Thread Safety:
// Device is safe for concurrent use. The error scope depth is shared by
// every goroutine, as it is on a WebGPU device.
type Device struct {
	device hal.Device
	cfg    Config

	mu     sync.Mutex
	scopes int
}

var (
	_ pipecache.Device    = (*Device)(nil)
	_ pipecache.Destroyer = (*Device)(nil)
)

// NewDevice wraps device.
func NewDevice(device hal.Device, cfg Config) (*Device, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	return &Device{device: device, cfg: cfg}, nil
}

// HAL returns the wrapped device.
func (d *Device) HAL() hal.Device { return d.device }

// Features implements pipecache.Device.
func (d *Device) Features() gputypes.Features { return d.cfg.Features }

// Limits implements pipecache.Device.
func (d *Device) Limits() gputypes.Limits { return d.cfg.Limits }

// DownlevelFlags implements pipecache.Device.
func (d *Device) DownlevelFlags() pipecache.DownlevelFlags { return d.cfg.Downlevel }

// PushErrorScope implements pipecache.Device.
func (d *Device) PushErrorScope() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scopes++
}

// PopErrorScope implements pipecache.Device. The returned channel is
// already resolved. Popping with no open scope yields ErrNoErrorScope.
func (d *Device) PopErrorScope() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan error, 1)
	if d.scopes == 0 {
		ch <- ErrNoErrorScope
		return ch
	}
	d.scopes--
	ch <- nil
	return ch
}

// CreateShaderModule implements pipecache.Device. Validated modules are
// handed to the HAL as WGSL, others as SPIR-V.
func (d *Device) CreateShaderModule(desc *pipecache.ShaderModuleDescriptor) (any, error) {
	source := hal.ShaderSource{WGSL: desc.WGSL}
	if !desc.Validate || desc.WGSL == "" {
		source = hal.ShaderSource{SPIRV: desc.SPIRV}
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: source,
	})
	if err != nil {
		return nil, fmt.Errorf("create shader module %q: %w", desc.Label, err)
	}
	return module, nil
}

// CreateBindGroupLayout creates a HAL bind group layout wrapped for use in
// pipeline descriptors.
func (d *Device) CreateBindGroupLayout(label string, entries []gputypes.BindGroupLayoutEntry) (*pipecache.BindGroupLayout, error) {
	layout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group layout %q: %w", label, err)
	}
	return pipecache.NewBindGroupLayout(label, layout), nil
}

// DestroyBindGroupLayout releases a layout made by CreateBindGroupLayout.
func (d *Device) DestroyBindGroupLayout(layout *pipecache.BindGroupLayout) {
	if l, ok := layout.Raw().(hal.BindGroupLayout); ok {
		d.device.DestroyBindGroupLayout(l)
	}
}

// CreatePipelineLayout implements pipecache.Device. Push constant ranges
// are not forwarded; the HAL layout has no place for them.
func (d *Device) CreatePipelineLayout(desc *pipecache.PipelineLayoutDescriptor) (any, error) {
	groups := make([]hal.BindGroupLayout, 0, len(desc.BindGroupLayouts))
	for i, bgl := range desc.BindGroupLayouts {
		l, ok := bgl.Raw().(hal.BindGroupLayout)
		if !ok {
			return nil, fmt.Errorf("bind group layout %d (%s): %w", i, bgl.Label(), ErrForeignObject)
		}
		groups = append(groups, l)
	}

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: groups,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline layout: %w", err)
	}
	return layout, nil
}

// CreateRenderPipeline implements pipecache.Device.
func (d *Device) CreateRenderPipeline(desc *pipecache.RawRenderPipelineDescriptor) (any, error) {
	layout, err := halLayout(desc.Layout)
	if err != nil {
		return nil, err
	}
	vertex, err := halModule(desc.Vertex.Module)
	if err != nil {
		return nil, err
	}

	hd := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Vertex: hal.VertexState{
			Module:     vertex,
			EntryPoint: desc.Vertex.EntryPoint,
			Buffers:    desc.Vertex.Buffers,
		},
		Primitive:    desc.Primitive,
		DepthStencil: halDepthStencil(desc.DepthStencil),
		Multisample:  desc.Multisample,
	}
	if desc.Fragment != nil {
		fragment, err := halModule(desc.Fragment.Module)
		if err != nil {
			return nil, err
		}
		hd.Fragment = &hal.FragmentState{
			Module:     fragment,
			EntryPoint: desc.Fragment.EntryPoint,
			Targets:    desc.Fragment.Targets,
		}
	}

	pipeline, err := d.device.CreateRenderPipeline(hd)
	if err != nil {
		return nil, fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}
	return pipeline, nil
}

// CreateComputePipeline implements pipecache.Device.
func (d *Device) CreateComputePipeline(desc *pipecache.RawComputePipelineDescriptor) (any, error) {
	layout, err := halLayout(desc.Layout)
	if err != nil {
		return nil, err
	}
	module, err := halModule(desc.Module)
	if err != nil {
		return nil, err
	}

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		return nil, fmt.Errorf("create compute pipeline %q: %w", desc.Label, err)
	}
	return pipeline, nil
}

// DestroyShaderModule implements pipecache.Destroyer.
func (d *Device) DestroyShaderModule(raw any) {
	if m, ok := raw.(hal.ShaderModule); ok && m != nil {
		d.device.DestroyShaderModule(m)
	}
}

// DestroyPipelineLayout implements pipecache.Destroyer.
func (d *Device) DestroyPipelineLayout(raw any) {
	if l, ok := raw.(hal.PipelineLayout); ok && l != nil {
		d.device.DestroyPipelineLayout(l)
	}
}

// DestroyRenderPipeline implements pipecache.Destroyer.
func (d *Device) DestroyRenderPipeline(raw any) {
	if p, ok := raw.(hal.RenderPipeline); ok && p != nil {
		d.device.DestroyRenderPipeline(p)
	}
}

// DestroyComputePipeline implements pipecache.Destroyer.
func (d *Device) DestroyComputePipeline(raw any) {
	if p, ok := raw.(hal.ComputePipeline); ok && p != nil {
		d.device.DestroyComputePipeline(p)
	}
}

func halLayout(layout *pipecache.PipelineLayout) (hal.PipelineLayout, error) {
	if layout == nil {
		return nil, nil
	}
	l, ok := layout.Raw().(hal.PipelineLayout)
	if !ok {
		return nil, fmt.Errorf("pipeline layout: %w", ErrForeignObject)
	}
	return l, nil
}

func halModule(module *pipecache.ShaderModule) (hal.ShaderModule, error) {
	if module == nil {
		return nil, fmt.Errorf("shader module is nil: %w", ErrForeignObject)
	}
	m, ok := module.Raw().(hal.ShaderModule)
	if !ok {
		return nil, fmt.Errorf("shader module %q: %w", module.Label(), ErrForeignObject)
	}
	return m, nil
}

func halDepthStencil(ds *pipecache.DepthStencilState) *hal.DepthStencilState {
	if ds == nil {
		return nil
	}
	return &hal.DepthStencilState{
		Format:            ds.Format,
		DepthWriteEnabled: ds.DepthWriteEnabled,
		DepthCompare:      ds.DepthCompare,
		StencilFront:      halStencilFace(ds.StencilFront),
		StencilBack:       halStencilFace(ds.StencilBack),
		StencilReadMask:   ds.StencilReadMask,
		StencilWriteMask:  ds.StencilWriteMask,
	}
}

func halStencilFace(f pipecache.StencilFaceState) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     f.Compare,
		FailOp:      halStencilOp(f.FailOp),
		DepthFailOp: halStencilOp(f.DepthFailOp),
		PassOp:      halStencilOp(f.PassOp),
	}
}

func halStencilOp(op pipecache.StencilOperation) hal.StencilOperation {
	switch op {
	case pipecache.StencilOperationKeep:
		return hal.StencilOperationKeep
	case pipecache.StencilOperationZero:
		return hal.StencilOperationZero
	case pipecache.StencilOperationReplace:
		return hal.StencilOperationReplace
	case pipecache.StencilOperationInvert:
		return hal.StencilOperationInvert
	case pipecache.StencilOperationIncrementClamp:
		return hal.StencilOperationIncrementClamp
	case pipecache.StencilOperationDecrementClamp:
		return hal.StencilOperationDecrementClamp
	case pipecache.StencilOperationIncrementWrap:
		return hal.StencilOperationIncrementWrap
	case pipecache.StencilOperationDecrementWrap:
		return hal.StencilOperationDecrementWrap
	default:
		panic(fmt.Sprintf("native: unknown stencil operation %d", op))
	}
}
