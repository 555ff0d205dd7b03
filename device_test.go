package pipecache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
)

// fakeDevice is a scripted Device that records what the cache asks for.
type fakeDevice struct {
	mu sync.Mutex

	features  gputypes.Features
	limits    gputypes.Limits
	downlevel DownlevelFlags

	// shaderErr is returned by CreateShaderModule.
	shaderErr error
	// scopeErr is captured by the error scope around a creation call.
	scopeErr error
	// deferScope leaves popped scopes unresolved, as a browser would.
	deferScope bool
	layoutErr  error
	pipeErr    error
	// gate, when set, blocks pipeline creation until closed.
	gate chan struct{}

	scopes         int
	shaderDescs    []*ShaderModuleDescriptor
	layoutDescs    []*PipelineLayoutDescriptor
	renderDescs    []*RawRenderPipelineDescriptor
	computeDescs   []*RawComputePipelineDescriptor
	destroyedCount int
	// destroyedPipelines counts render and compute pipelines released.
	destroyedPipelines int
}

var _ Device = (*fakeDevice)(nil)
var _ Destroyer = (*fakeDevice)(nil)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		limits:    gputypes.DefaultLimits(),
		downlevel: DownlevelFull,
	}
}

func (d *fakeDevice) Features() gputypes.Features    { return d.features }
func (d *fakeDevice) Limits() gputypes.Limits        { return d.limits }
func (d *fakeDevice) DownlevelFlags() DownlevelFlags { return d.downlevel }

func (d *fakeDevice) CreateShaderModule(desc *ShaderModuleDescriptor) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scopes == 0 {
		return nil, errors.New("fake: shader module created outside an error scope")
	}
	d.shaderDescs = append(d.shaderDescs, desc)
	if d.shaderErr != nil {
		return nil, d.shaderErr
	}
	return fmt.Sprintf("module-%d", len(d.shaderDescs)), nil
}

func (d *fakeDevice) CreatePipelineLayout(desc *PipelineLayoutDescriptor) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layoutDescs = append(d.layoutDescs, desc)
	if d.layoutErr != nil {
		return nil, d.layoutErr
	}
	return fmt.Sprintf("layout-%d", len(d.layoutDescs)), nil
}

func (d *fakeDevice) CreateRenderPipeline(desc *RawRenderPipelineDescriptor) (any, error) {
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renderDescs = append(d.renderDescs, desc)
	if d.pipeErr != nil {
		return nil, d.pipeErr
	}
	return fmt.Sprintf("render-%d", len(d.renderDescs)), nil
}

func (d *fakeDevice) CreateComputePipeline(desc *RawComputePipelineDescriptor) (any, error) {
	d.wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.computeDescs = append(d.computeDescs, desc)
	if d.pipeErr != nil {
		return nil, d.pipeErr
	}
	return fmt.Sprintf("compute-%d", len(d.computeDescs)), nil
}

func (d *fakeDevice) wait() {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (d *fakeDevice) PushErrorScope() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scopes++
}

func (d *fakeDevice) PopErrorScope() <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scopes--
	ch := make(chan error, 1)
	if d.deferScope {
		return ch
	}
	ch <- d.scopeErr
	return ch
}

func (d *fakeDevice) DestroyShaderModule(any)    { d.destroyed() }
func (d *fakeDevice) DestroyPipelineLayout(any)  { d.destroyed() }
func (d *fakeDevice) DestroyRenderPipeline(any)  { d.destroyedPipeline() }
func (d *fakeDevice) DestroyComputePipeline(any) { d.destroyedPipeline() }

func (d *fakeDevice) destroyed() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyedCount++
}

func (d *fakeDevice) destroyedPipeline() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyedCount++
	d.destroyedPipelines++
}

func (d *fakeDevice) pipelinesDestroyed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyedPipelines
}

func (d *fakeDevice) shaderModuleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shaderDescs)
}

func (d *fakeDevice) lastShaderDesc() *ShaderModuleDescriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.shaderDescs) == 0 {
		return nil
	}
	return d.shaderDescs[len(d.shaderDescs)-1]
}

func TestDownlevelFlags_Contains(t *testing.T) {
	tests := []struct {
		flags DownlevelFlags
		other DownlevelFlags
		want  bool
	}{
		{DownlevelFull, DownlevelCubeArrayTextures, true},
		{0, DownlevelCubeArrayTextures, false},
		{DownlevelArrayTextures, DownlevelArrayTextures | DownlevelCubeArrayTextures, false},
		{DownlevelFull, 0, true},
	}
	for _, tt := range tests {
		if got := tt.flags.Contains(tt.other); got != tt.want {
			t.Errorf("%b.Contains(%b) = %v, want %v", tt.flags, tt.other, got, tt.want)
		}
	}
}

func TestBindGroupLayout_UniqueIDs(t *testing.T) {
	a := NewBindGroupLayout("a", "raw")
	b := NewBindGroupLayout("b", "raw")
	if a.ID() == b.ID() {
		t.Error("wrappers of the same raw object must get distinct ids")
	}
	if a.Label() != "a" || a.Raw() != "raw" {
		t.Errorf("unexpected wrapper contents: %q %v", a.Label(), a.Raw())
	}
}
