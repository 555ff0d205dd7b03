package pipecache

import (
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/pipecache/task"
)

// PipelineCache creates render and compute pipelines in the background and
// tracks the state of every pipeline queued on it.
//
// Queued pipelines get an id right away. Each call to ProcessQueue merges
// newly queued pipelines and advances every pipeline that is not done yet:
// shader modules and layouts are resolved through the caches, then the
// device creates the pipeline, inline or on the executor.
//
// Identical descriptors queued twice are two pipelines. Nothing is
// deduplicated at this level.
//
// Thread Safety:
// QueueRenderPipeline and QueueComputePipeline are safe for concurrent use.
// Stats is safe for concurrent use. Every other method belongs to one
// coordinating goroutine, typically the frame loop.
type PipelineCache struct {
	device  Device
	opts    options
	shaders *shaderCache
	layouts *layoutCache

	pipelines []cachedPipeline
	waiting   map[CachedPipelineID]struct{}

	// orphans are creations still in flight for pipelines that were
	// queued again. Their results are released once they finish.
	orphans []*task.Future[Pipeline]

	// pendingMu guards pending and merged.
	pendingMu sync.Mutex
	pending   []cachedPipeline
	merged    int

	stats atomic.Pointer[Stats]
}

// New creates a pipeline cache for device.
//
// Without options, creation runs on a task.Pool sized to GOMAXPROCS.
func New(device Device, opts ...Option) (*PipelineCache, error) {
	if device == nil {
		return nil, ErrNilDevice
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.executorSet {
		o.executor = task.NewPool(0)
	}

	c := &PipelineCache{
		device:  device,
		opts:    o,
		layouts: newLayoutCache(device),
		waiting: make(map[CachedPipelineID]struct{}),
	}
	c.shaders = newShaderCache(device, o.validateShaders, c.log)
	c.publishStats()
	return c, nil
}

func (c *PipelineCache) log() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return Logger()
}

// QueueRenderPipeline queues a render pipeline for creation and returns
// its id. It never blocks on creation.
func (c *PipelineCache) QueueRenderPipeline(desc *RenderPipelineDescriptor) RenderPipelineID {
	return RenderPipelineID(c.queue(desc))
}

// QueueComputePipeline queues a compute pipeline for creation and returns
// its id. It never blocks on creation.
func (c *PipelineCache) QueueComputePipeline(desc *ComputePipelineDescriptor) ComputePipelineID {
	return ComputePipelineID(c.queue(desc))
}

func (c *PipelineCache) queue(desc PipelineDescriptor) CachedPipelineID {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	id := CachedPipelineID(c.merged + len(c.pending))
	c.pending = append(c.pending, cachedPipeline{descriptor: desc, state: Queued{}})
	return id
}

// RenderPipelineState returns the state of a render pipeline. Pipelines
// not merged yet report Queued.
func (c *PipelineCache) RenderPipelineState(id RenderPipelineID) State {
	return c.state(CachedPipelineID(id))
}

// ComputePipelineState returns the state of a compute pipeline. Pipelines
// not merged yet report Queued.
func (c *PipelineCache) ComputePipelineState(id ComputePipelineID) State {
	return c.state(CachedPipelineID(id))
}

func (c *PipelineCache) state(id CachedPipelineID) State {
	if id < 0 || int(id) >= len(c.pipelines) {
		return Queued{}
	}
	return c.pipelines[id].state
}

// RenderPipelineDescriptor returns the descriptor a render pipeline was
// queued with. It panics if the pipeline has not been merged by
// ProcessQueue yet.
func (c *PipelineCache) RenderPipelineDescriptor(id RenderPipelineID) *RenderPipelineDescriptor {
	switch d := c.pipelines[id].descriptor.(type) {
	case *RenderPipelineDescriptor:
		return d
	case *ComputePipelineDescriptor:
		panic(fmt.Sprintf("pipecache: pipeline %d is a compute pipeline", id))
	default:
		panic(fmt.Sprintf("pipecache: unknown descriptor %T", d))
	}
}

// ComputePipelineDescriptor returns the descriptor a compute pipeline was
// queued with. It panics if the pipeline has not been merged by
// ProcessQueue yet.
func (c *PipelineCache) ComputePipelineDescriptor(id ComputePipelineID) *ComputePipelineDescriptor {
	switch d := c.pipelines[id].descriptor.(type) {
	case *ComputePipelineDescriptor:
		return d
	case *RenderPipelineDescriptor:
		panic(fmt.Sprintf("pipecache: pipeline %d is a render pipeline", id))
	default:
		panic(fmt.Sprintf("pipecache: unknown descriptor %T", d))
	}
}

// RenderPipeline returns the created render pipeline, or false if it is
// not ready.
func (c *PipelineCache) RenderPipeline(id RenderPipelineID) (*RenderPipeline, bool) {
	ready, ok := c.state(CachedPipelineID(id)).(Ready)
	if !ok {
		return nil, false
	}
	p, ok := ready.Pipeline.(*RenderPipeline)
	return p, ok
}

// ComputePipeline returns the created compute pipeline, or false if it is
// not ready.
func (c *PipelineCache) ComputePipeline(id ComputePipelineID) (*ComputePipeline, bool) {
	ready, ok := c.state(CachedPipelineID(id)).(Ready)
	if !ok {
		return nil, false
	}
	p, ok := ready.Pipeline.(*ComputePipeline)
	return p, ok
}

// BlockOnRenderPipeline waits until an in-flight render pipeline finishes.
func (c *PipelineCache) BlockOnRenderPipeline(id RenderPipelineID) {
	c.blockOn(CachedPipelineID(id))
}

// BlockOnComputePipeline waits until an in-flight compute pipeline finishes.
func (c *PipelineCache) BlockOnComputePipeline(id ComputePipelineID) {
	c.blockOn(CachedPipelineID(id))
}

func (c *PipelineCache) blockOn(id CachedPipelineID) {
	if int(id) >= len(c.pipelines) {
		c.ProcessQueue()
	}

	entry := &c.pipelines[id]
	creating, ok := entry.state.(Creating)
	if !ok {
		return
	}
	p, err := creating.Task.Wait()
	if err != nil {
		entry.state = Failed{Err: asError(err)}
		return
	}
	entry.state = Ready{Pipeline: p}
}

// ProcessQueue merges newly queued pipelines and advances every pipeline
// that is waiting for another look. Call it once per frame.
func (c *PipelineCache) ProcessQueue() {
	waiting := c.waiting
	c.waiting = make(map[CachedPipelineID]struct{}, len(waiting))

	c.pendingMu.Lock()
	for _, p := range c.pending {
		waiting[CachedPipelineID(len(c.pipelines))] = struct{}{}
		c.pipelines = append(c.pipelines, p)
	}
	c.pending = nil
	c.merged = len(c.pipelines)
	c.pendingMu.Unlock()

	c.releaseOrphans(false)
	for _, id := range slices.Sorted(maps.Keys(waiting)) {
		c.processPipeline(id)
	}
	c.publishStats()
}

func (c *PipelineCache) processPipeline(id CachedPipelineID) {
	entry := &c.pipelines[id]

	switch s := entry.state.(type) {
	case Queued:
		entry.state = c.startCreate(id, entry.descriptor)

	case Creating:
		if !s.Task.Ready() {
			break
		}
		p, err := s.Task.Wait()
		if err != nil {
			entry.state = Failed{Err: asError(err)}
			break
		}
		entry.state = Ready{Pipeline: p}

	case Failed:
		if s.Err.Retryable() {
			entry.state = Queued{}
			break
		}
		c.logFailure(id, s.Err)
		return

	case Ready:
		return

	default:
		panic(fmt.Sprintf("pipecache: unknown pipeline state %T", s))
	}

	if _, ready := entry.state.(Ready); ready {
		c.log().Debug("pipeline ready", "pipeline", int(id))
		return
	}
	c.waiting[id] = struct{}{}
}

// logFailure reports a pipeline that will not be retried.
func (c *PipelineCache) logFailure(id CachedPipelineID, err *Error) {
	switch err.Kind {
	case KindShaderCompile:
		c.log().Error("failed to process shader", "pipeline", int(id), "shader", err.Shader, "error", err.Diagnostic)
	case KindShaderModuleCreation:
		c.log().Error("failed to create shader module", "pipeline", int(id), "shader", err.Shader, "error", err.Diagnostic)
	case KindPipelineCreation:
		c.log().Error("failed to create pipeline", "pipeline", int(id), "error", err.Diagnostic)
	case KindShaderNotLoaded, KindShaderImportNotYetAvailable:
		panic("pipecache: retryable error reported as failure")
	default:
		panic(fmt.Sprintf("pipecache: unknown error kind %d", uint8(err.Kind)))
	}
}

// startCreate begins creating the pipeline of id. The work runs inline
// when compilation is synchronous or no executor is available.
func (c *PipelineCache) startCreate(id CachedPipelineID, desc PipelineDescriptor) State {
	var create func() (Pipeline, error)
	switch d := desc.(type) {
	case *RenderPipelineDescriptor:
		create = func() (Pipeline, error) { return c.createRenderPipeline(id, d) }
	case *ComputePipelineDescriptor:
		create = func() (Pipeline, error) { return c.createComputePipeline(id, d) }
	default:
		panic(fmt.Sprintf("pipecache: unknown descriptor %T", d))
	}

	if c.opts.synchronous || c.opts.executor == nil {
		p, err := create()
		if err != nil {
			return Failed{Err: asError(err)}
		}
		return Ready{Pipeline: p}
	}

	f, resolve := task.NewPromise[Pipeline]()
	c.opts.executor.Go(func() {
		resolve(create())
	})
	return Creating{Task: f}
}

// resolveLayout returns the cached layout, or nil for the device default.
// lc.mu must be held.
func resolveLayout(lc *layoutCache, layout []*BindGroupLayout, ranges []PushConstantRange) (*PipelineLayout, error) {
	if len(layout) == 0 && len(ranges) == 0 {
		return nil, nil
	}
	return lc.get(layout, ranges)
}

func (c *PipelineCache) resolveRender(id CachedPipelineID, d *RenderPipelineDescriptor) (vertex, fragment *ShaderModule, layout *PipelineLayout, err error) {
	c.shaders.mu.Lock()
	defer c.shaders.mu.Unlock()
	c.layouts.mu.Lock()
	defer c.layouts.mu.Unlock()

	vertex, err = c.shaders.get(id, d.Vertex.Shader, d.Vertex.ShaderDefs)
	if err != nil {
		return nil, nil, nil, err
	}
	if d.Fragment != nil {
		fragment, err = c.shaders.get(id, d.Fragment.Shader, d.Fragment.ShaderDefs)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	layout, err = resolveLayout(c.layouts, d.Layout, d.PushConstantRanges)
	if err != nil {
		return nil, nil, nil, err
	}
	return vertex, fragment, layout, nil
}

func (c *PipelineCache) createRenderPipeline(id CachedPipelineID, d *RenderPipelineDescriptor) (Pipeline, error) {
	vertex, fragment, layout, err := c.resolveRender(id, d)
	if err != nil {
		return nil, err
	}

	raw := &RawRenderPipelineDescriptor{
		Label:  d.Label,
		Layout: layout,
		Vertex: RawVertexState{
			Module:     vertex,
			EntryPoint: d.Vertex.EntryPoint,
			Buffers:    d.Vertex.Buffers,
		},
		Primitive:                     d.Primitive,
		DepthStencil:                  d.DepthStencil,
		Multisample:                   d.Multisample,
		ZeroInitializeWorkgroupMemory: d.ZeroInitializeWorkgroupMemory,
	}
	if d.Fragment != nil {
		raw.Fragment = &RawFragmentState{
			Module:     fragment,
			EntryPoint: d.Fragment.EntryPoint,
			Targets:    d.Fragment.Targets,
		}
	}

	pipeline, err := c.device.CreateRenderPipeline(raw)
	if err != nil {
		return nil, &Error{Kind: KindPipelineCreation, Diagnostic: err.Error(), Err: err}
	}
	return &RenderPipeline{
		id:       nextObjectID(),
		label:    d.Label,
		raw:      pipeline,
		vertex:   vertex,
		fragment: fragment,
		layout:   layout,
	}, nil
}

func (c *PipelineCache) resolveCompute(id CachedPipelineID, d *ComputePipelineDescriptor) (*ShaderModule, *PipelineLayout, error) {
	c.shaders.mu.Lock()
	defer c.shaders.mu.Unlock()
	c.layouts.mu.Lock()
	defer c.layouts.mu.Unlock()

	module, err := c.shaders.get(id, d.Shader, d.ShaderDefs)
	if err != nil {
		return nil, nil, err
	}
	layout, err := resolveLayout(c.layouts, d.Layout, d.PushConstantRanges)
	if err != nil {
		return nil, nil, err
	}
	return module, layout, nil
}

func (c *PipelineCache) createComputePipeline(id CachedPipelineID, d *ComputePipelineDescriptor) (Pipeline, error) {
	module, layout, err := c.resolveCompute(id, d)
	if err != nil {
		return nil, err
	}

	pipeline, err := c.device.CreateComputePipeline(&RawComputePipelineDescriptor{
		Label:                         d.Label,
		Layout:                        layout,
		Module:                        module,
		EntryPoint:                    d.EntryPoint,
		ZeroInitializeWorkgroupMemory: d.ZeroInitializeWorkgroupMemory,
	})
	if err != nil {
		return nil, &Error{Kind: KindPipelineCreation, Diagnostic: err.Error(), Err: err}
	}
	return &ComputePipeline{
		id:     nextObjectID(),
		label:  d.Label,
		raw:    pipeline,
		module: module,
		layout: layout,
	}, nil
}

// SetShader installs or replaces a shader. Every pipeline built from it,
// directly or through imports, is queued again, ready ones included.
func (c *PipelineCache) SetShader(id ShaderID, shader *Shader) error {
	if shader == nil {
		return ErrNilShader
	}
	c.shaders.mu.Lock()
	requeue := c.shaders.setShader(id, shader)
	c.shaders.mu.Unlock()

	c.requeue(requeue)
	return nil
}

// RemoveShader removes a shader. Every pipeline built from it, directly or
// through imports, is queued again and waits until the shader is back.
func (c *PipelineCache) RemoveShader(id ShaderID) {
	c.shaders.mu.Lock()
	requeue := c.shaders.removeShader(id)
	c.shaders.mu.Unlock()

	c.requeue(requeue)
}

func (c *PipelineCache) requeue(ids []CachedPipelineID) {
	for _, id := range ids {
		if int(id) >= len(c.pipelines) {
			continue
		}
		if creating, ok := c.pipelines[id].state.(Creating); ok {
			c.orphans = append(c.orphans, creating.Task)
		}
		c.pipelines[id].state = Queued{}
		c.waiting[id] = struct{}{}
	}
	if len(ids) > 0 {
		c.log().Debug("pipelines requeued after shader change", "count", len(ids))
	}
}

// ExtractShaders applies the pending change events of provider. Call it
// once per frame before ProcessQueue.
func (c *PipelineCache) ExtractShaders(provider ShaderProvider) {
	for _, ev := range provider.DrainEvents() {
		switch ev.Kind {
		case ShaderAdded, ShaderModified:
			if shader, ok := provider.Shader(ev.ID); ok {
				_ = c.SetShader(ev.ID, shader)
			}
		case ShaderRemoved:
			c.RemoveShader(ev.ID)
		default:
			panic(fmt.Sprintf("pipecache: unknown shader event %d", uint8(ev.Kind)))
		}
	}
}

// ShaderImportResolves reports whether an import currently maps to a
// loaded shader.
func (c *PipelineCache) ShaderImportResolves(imp ShaderImport) bool {
	c.shaders.mu.Lock()
	defer c.shaders.mu.Unlock()
	return c.shaders.resolves(imp)
}

// PipelineEntry is a merged pipeline as seen by Pipelines.
type PipelineEntry struct {
	Descriptor PipelineDescriptor
	State      State
}

// Pipelines iterates the merged pipelines in id order.
func (c *PipelineCache) Pipelines() iter.Seq2[CachedPipelineID, PipelineEntry] {
	return func(yield func(CachedPipelineID, PipelineEntry) bool) {
		for i := range c.pipelines {
			p := &c.pipelines[i]
			if !yield(CachedPipelineID(i), PipelineEntry{Descriptor: p.descriptor, State: p.state}) {
				return
			}
		}
	}
}

// WaitingPipelines returns the ids due for another look, in order.
func (c *PipelineCache) WaitingPipelines() []CachedPipelineID {
	return slices.Sorted(maps.Keys(c.waiting))
}

// Stats is a snapshot of the cache.
type Stats struct {
	Queued   int
	Creating int
	Ready    int
	Failed   int
	Waiting  int

	ShaderModuleHits   uint64
	ShaderModuleMisses uint64
	LayoutHits         uint64
	LayoutMisses       uint64
}

// Total returns the number of merged pipelines.
func (s Stats) Total() int {
	return s.Queued + s.Creating + s.Ready + s.Failed
}

// Stats returns the pipeline counts as of the last ProcessQueue together
// with the current cache hit counters. Safe for concurrent use.
func (c *PipelineCache) Stats() Stats {
	s := *c.stats.Load()
	s.ShaderModuleHits = c.shaders.hits.Load()
	s.ShaderModuleMisses = c.shaders.misses.Load()
	s.LayoutHits = c.layouts.hits.Load()
	s.LayoutMisses = c.layouts.misses.Load()
	return s
}

func (c *PipelineCache) publishStats() {
	var s Stats
	for i := range c.pipelines {
		switch st := c.pipelines[i].state.(type) {
		case Queued:
			s.Queued++
		case Creating:
			s.Creating++
		case Ready:
			s.Ready++
		case Failed:
			s.Failed++
		default:
			panic(fmt.Sprintf("pipecache: unknown pipeline state %T", st))
		}
	}
	s.Waiting = len(c.waiting)
	c.stats.Store(&s)
}

// releaseOrphans releases the pipelines of finished orphaned creations.
// With wait set it waits for every orphan.
func (c *PipelineCache) releaseOrphans(wait bool) {
	kept := c.orphans[:0]
	for _, f := range c.orphans {
		if !wait && !f.Ready() {
			kept = append(kept, f)
			continue
		}
		if p, err := f.Wait(); err == nil {
			c.release(p)
		}
	}
	clear(c.orphans[len(kept):])
	c.orphans = kept
}

// release destroys the raw object of p, if the device implements Destroyer.
func (c *PipelineCache) release(p Pipeline) {
	d, ok := c.device.(Destroyer)
	if !ok {
		return
	}
	switch p := p.(type) {
	case *RenderPipeline:
		d.DestroyRenderPipeline(p.raw)
	case *ComputePipeline:
		d.DestroyComputePipeline(p.raw)
	default:
		panic(fmt.Sprintf("pipecache: unknown pipeline %T", p))
	}
}

// Destroy waits for in-flight creation and releases every pipeline, shader
// module and layout the cache holds, if the device implements Destroyer.
// Creations abandoned by a shader change are waited for and released too.
// The cache must not be used afterwards.
func (c *PipelineCache) Destroy() {
	c.releaseOrphans(true)
	for i := range c.pipelines {
		if creating, ok := c.pipelines[i].state.(Creating); ok {
			p, err := creating.Task.Wait()
			if err != nil {
				c.pipelines[i].state = Failed{Err: asError(err)}
			} else {
				c.pipelines[i].state = Ready{Pipeline: p}
			}
		}
	}

	for i := range c.pipelines {
		if ready, ok := c.pipelines[i].state.(Ready); ok {
			c.release(ready.Pipeline)
		}
	}

	d, ok := c.device.(Destroyer)
	if !ok {
		return
	}
	c.shaders.mu.Lock()
	for _, m := range c.shaders.modules() {
		d.DestroyShaderModule(m.raw)
	}
	c.shaders.mu.Unlock()

	c.layouts.mu.Lock()
	for _, l := range c.layouts.all() {
		d.DestroyPipelineLayout(l.raw)
	}
	c.layouts.mu.Unlock()

	c.log().Debug("pipeline cache destroyed", "pipelines", len(c.pipelines))
}
