package pipecache

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/pipecache/internal/compose"
)

// shaderData is the per-shader bookkeeping of the shader cache.
type shaderData struct {
	// pipelines that requested a module of this shader.
	pipelines map[CachedPipelineID]struct{}

	// processed modules keyed by the ordered request defs.
	processed map[string]*ShaderModule

	// resolvedImports maps each import of this shader to its target.
	resolvedImports map[ShaderImport]ShaderID

	// dependents are the shaders importing this one.
	dependents map[ShaderID]struct{}
}

func newShaderData() *shaderData {
	return &shaderData{
		pipelines:       make(map[CachedPipelineID]struct{}),
		processed:       make(map[string]*ShaderModule),
		resolvedImports: make(map[ShaderImport]ShaderID),
		dependents:      make(map[ShaderID]struct{}),
	}
}

// shaderCache compiles and memoizes shader modules and tracks the import
// graph between shaders.
//
// All methods except stats require mu to be held. Background creation
// units take mu around module resolution.
type shaderCache struct {
	mu sync.Mutex

	device   Device
	composer *compose.Composer
	envDefs  []ShaderDef
	spirv    spirv.Options
	logger   func() *slog.Logger

	data              map[ShaderID]*shaderData
	shaders           map[ShaderID]*Shader
	importPathShaders map[ShaderImport]ShaderID
	waitingOnImport   map[ShaderImport][]ShaderID

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newShaderCache(device Device, validate bool, logger func() *slog.Logger) *shaderCache {
	return &shaderCache{
		device:            device,
		composer:          compose.New(compose.Options{Validate: validate}),
		envDefs:           environmentDefs(device.Limits(), device.DownlevelFlags()),
		spirv:             spirvOptions(device.Features()),
		logger:            logger,
		data:              make(map[ShaderID]*shaderData),
		shaders:           make(map[ShaderID]*Shader),
		importPathShaders: make(map[ShaderImport]ShaderID),
		waitingOnImport:   make(map[ShaderImport][]ShaderID),
	}
}

// entry returns the record of id, creating it on first use.
func (sc *shaderCache) entry(id ShaderID) *shaderData {
	d, ok := sc.data[id]
	if !ok {
		d = newShaderData()
		sc.data[id] = d
	}
	return d
}

// get returns the module of shader id compiled with defs, compiling it on a
// miss. The pipeline is recorded as a dependent of the shader.
func (sc *shaderCache) get(pipeline CachedPipelineID, id ShaderID, defs []ShaderDef) (*ShaderModule, error) {
	shader, ok := sc.shaders[id]
	if !ok {
		return nil, &Error{Kind: KindShaderNotLoaded, Shader: id}
	}

	data := sc.entry(id)
	if countAssetImports(shader.Imports) != countResolvedAssetImports(data.resolvedImports) {
		return nil, &Error{Kind: KindShaderImportNotYetAvailable, Shader: id}
	}

	data.pipelines[pipeline] = struct{}{}

	key := defsKey(defs)
	if module, ok := data.processed[key]; ok {
		sc.hits.Add(1)
		return module, nil
	}
	sc.misses.Add(1)

	module, err := sc.compile(id, shader, defs)
	if err != nil {
		return nil, err
	}
	data.processed[key] = module
	return module, nil
}

// compile composes shader with defs and asks the device for a module.
func (sc *shaderCache) compile(id ShaderID, shader *Shader, defs []ShaderDef) (*ShaderModule, error) {
	if err := sc.addImportsToComposer(shader.Imports); err != nil {
		return nil, err
	}

	all := make([]ShaderDef, 0, len(defs)+len(sc.envDefs)+len(shader.Defs))
	all = append(all, defs...)
	all = append(all, sc.envDefs...)
	sc.logger().Debug("processing shader", "shader", id, "path", shader.Path, "defs", all)

	// The shader's own defs come last and win.
	all = append(all, shader.Defs...)
	values := make(map[string]compose.DefValue, len(all))
	for _, d := range all {
		values[d.Name] = d.value()
	}

	composed, err := sc.composer.Compose(compose.ComposeDescriptor{
		Path:   shader.Path,
		Source: shader.Source,
		Defs:   values,
	})
	if err != nil {
		return nil, &Error{Kind: KindShaderCompile, Shader: id, Diagnostic: err.Error(), Err: err}
	}

	desc := &ShaderModuleDescriptor{Label: shader.Path, Validate: shader.Validate}
	if shader.Validate {
		desc.WGSL = composed.Source
	} else {
		code, err := naga.GenerateSPIRV(composed.IR, sc.spirv)
		if err != nil {
			return nil, &Error{Kind: KindShaderCompile, Shader: id, Diagnostic: err.Error(), Err: err}
		}
		desc.SPIRV = spirvWords(code)
	}

	sc.device.PushErrorScope()
	raw, createErr := sc.device.CreateShaderModule(desc)
	scope := sc.device.PopErrorScope()

	// Only an error that is already known is caught here. A device that
	// reports later surfaces it through its own error channel.
	select {
	case scopeErr := <-scope:
		if scopeErr != nil {
			return nil, &Error{Kind: KindShaderModuleCreation, Shader: id, Diagnostic: scopeErr.Error(), Err: scopeErr}
		}
	default:
	}
	if createErr != nil {
		return nil, &Error{Kind: KindShaderModuleCreation, Shader: id, Diagnostic: createErr.Error(), Err: createErr}
	}

	return newShaderModule(shader.Path, raw), nil
}

// addImportsToComposer registers imports and everything they import with
// the composer, dependencies first. Modules already registered are
// skipped, so a cycle ends the walk instead of looping; the composer
// reports it when composing.
func (sc *shaderCache) addImportsToComposer(imports []ShaderImport) error {
	type item struct {
		imp  ShaderImport
		post bool
	}

	stack := make([]item, 0, len(imports))
	for i := len(imports) - 1; i >= 0; i-- {
		stack = append(stack, item{imp: imports[i]})
	}
	visited := make(map[string]bool)

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		name := top.imp.ModuleName()
		if sc.composer.Contains(name) {
			continue
		}

		target, ok := sc.importPathShaders[top.imp]
		var shader *Shader
		if ok {
			shader, ok = sc.shaders[target]
		}
		if !ok {
			return &Error{Kind: KindShaderImportNotYetAvailable, Diagnostic: "import " + top.imp.String()}
		}

		if top.post {
			err := sc.composer.AddModule(compose.ModuleDescriptor{
				Name:   name,
				Path:   shader.Path,
				Source: shader.Source,
			})
			if err != nil {
				return &Error{Kind: KindShaderCompile, Shader: target, Diagnostic: err.Error(), Err: err}
			}
			continue
		}

		if visited[name] {
			continue
		}
		visited[name] = true
		stack = append(stack, item{imp: top.imp, post: true})
		for i := len(shader.Imports) - 1; i >= 0; i-- {
			stack = append(stack, item{imp: shader.Imports[i]})
		}
	}
	return nil
}

// invalidate clears the processed modules of id and of every shader that
// transitively imports it, and returns the pipelines that used them.
func (sc *shaderCache) invalidate(id ShaderID) []CachedPipelineID {
	stack := []ShaderID{id}
	visited := make(map[ShaderID]bool)
	requeue := make(map[CachedPipelineID]struct{})

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		data, ok := sc.data[cur]
		if !ok {
			continue
		}
		clear(data.processed)
		for p := range data.pipelines {
			requeue[p] = struct{}{}
		}
		for dep := range data.dependents {
			if !visited[dep] {
				stack = append(stack, dep)
			}
		}
		if shader, ok := sc.shaders[cur]; ok {
			sc.composer.RemoveModule(shader.ImportPath.ModuleName())
		}
	}

	ids := make([]CachedPipelineID, 0, len(requeue))
	for p := range requeue {
		ids = append(ids, p)
	}
	slices.Sort(ids)
	return ids
}

// setShader installs or replaces the source of id and returns the
// pipelines that must be queued again.
func (sc *shaderCache) setShader(id ShaderID, shader *Shader) []CachedPipelineID {
	requeue := sc.invalidate(id)

	if old, ok := sc.shaders[id]; ok {
		sc.dropEdges(id, old, shader.ImportPath)
	}

	path := shader.ImportPath
	sc.importPathShaders[path] = id
	if waiting, ok := sc.waitingOnImport[path]; ok {
		for _, w := range waiting {
			sc.entry(w).resolvedImports[path] = id
			sc.entry(id).dependents[w] = struct{}{}
		}
		delete(sc.waitingOnImport, path)
	}

	for _, imp := range shader.Imports {
		if target, ok := sc.importPathShaders[imp]; ok {
			sc.entry(id).resolvedImports[imp] = target
			sc.entry(target).dependents[id] = struct{}{}
		} else {
			sc.wait(imp, id)
		}
	}

	sc.shaders[id] = shader
	return requeue
}

// removeShader drops the source of id and returns the pipelines that must
// be queued again. Shaders importing id wait for it again.
func (sc *shaderCache) removeShader(id ShaderID) []CachedPipelineID {
	requeue := sc.invalidate(id)

	shader, ok := sc.shaders[id]
	if !ok {
		return requeue
	}
	delete(sc.shaders, id)
	if sc.importPathShaders[shader.ImportPath] == id {
		delete(sc.importPathShaders, shader.ImportPath)
	}
	sc.dropEdges(id, shader, ShaderImport{})
	return requeue
}

// dropEdges removes the import edges old contributed. When the import path
// changes to next, shaders that imported the old path go back to waiting.
func (sc *shaderCache) dropEdges(id ShaderID, old *Shader, next ShaderImport) {
	for _, imp := range old.Imports {
		sc.unwait(imp, id)
	}

	data, ok := sc.data[id]
	if !ok {
		return
	}
	for imp, target := range data.resolvedImports {
		if td, ok := sc.data[target]; ok {
			delete(td.dependents, id)
		}
		delete(data.resolvedImports, imp)
	}

	if old.ImportPath == next {
		return
	}
	if sc.importPathShaders[old.ImportPath] == id {
		delete(sc.importPathShaders, old.ImportPath)
	}
	for dep := range data.dependents {
		dd, ok := sc.data[dep]
		if !ok || dd.resolvedImports[old.ImportPath] != id {
			continue
		}
		delete(dd.resolvedImports, old.ImportPath)
		delete(data.dependents, dep)
		sc.wait(old.ImportPath, dep)
	}
}

func (sc *shaderCache) wait(imp ShaderImport, id ShaderID) {
	if !slices.Contains(sc.waitingOnImport[imp], id) {
		sc.waitingOnImport[imp] = append(sc.waitingOnImport[imp], id)
	}
}

func (sc *shaderCache) unwait(imp ShaderImport, id ShaderID) {
	waiting := slices.DeleteFunc(sc.waitingOnImport[imp], func(w ShaderID) bool { return w == id })
	if len(waiting) == 0 {
		delete(sc.waitingOnImport, imp)
		return
	}
	sc.waitingOnImport[imp] = waiting
}

// resolves reports whether imp currently maps to a loaded shader.
func (sc *shaderCache) resolves(imp ShaderImport) bool {
	id, ok := sc.importPathShaders[imp]
	if !ok {
		return false
	}
	_, ok = sc.shaders[id]
	return ok
}

// modules returns every processed module.
func (sc *shaderCache) modules() []*ShaderModule {
	var out []*ShaderModule
	for _, d := range sc.data {
		for _, m := range d.processed {
			out = append(out, m)
		}
	}
	return out
}

func countAssetImports(imports []ShaderImport) int {
	seen := make(map[ShaderImport]struct{}, len(imports))
	for _, imp := range imports {
		if imp.Kind == ImportAssetPath {
			seen[imp] = struct{}{}
		}
	}
	return len(seen)
}

func countResolvedAssetImports(resolved map[ShaderImport]ShaderID) int {
	n := 0
	for imp := range resolved {
		if imp.Kind == ImportAssetPath {
			n++
		}
	}
	return n
}

// spirvWords converts little-endian SPIR-V bytes to words.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words
}
