// Package pipecache provides an asynchronous compilation cache for GPU
// pipelines.
//
// # Overview
//
// Producers queue render and compute pipeline descriptors and get an id
// back immediately. A coordinating goroutine calls ProcessQueue once per
// frame; every call advances each pending pipeline one step through its
// state machine:
//
//	Queued -> Creating -> Ready
//	   ^         |
//	   +------ Failed (retryable)
//
// Failed pipelines whose error is fatal stay Failed until one of their
// shaders changes.
//
// # Quick Start
//
//	import "github.com/gogpu/pipecache"
//
//	cache, err := pipecache.New(device)
//	if err != nil {
//	    return err
//	}
//
//	shader := pipecache.ParseShader("shaders/blit.wgsl", source)
//	id := pipecache.ShaderIDFromPath("shaders/blit.wgsl")
//	_ = cache.SetShader(id, shader)
//
//	pipeline := cache.QueueComputePipeline(&pipecache.ComputePipelineDescriptor{
//	    Shader:     id,
//	    EntryPoint: "main",
//	})
//
//	for frame := range frames {
//	    cache.ExtractShaders(store)
//	    cache.ProcessQueue()
//	    if p, ok := cache.ComputePipeline(pipeline); ok {
//	        // dispatch with p
//	    }
//	}
//
// # Shaders
//
// Shaders are WGSL with a small preprocessor (#ifdef, #if, #define,
// #{NAME} substitution) and #import directives. Compiled modules are
// shared between pipelines that ask for the same shader with the same
// ordered list of shader defs. Changing or removing a shader drops the
// modules of the shader and of every shader importing it, and queues the
// affected pipelines again.
//
// # Architecture
//
// The package is organized into:
//   - Registry: PipelineCache and its per-pipeline State
//   - Caches: shader modules (import graph, invalidation) and layouts
//   - Collaborators: Device, ShaderProvider, Executor
//   - Sub-packages: backend/native (HAL device), watch (shader directory),
//     metrics (Prometheus), task (futures and pool)
package pipecache

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
