// Package native adapts a gogpu/wgpu HAL device to the pipecache.Device
// interface.
//
// The HAL has no WebGPU error scopes. Every HAL failure comes back from the
// call that caused it, so Device only counts open scopes and PopErrorScope
// resolves to nil at once.
//
// Usage:
//
//	dev, cleanup, err := native.OpenNoop()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
//	cache, err := pipecache.New(dev)
package native
