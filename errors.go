package pipecache

import (
	"errors"
	"fmt"
)

// Ambient errors.
var (
	// ErrNilDevice is returned when a cache is created without a device.
	ErrNilDevice = errors.New("pipecache: device is nil")

	// ErrNilShader is returned by SetShader when the shader is nil.
	ErrNilShader = errors.New("pipecache: shader is nil")
)

// Pipeline creation errors. A *Error matches exactly one of these with
// errors.Is.
var (
	// ErrShaderNotLoaded means a referenced shader has no source yet.
	ErrShaderNotLoaded = errors.New("pipecache: shader not loaded")

	// ErrShaderImportNotYetAvailable means a shader's imports are not all resolved.
	ErrShaderImportNotYetAvailable = errors.New("pipecache: shader import not yet available")

	// ErrShaderCompile means the shader compiler rejected the source.
	ErrShaderCompile = errors.New("pipecache: failed to process shader")

	// ErrShaderModuleCreation means the device rejected the compiled module.
	ErrShaderModuleCreation = errors.New("pipecache: failed to create shader module")

	// ErrPipelineCreation means the device rejected the layout or pipeline.
	ErrPipelineCreation = errors.New("pipecache: failed to create pipeline")
)

// ErrorKind classifies a pipeline creation failure.
type ErrorKind uint8

// Error kinds. The first two are retryable, the rest are fatal.
const (
	KindShaderNotLoaded ErrorKind = iota + 1
	KindShaderImportNotYetAvailable
	KindShaderCompile
	KindShaderModuleCreation
	KindPipelineCreation
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindShaderNotLoaded:
		return "ShaderNotLoaded"
	case KindShaderImportNotYetAvailable:
		return "ShaderImportNotYetAvailable"
	case KindShaderCompile:
		return "ShaderCompile"
	case KindShaderModuleCreation:
		return "ShaderModuleCreation"
	case KindPipelineCreation:
		return "PipelineCreation"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Retryable reports whether an entry failing with this kind is queued again.
// Retryable kinds resolve once a dependency shows up.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindShaderNotLoaded, KindShaderImportNotYetAvailable:
		return true
	case KindShaderCompile, KindShaderModuleCreation, KindPipelineCreation:
		return false
	default:
		panic(fmt.Sprintf("pipecache: unknown error kind %d", uint8(k)))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindShaderNotLoaded:
		return ErrShaderNotLoaded
	case KindShaderImportNotYetAvailable:
		return ErrShaderImportNotYetAvailable
	case KindShaderCompile:
		return ErrShaderCompile
	case KindShaderModuleCreation:
		return ErrShaderModuleCreation
	case KindPipelineCreation:
		return ErrPipelineCreation
	default:
		panic(fmt.Sprintf("pipecache: unknown error kind %d", uint8(k)))
	}
}

// Error is a classified pipeline creation failure.
type Error struct {
	Kind ErrorKind

	// Shader is the shader involved, if any.
	Shader ShaderID

	// Diagnostic is the compiler or driver description.
	Diagnostic string

	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Shader != (ShaderID{}) {
		msg += " " + e.Shader.String()
	}
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Retryable reports whether the failure is expected to resolve on its own.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// asError classifies err. Errors that are not already a *Error come from
// the device and are fatal.
func asError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindPipelineCreation, Diagnostic: err.Error(), Err: err}
}
