package native

import "errors"

// Package errors.
var (
	// ErrNilDevice is returned when wrapping a nil HAL device.
	ErrNilDevice = errors.New("native: HAL device is nil")

	// ErrNoAdapter is returned when an instance exposes no adapter.
	ErrNoAdapter = errors.New("native: no GPU adapter available")

	// ErrNotHALProvider is returned when a device provider does not expose
	// a HAL device.
	ErrNotHALProvider = errors.New("native: provider does not expose a HAL device")

	// ErrForeignObject is returned when a descriptor references an object
	// that was not created by a native device.
	ErrForeignObject = errors.New("native: object was not created by a HAL device")

	// ErrNoErrorScope is reported when popping an empty error scope stack.
	ErrNoErrorScope = errors.New("native: error scope stack is empty")
)
