package native

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// halProvider is implemented by device providers that expose their HAL
// objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider wraps the HAL device of a gpucontext provider, such as a
// gogpu window, with the default configuration.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, ErrNilDevice
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("HalDevice returned %T: %w", hp.HalDevice(), ErrNotHALProvider)
	}
	return NewDevice(device, DefaultConfig())
}

// OpenNoop opens a device on the no-op HAL backend. Objects are created
// but nothing runs on a GPU. The returned cleanup releases the device and
// its instance.
func OpenNoop() (*Device, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, ErrNoAdapter
	}

	cfg := DefaultConfig()
	openDev, err := adapters[0].Adapter.Open(gputypes.Features(0), cfg.Limits)
	if err != nil {
		instance.Destroy()
		return nil, nil, fmt.Errorf("open device: %w", err)
	}

	dev, err := NewDevice(openDev.Device, cfg)
	if err != nil {
		instance.Destroy()
		return nil, nil, err
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return dev, cleanup, nil
}
