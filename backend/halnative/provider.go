package halnative

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoHalAccess is returned by FromProvider for providers that do not
// expose their hal device and queue.
var ErrNoHalAccess = errors.New("halnative: provider does not expose hal device")

// halProvider is implemented by hosts that share their hal device, such as
// gogpu applications.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// FromProvider returns a backend that records into the device of a host
// application. The host keeps ownership of the device: Close releases only
// the objects the backend created.
//
// The provider must implement HalDevice() any and HalQueue() any returning
// a hal.Device and a hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider, name string) (*Backend, error) {
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNoHalAccess, provider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice of %T is not a hal.Device", ErrNoHalAccess, provider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue of %T is not a hal.Queue", ErrNoHalAccess, provider)
	}

	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("halnative: creating fence: %w", err)
	}

	format := provider.SurfaceFormat()
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	rhi.Logger().Debug("halnative: using provider device", slog.String("api", name), slog.Any("format", format))
	return &Backend{
		info:          newInfo(name),
		device:        device,
		queue:         queue,
		fence:         fence,
		shared:        true,
		surfaceFormat: format,
	}, nil
}

// SurfaceFormat returns the format surfaces of this backend should use:
// the provider's surface format, or RGBA8Unorm for backends opened with New.
func (b *Backend) SurfaceFormat() gputypes.TextureFormat {
	return b.surfaceFormat
}
