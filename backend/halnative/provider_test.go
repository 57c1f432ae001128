package halnative

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/rhitest"
)

// hostProvider is a gpucontext.DeviceProvider that shares a hal device the
// way a host application does.
type hostProvider struct {
	device any
	queue  any
	format gputypes.TextureFormat
}

func (p *hostProvider) Device() gpucontext.Device             { return nil }
func (p *hostProvider) Queue() gpucontext.Queue               { return nil }
func (p *hostProvider) Adapter() gpucontext.Adapter           { return nil }
func (p *hostProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }
func (p *hostProvider) HalDevice() any                        { return p.device }
func (p *hostProvider) HalQueue() any                         { return p.queue }

// plainProvider exposes no hal access.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device             { return nil }
func (plainProvider) Queue() gpucontext.Queue               { return nil }
func (plainProvider) Adapter() gpucontext.Adapter           { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }

func TestFromProvider(t *testing.T) {
	host := newNoop(t)
	defer host.Close()

	p := &hostProvider{device: host.device, queue: host.queue, format: gputypes.TextureFormatBGRA8Unorm}
	b, err := FromProvider(p, "host")
	if err != nil {
		t.Fatalf("FromProvider: %v", err)
	}
	if b.Info().Name != "host" || b.SurfaceFormat() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Info() = %+v, SurfaceFormat() = %v", b.Info(), b.SurfaceFormat())
	}
	if s := b.NewSurface(8, 8, gputypes.TextureFormatUndefined); s.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("surface format = %v, want the provider's", s.Format())
	}

	dev, err := rhi.NewDevice(b)
	if err != nil {
		t.Fatal(err)
	}
	scene := rhitest.NewScene(t, dev, 16, 16)
	list := scene.RecordTriangle(t, dev, "shared", make([]byte, 16))
	if err := dev.SubmitAndWait(testContext(t), list); err != nil {
		t.Fatalf("SubmitAndWait: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The host device survives the backend.
	if _, err := host.CreateBuffer(&rhi.BufferDescriptor{Label: "after", Size: 16}); err != nil {
		t.Errorf("host device unusable after shared backend closed: %v", err)
	}
}

func TestFromProviderRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider gpucontext.DeviceProvider
	}{
		{"no hal access", plainProvider{}},
		{"wrong device type", &hostProvider{device: "device", queue: "queue"}},
		{"nil device", &hostProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromProvider(tt.provider, "host"); !errors.Is(err, ErrNoHalAccess) {
				t.Errorf("FromProvider = %v, want ErrNoHalAccess", err)
			}
		})
	}
}
