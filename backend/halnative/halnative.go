// Package halnative provides a native backend over the gogpu/wgpu hardware
// abstraction layer.
//
// The backend drives any hal API: the noop API for headless runs and CI,
// and the Vulkan API on machines with a driver. Binding sets map to hal
// bind groups, so the backend uses the descriptor-set binding model.
// Shaders are consumed as SPIR-V; rhi compiles WGSL sources with naga
// before they reach the backend.
//
// # Supported Features
//
//   - Graphics and compute pipelines
//   - Implicit render passes: a pass begins on the first draw or clear
//     after SetFramebuffer and ends on any transfer or framebuffer change
//   - Ordered buffer updates through per-list staging buffers
//   - Texture copies through a staging buffer for uncompressed formats
//   - An offscreen Surface whose images are backend textures
//
// Specialization constants, storage texture bindings and indirect
// commands are not supported.
//
// # Example
//
//	// Import to register the "noop" and "vulkan" backends
//	import _ "github.com/gogpu/rhi/backend/halnative"
//
//	dev, _ := backend.Open("noop")
//
//	// Or drive a hal API directly
//	hb, _ := halnative.New(&noop.API{}, "noop")
//	dev, _ := rhi.NewDevice(hb)
package halnative

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// Backend errors.
var (
	// ErrNoAdapter is returned when the hal API exposes no adapter.
	ErrNoAdapter = errors.New("halnative: no adapter")

	// ErrForeign is returned for objects created by another backend.
	ErrForeign = errors.New("halnative: object of another backend")

	// ErrTimeout is returned when submitted work does not finish in time.
	ErrTimeout = errors.New("halnative: timed out waiting for GPU")

	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("halnative: backend closed")
)

// waitTimeout bounds every fence wait.
const waitTimeout = 5 * time.Second

// Backend is an rhi.Native over one hal device and queue.
type Backend struct {
	info     rhi.NativeInfo
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// mu serializes submission and guards the fence counter.
	mu         sync.Mutex
	fence      hal.Fence
	fenceValue uint64
	closed     bool

	// shared devices belong to a gpucontext provider and outlive the
	// backend.
	shared        bool
	surfaceFormat gputypes.TextureFormat
}

var _ rhi.Native = (*Backend)(nil)

// New opens the first adapter of api. Discrete GPUs are preferred.
func New(api hal.Backend, name string) (*Backend, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halnative: creating %s instance: %w", name, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, name)
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("halnative: opening %s device: %w", name, err)
	}

	fence, err := openDev.Device.CreateFence()
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("halnative: creating fence: %w", err)
	}

	rhi.Logger().Debug("halnative: device opened", slog.String("api", name))
	return &Backend{
		info:          newInfo(name),
		instance:      instance,
		device:        openDev.Device,
		queue:         openDev.Queue,
		fence:         fence,
		surfaceFormat: gputypes.TextureFormatRGBA8Unorm,
	}, nil
}

func newInfo(name string) rhi.NativeInfo {
	return rhi.NativeInfo{
		Name:         name,
		BindingModel: rhi.BindingModelDescriptorSet,
		ShaderFormat: rhi.ShaderFormatSPIRV,
		Features:     rhi.FeatureCompute,
	}
}

// Info implements rhi.Native.
func (b *Backend) Info() rhi.NativeInfo { return b.info }

// CreateBuffer implements rhi.Native.
func (b *Backend) CreateBuffer(desc *rhi.BufferDescriptor) (rhi.NativeObject, error) {
	raw, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: buffer %q: %w", desc.Label, err)
	}
	return &Buffer{raw: raw, label: desc.Label, size: desc.Size}, nil
}

// CreateTexture implements rhi.Native. Every texture gets a default view
// covering all mip levels and layers.
func (b *Backend) CreateTexture(desc *rhi.TextureDescriptor) (rhi.NativeObject, error) {
	raw, err := b.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          textureExtent(desc),
		MipLevelCount: desc.MipLevels,
		SampleCount:   desc.SampleCount,
		Dimension:     textureDimension(desc.Dimension),
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: texture %q: %w", desc.Label, err)
	}

	view, err := b.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        desc.Format,
		Dimension:     viewDimension(desc),
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: desc.MipLevels,
	})
	if err != nil {
		b.device.DestroyTexture(raw)
		return nil, fmt.Errorf("halnative: view of texture %q: %w", desc.Label, err)
	}
	return &Texture{raw: raw, view: view, label: desc.Label, desc: *desc}, nil
}

// CreateSampler implements rhi.Native. LOD clamps, comparison and
// anisotropy are left at the hal defaults.
func (b *Backend) CreateSampler(desc *rhi.SamplerDescriptor) (rhi.NativeObject, error) {
	raw, err := b.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: sampler %q: %w", desc.Label, err)
	}
	return &Sampler{raw: raw, label: desc.Label}, nil
}

// CreateShader implements rhi.Native. desc carries SPIR-V.
func (b *Backend) CreateShader(desc *rhi.ShaderDescriptor) (rhi.NativeObject, error) {
	if len(desc.SPIRV) == 0 {
		return nil, fmt.Errorf("%w: shader %q without SPIR-V", rhi.ErrUnsupported, desc.Label)
	}
	raw, err := b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: desc.SPIRV},
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: shader %q: %w", desc.Label, err)
	}
	return &Shader{raw: raw, label: desc.Label}, nil
}

// CreateFramebuffer implements rhi.Native. Render passes use the default
// views of the targets, so no hal object is created.
func (b *Backend) CreateFramebuffer(desc *rhi.NativeFramebufferDescriptor) (rhi.NativeObject, error) {
	fb := &Framebuffer{label: desc.Label, colors: make([]*Texture, len(desc.Colors))}
	for i, c := range desc.Colors {
		t, err := asTexture(c)
		if err != nil {
			return nil, fmt.Errorf("framebuffer %q color %d: %w", desc.Label, i, err)
		}
		fb.colors[i] = t
	}
	if desc.Depth != nil {
		t, err := asTexture(desc.Depth)
		if err != nil {
			return nil, fmt.Errorf("framebuffer %q depth: %w", desc.Label, err)
		}
		fb.depth = t
	}
	return fb, nil
}

// CreateBindingLayout implements rhi.Native.
func (b *Backend) CreateBindingLayout(desc *rhi.BindingLayoutDescriptor) (rhi.NativeObject, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(desc.Elements))
	for i, e := range desc.Elements {
		entry, err := layoutEntry(e)
		if err != nil {
			return nil, fmt.Errorf("binding layout %q: %w", desc.Label, err)
		}
		entries[i] = entry
	}

	raw, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: binding layout %q: %w", desc.Label, err)
	}
	return &BindingLayout{raw: raw, label: desc.Label, elements: desc.Elements}, nil
}

// CreateBindingSet implements rhi.Native.
func (b *Backend) CreateBindingSet(desc *rhi.NativeBindingSetDescriptor) (rhi.NativeObject, error) {
	layout, ok := desc.Layout.(*BindingLayout)
	if !ok {
		return nil, fmt.Errorf("binding set %q: %w", desc.Label, ErrForeign)
	}

	entries := make([]gputypes.BindGroupEntry, len(desc.Resources))
	for i, r := range desc.Resources {
		entry, err := bindEntry(desc.Elements[i], r)
		if err != nil {
			return nil, fmt.Errorf("binding set %q: %w", desc.Label, err)
		}
		entries[i] = entry
	}

	raw, err := b.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout.raw,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: binding set %q: %w", desc.Label, err)
	}
	return &BindingSet{raw: raw, label: desc.Label}, nil
}

// CreatePipeline implements rhi.Native.
func (b *Backend) CreatePipeline(desc *rhi.NativePipelineDescriptor) (rhi.NativeObject, error) {
	if len(desc.Specializations) > 0 {
		return nil, fmt.Errorf("%w: specialization constants in %q", rhi.ErrUnsupported, desc.Label)
	}

	layouts := make([]hal.BindGroupLayout, len(desc.Layouts))
	for i, l := range desc.Layouts {
		bl, ok := l.(*BindingLayout)
		if !ok {
			return nil, fmt.Errorf("pipeline %q layout %d: %w", desc.Label, i, ErrForeign)
		}
		layouts[i] = bl.raw
	}
	layout, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: pipeline layout %q: %w", desc.Label, err)
	}

	p := &Pipeline{layout: layout, label: desc.Label}
	if desc.Compute {
		err = b.createCompute(desc, p)
	} else {
		err = b.createRender(desc, p)
	}
	if err != nil {
		b.device.DestroyPipelineLayout(layout)
		return nil, err
	}
	return p, nil
}

func stageModule(desc *rhi.NativePipelineDescriptor, stage rhi.ShaderStages) (*Shader, string, bool) {
	for _, s := range desc.Shaders {
		if s.Stage == stage {
			m, ok := s.Module.(*Shader)
			return m, s.EntryPoint, ok
		}
	}
	return nil, "", false
}

func (b *Backend) createCompute(desc *rhi.NativePipelineDescriptor, p *Pipeline) error {
	cs, entry, ok := stageModule(desc, rhi.StageCompute)
	if !ok {
		return fmt.Errorf("pipeline %q compute shader: %w", desc.Label, ErrForeign)
	}
	raw, err := b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: cs.raw, EntryPoint: entry},
	})
	if err != nil {
		return fmt.Errorf("halnative: compute pipeline %q: %w", desc.Label, err)
	}
	p.compute = raw
	return nil
}

func (b *Backend) createRender(desc *rhi.NativePipelineDescriptor, p *Pipeline) error {
	vs, vsEntry, ok := stageModule(desc, rhi.StageVertex)
	if !ok {
		return fmt.Errorf("pipeline %q vertex shader: %w", desc.Label, ErrForeign)
	}

	sampleCount := desc.Outputs.SampleCount
	if sampleCount == 0 {
		sampleCount = 1
	}
	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     vs.raw,
			EntryPoint: vsEntry,
			Buffers:    vertexBuffers(desc.VertexLayouts),
		},
		DepthStencil: depthStencil(desc.PipelineDescriptor),
		Multisample: gputypes.MultisampleState{
			Count:                  sampleCount,
			Mask:                   0xFFFFFFFF,
			AlphaToCoverageEnabled: desc.Blend.AlphaToCoverage,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.Raster.FrontFace,
			CullMode:  desc.Raster.CullMode,
		},
	}
	if fs, fsEntry, ok := stageModule(desc, rhi.StageFragment); ok {
		halDesc.Fragment = &hal.FragmentState{
			Module:     fs.raw,
			EntryPoint: fsEntry,
			Targets:    colorTargets(desc.PipelineDescriptor),
		}
	}

	raw, err := b.device.CreateRenderPipeline(halDesc)
	if err != nil {
		return fmt.Errorf("halnative: render pipeline %q: %w", desc.Label, err)
	}
	p.render = raw
	return nil
}

// Release implements rhi.Native.
func (b *Backend) Release(obj rhi.NativeObject) {
	switch o := obj.(type) {
	case *Buffer:
		b.device.DestroyBuffer(o.raw)
	case *Texture:
		b.device.DestroyTextureView(o.view)
		b.device.DestroyTexture(o.raw)
	case *Sampler:
		b.device.DestroySampler(o.raw)
	case *Shader:
		b.device.DestroyShaderModule(o.raw)
	case *Framebuffer:
	case *BindingLayout:
		b.device.DestroyBindGroupLayout(o.raw)
	case *BindingSet:
		b.device.DestroyBindGroup(o.raw)
	case *Pipeline:
		if o.render != nil {
			b.device.DestroyRenderPipeline(o.render)
		}
		if o.compute != nil {
			b.device.DestroyComputePipeline(o.compute)
		}
		b.device.DestroyPipelineLayout(o.layout)
	default:
		rhi.Logger().Warn("halnative: release of foreign object", slog.String("type", fmt.Sprintf("%T", obj)))
	}
}

// Encoder implements rhi.Native.
func (b *Backend) Encoder(label string) (rhi.Encoder, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	raw, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("halnative: command encoder %q: %w", label, err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("halnative: begin encoding %q: %w", label, err)
	}
	return &Encoder{b: b, raw: raw, label: label}, nil
}

// Submit implements rhi.Native. It waits for the GPU to finish the list
// and then frees the list's staging buffers.
func (b *Backend) Submit(enc rhi.Encoder) error {
	e, ok := enc.(*Encoder)
	if !ok {
		return fmt.Errorf("submit: %w", ErrForeign)
	}
	defer e.releaseStaging()

	cmd, err := e.finish()
	if err != nil {
		return err
	}
	defer b.device.FreeCommandBuffer(cmd)

	return b.signalAndWait([]hal.CommandBuffer{cmd}, e.label)
}

// WaitIdle implements rhi.Native.
func (b *Backend) WaitIdle() error {
	return b.signalAndWait(nil, "idle")
}

func (b *Backend) signalAndWait(cmds []hal.CommandBuffer, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.fenceValue++
	if err := b.queue.Submit(cmds, b.fence, b.fenceValue); err != nil {
		return fmt.Errorf("halnative: submit %q: %w", label, err)
	}
	done, err := b.device.Wait(b.fence, b.fenceValue, waitTimeout)
	if err != nil {
		return fmt.Errorf("halnative: wait %q: %w", label, err)
	}
	if !done {
		return fmt.Errorf("%w: %q after %v", ErrTimeout, label, waitTimeout)
	}
	return nil
}

// Close implements rhi.Native.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.device.DestroyFence(b.fence)
	if !b.shared {
		b.device.Destroy()
		b.instance.Destroy()
	}
	rhi.Logger().Debug("halnative: device closed", slog.String("api", b.info.Name))
	return nil
}
