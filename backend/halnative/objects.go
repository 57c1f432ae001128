package halnative

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// Buffer is a hal buffer created by a Backend.
type Buffer struct {
	raw   hal.Buffer
	label string
	size  uint64
}

// Texture is a hal texture with its default view.
type Texture struct {
	raw   hal.Texture
	view  hal.TextureView
	label string
	desc  rhi.TextureDescriptor
}

// Sampler is a hal sampler.
type Sampler struct {
	raw   hal.Sampler
	label string
}

// Shader is a hal shader module.
type Shader struct {
	raw   hal.ShaderModule
	label string
}

// Framebuffer groups the default views of its targets.
type Framebuffer struct {
	label  string
	colors []*Texture
	depth  *Texture
}

// BindingLayout is a hal bind group layout.
type BindingLayout struct {
	raw      hal.BindGroupLayout
	label    string
	elements []rhi.BindingElement
}

// BindingSet is a hal bind group.
type BindingSet struct {
	raw   hal.BindGroup
	label string
}

// Pipeline is a hal render or compute pipeline with its pipeline layout.
type Pipeline struct {
	render  hal.RenderPipeline
	compute hal.ComputePipeline
	layout  hal.PipelineLayout
	label   string
}

func (b *Buffer) String() string        { return "Buffer(" + b.label + ")" }
func (t *Texture) String() string       { return "Texture(" + t.label + ")" }
func (p *Pipeline) String() string      { return "Pipeline(" + p.label + ")" }
func (f *Framebuffer) String() string   { return "Framebuffer(" + f.label + ")" }
func (s *BindingSet) String() string    { return "BindingSet(" + s.label + ")" }
func (l *BindingLayout) String() string { return "BindingLayout(" + l.label + ")" }

func asBuffer(n rhi.NativeObject) (*Buffer, error) {
	b, ok := n.(*Buffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("%w: %T is not a halnative buffer", ErrForeign, n)
	}
	return b, nil
}

func asTexture(n rhi.NativeObject) (*Texture, error) {
	t, ok := n.(*Texture)
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: %T is not a halnative texture", ErrForeign, n)
	}
	return t, nil
}

func asPipeline(n rhi.NativeObject) (*Pipeline, error) {
	p, ok := n.(*Pipeline)
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %T is not a halnative pipeline", ErrForeign, n)
	}
	return p, nil
}

// textureExtent returns the hal extent of desc. The third component holds
// the depth of 3D textures and the layer count of all others.
func textureExtent(desc *rhi.TextureDescriptor) hal.Extent3D {
	layers := desc.ArrayLayers
	if desc.Dimension == gputypes.TextureDimension3D {
		layers = desc.Depth
	}
	return hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: layers}
}

func textureDimension(d gputypes.TextureDimension) gputypes.TextureDimension {
	switch d {
	case gputypes.TextureDimension1D, gputypes.TextureDimension3D:
		return d
	default:
		return gputypes.TextureDimension2D
	}
}

func viewDimension(desc *rhi.TextureDescriptor) gputypes.TextureViewDimension {
	switch {
	case desc.Dimension == gputypes.TextureDimension1D:
		return gputypes.TextureViewDimension1D
	case desc.Dimension == gputypes.TextureDimension3D:
		return gputypes.TextureViewDimension3D
	case desc.ArrayLayers > 1:
		return gputypes.TextureViewDimension2DArray
	default:
		return gputypes.TextureViewDimension2D
	}
}

// texelSize returns the bytes per texel of the formats that can be copied
// through a staging buffer, or 0.
func texelSize(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float:
		return 4
	case gputypes.TextureFormatRGBA16Float:
		return 8
	case gputypes.TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

func shaderStages(s rhi.ShaderStages) gputypes.ShaderStages {
	var out gputypes.ShaderStages
	if s&rhi.StageVertex != 0 {
		out |= gputypes.ShaderStageVertex
	}
	if s&rhi.StageFragment != 0 {
		out |= gputypes.ShaderStageFragment
	}
	if s&rhi.StageCompute != 0 {
		out |= gputypes.ShaderStageCompute
	}
	return out
}

// layoutEntry converts one binding element. Storage textures need a format
// the element does not carry, so they are rejected.
func layoutEntry(e rhi.BindingElement) (gputypes.BindGroupLayoutEntry, error) {
	entry := gputypes.BindGroupLayoutEntry{Binding: e.Slot, Visibility: shaderStages(e.Stages)}
	switch e.Kind {
	case rhi.ResourceUniformBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, HasDynamicOffset: e.Dynamic}
	case rhi.ResourceStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage, HasDynamicOffset: e.Dynamic}
	case rhi.ResourceReadOnlyStorageBuffer:
		entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage, HasDynamicOffset: e.Dynamic}
	case rhi.ResourceTexture:
		entry.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	case rhi.ResourceSampler:
		entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	default:
		return entry, fmt.Errorf("%w: %v binding %q", rhi.ErrUnsupported, e.Kind, e.Name)
	}
	return entry, nil
}

// bindEntry converts one resolved binding set member.
func bindEntry(e rhi.BindingElement, r rhi.NativeBinding) (gputypes.BindGroupEntry, error) {
	entry := gputypes.BindGroupEntry{Binding: e.Slot}
	switch o := r.Object.(type) {
	case *Buffer:
		size := r.Size
		if size == 0 {
			size = o.size - r.Offset
		}
		entry.Resource = gputypes.BufferBinding{Buffer: o.raw.NativeHandle(), Offset: r.Offset, Size: size}
	case *Texture:
		entry.Resource = gputypes.TextureViewBinding{TextureView: o.view.NativeHandle()}
	case *Sampler:
		entry.Resource = gputypes.SamplerBinding{Sampler: o.raw.NativeHandle()}
	default:
		return entry, fmt.Errorf("%w: %T bound to %q", ErrForeign, r.Object, e.Name)
	}
	return entry, nil
}

func stencilOp(op rhi.StencilOp) hal.StencilOperation {
	switch op {
	case rhi.StencilZero:
		return hal.StencilOperationZero
	case rhi.StencilReplace:
		return hal.StencilOperationReplace
	case rhi.StencilInvert:
		return hal.StencilOperationInvert
	case rhi.StencilIncrementClamp:
		return hal.StencilOperationIncrementClamp
	case rhi.StencilDecrementClamp:
		return hal.StencilOperationDecrementClamp
	case rhi.StencilIncrementWrap:
		return hal.StencilOperationIncrementWrap
	case rhi.StencilDecrementWrap:
		return hal.StencilOperationDecrementWrap
	default:
		return hal.StencilOperationKeep
	}
}

func stencilFace(f rhi.StencilFace) hal.StencilFaceState {
	return hal.StencilFaceState{
		Compare:     f.Compare,
		FailOp:      stencilOp(f.Fail),
		DepthFailOp: stencilOp(f.DepthFail),
		PassOp:      stencilOp(f.Pass),
	}
}

func depthStencil(d *rhi.PipelineDescriptor) *hal.DepthStencilState {
	if d.Outputs.DepthFormat == gputypes.TextureFormatUndefined {
		return nil
	}
	ds := d.DepthStencil
	state := &hal.DepthStencilState{
		Format:            d.Outputs.DepthFormat,
		DepthWriteEnabled: ds.DepthTest && ds.DepthWrite,
		DepthCompare:      gputypes.CompareFunctionAlways,
		StencilFront:      stencilFace(rhi.StencilFace{Compare: gputypes.CompareFunctionAlways}),
		StencilBack:       stencilFace(rhi.StencilFace{Compare: gputypes.CompareFunctionAlways}),
	}
	if ds.DepthTest {
		state.DepthCompare = ds.DepthCompare
	}
	if ds.StencilTest {
		state.StencilFront = stencilFace(ds.Front)
		state.StencilBack = stencilFace(ds.Back)
		state.StencilReadMask = ds.ReadMask
		state.StencilWriteMask = ds.WriteMask
	}
	return state
}

func colorTargets(d *rhi.PipelineDescriptor) []gputypes.ColorTargetState {
	targets := make([]gputypes.ColorTargetState, len(d.Outputs.ColorFormats))
	for i, f := range d.Outputs.ColorFormats {
		targets[i] = gputypes.ColorTargetState{Format: f, WriteMask: gputypes.ColorWriteMaskAll}
		if i >= len(d.Blend.Attachments) {
			continue
		}
		a := d.Blend.Attachments[i]
		if a.WriteMask != 0 {
			targets[i].WriteMask = a.WriteMask
		}
		if a.Enabled {
			targets[i].Blend = &gputypes.BlendState{
				Color: gputypes.BlendComponent{SrcFactor: a.SrcColor, DstFactor: a.DstColor, Operation: a.ColorOp},
				Alpha: gputypes.BlendComponent{SrcFactor: a.SrcAlpha, DstFactor: a.DstAlpha, Operation: a.AlphaOp},
			}
		}
	}
	return targets
}

func vertexBuffers(layouts []rhi.VertexLayout) []gputypes.VertexBufferLayout {
	out := make([]gputypes.VertexBufferLayout, len(layouts))
	for i, l := range layouts {
		out[i] = gputypes.VertexBufferLayout{ArrayStride: l.Stride, StepMode: gputypes.VertexStepModeVertex}
		if l.InstanceStepRate > 0 {
			out[i].StepMode = gputypes.VertexStepModeInstance
		}
		for _, e := range l.Elements {
			out[i].Attributes = append(out[i].Attributes, gputypes.VertexAttribute{
				Format:         e.Format,
				Offset:         e.Offset,
				ShaderLocation: e.Location,
			})
		}
	}
	return out
}
