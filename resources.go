package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ShaderStages is a mask of shader stages.
type ShaderStages uint8

// Shader stages.
const (
	StageVertex ShaderStages = 1 << iota
	StageFragment
	StageCompute

	StageNone ShaderStages = 0
)

// String returns a "|"-joined list of stage names.
func (s ShaderStages) String() string {
	if s == StageNone {
		return "None"
	}
	var out string
	for _, st := range [...]struct {
		bit  ShaderStages
		name string
	}{{StageVertex, "Vertex"}, {StageFragment, "Fragment"}, {StageCompute, "Compute"}} {
		if s&st.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += st.name
		}
	}
	return out
}

// each calls fn once per stage bit set in s, in stage order.
func (s ShaderStages) each(fn func(ShaderStages) error) error {
	for bit := StageVertex; bit <= StageCompute; bit <<= 1 {
		if s&bit == 0 {
			continue
		}
		if err := fn(bit); err != nil {
			return err
		}
	}
	return nil
}

// BufferDescriptor describes a buffer.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

func (d *BufferDescriptor) validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: buffer %q has zero size", ErrInvalidDescriptor, d.Label)
	}
	if d.Usage == 0 {
		return fmt.Errorf("%w: buffer %q has no usage", ErrInvalidDescriptor, d.Label)
	}
	return nil
}

// TextureDescriptor describes a texture.
type TextureDescriptor struct {
	Label                string
	Width, Height, Depth uint32
	MipLevels            uint32
	ArrayLayers          uint32
	SampleCount          uint32
	Dimension            gputypes.TextureDimension
	Format               gputypes.TextureFormat
	Usage                gputypes.TextureUsage
}

func (d *TextureDescriptor) validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: texture %q has zero extent", ErrInvalidDescriptor, d.Label)
	}
	if d.Format == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: texture %q has no format", ErrInvalidDescriptor, d.Label)
	}
	if d.Usage == 0 {
		return fmt.Errorf("%w: texture %q has no usage", ErrInvalidDescriptor, d.Label)
	}
	return nil
}

// withDefaults fills zero counts with 1.
func (d TextureDescriptor) withDefaults() TextureDescriptor {
	if d.Depth == 0 {
		d.Depth = 1
	}
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.ArrayLayers == 0 {
		d.ArrayLayers = 1
	}
	if d.SampleCount == 0 {
		d.SampleCount = 1
	}
	return d
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
	LodMinClamp  float32
	LodMaxClamp  float32
	Compare      gputypes.CompareFunction
	Anisotropy   uint16
}

// ShaderDescriptor describes one shader stage. Exactly one of SPIRV and
// WGSL must be set.
type ShaderDescriptor struct {
	Label      string
	Stage      ShaderStages
	EntryPoint string
	SPIRV      []uint32
	WGSL       string
}

func (d *ShaderDescriptor) validate() error {
	switch d.Stage {
	case StageVertex, StageFragment, StageCompute:
	default:
		return fmt.Errorf("%w: shader %q must name exactly one stage, got %v", ErrInvalidDescriptor, d.Label, d.Stage)
	}
	if d.EntryPoint == "" {
		return fmt.Errorf("%w: shader %q has no entry point", ErrInvalidDescriptor, d.Label)
	}
	if (len(d.SPIRV) == 0) == (d.WGSL == "") {
		return fmt.Errorf("%w: shader %q needs exactly one of SPIRV or WGSL", ErrInvalidDescriptor, d.Label)
	}
	return nil
}

// FramebufferDescriptor describes a set of render targets. All targets must
// share one extent.
type FramebufferDescriptor struct {
	Label        string
	ColorTargets []Texture
	DepthTarget  Texture
}

// OutputDescription describes the render target formats a graphics
// pipeline writes.
type OutputDescription struct {
	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat
	SampleCount  uint32
}

// Resource objects kept in the table.

type bufferObject struct {
	native NativeObject
	desc   BufferDescriptor
}

type textureObject struct {
	native NativeObject
	desc   TextureDescriptor
}

type samplerObject struct {
	native NativeObject
	desc   SamplerDescriptor
}

type shaderObject struct {
	native     NativeObject
	label      string
	stage      ShaderStages
	entryPoint string
}

type framebufferObject struct {
	native  NativeObject
	label   string
	colors  []Texture
	depth   Texture
	outputs OutputDescription
	width   uint32
	height  uint32

	// surface marks the main framebuffer, whose color target is acquired
	// from the Surface at replay time.
	surface bool
}

func (o *bufferObject) nativeObject() NativeObject      { return o.native }
func (o *textureObject) nativeObject() NativeObject     { return o.native }
func (o *samplerObject) nativeObject() NativeObject     { return o.native }
func (o *shaderObject) nativeObject() NativeObject      { return o.native }
func (o *framebufferObject) nativeObject() NativeObject { return o.native }
