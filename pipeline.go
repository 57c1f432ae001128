package rhi

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// BlendAttachment describes blending for one color target.
type BlendAttachment struct {
	Enabled   bool
	SrcColor  gputypes.BlendFactor
	DstColor  gputypes.BlendFactor
	ColorOp   gputypes.BlendOperation
	SrcAlpha  gputypes.BlendFactor
	DstAlpha  gputypes.BlendFactor
	AlphaOp   gputypes.BlendOperation
	WriteMask gputypes.ColorWriteMask
}

// BlendState describes blending for all color targets.
type BlendState struct {
	Constant        gputypes.Color
	AlphaToCoverage bool

	// Attachments holds one entry per color target. It may be empty, in
	// which case blending is disabled and all channels are written.
	Attachments []BlendAttachment
}

// StencilOp is a stencil buffer update.
type StencilOp uint8

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilInvert
	StencilIncrementClamp
	StencilDecrementClamp
	StencilIncrementWrap
	StencilDecrementWrap
)

// StencilFace describes stencil operations for one face.
type StencilFace struct {
	Compare   gputypes.CompareFunction
	Fail      StencilOp
	DepthFail StencilOp
	Pass      StencilOp
}

// DepthStencilState describes depth and stencil testing.
type DepthStencilState struct {
	DepthTest    bool
	DepthWrite   bool
	DepthCompare gputypes.CompareFunction

	StencilTest bool
	Front       StencilFace
	Back        StencilFace
	ReadMask    uint32
	WriteMask   uint32
	Reference   uint32
}

// RasterizerState describes rasterization.
type RasterizerState struct {
	CullMode  gputypes.CullMode
	FrontFace gputypes.FrontFace
	Wireframe bool
	DepthClip bool
	Scissor   bool
}

// VertexElement describes one vertex attribute.
type VertexElement struct {
	Name     string
	Location uint32
	Format   gputypes.VertexFormat
	Offset   uint64
}

// VertexLayout describes one vertex buffer.
type VertexLayout struct {
	Stride uint64

	// InstanceStepRate 0 advances per vertex; 1 advances per instance.
	InstanceStepRate uint32

	Elements []VertexElement
}

// SpecType is the type of a specialization constant.
type SpecType uint8

const (
	SpecBool SpecType = iota + 1
	SpecInt32
	SpecUint32
	SpecInt64
	SpecUint64
	SpecFloat32
	SpecFloat64
)

// SpecializationConstant overrides one shader constant at pipeline creation.
// Value holds the raw bits of the typed value.
type SpecializationConstant struct {
	ID    uint32
	Type  SpecType
	Value uint64
}

// SpecBoolValue returns a boolean specialization constant.
func SpecBoolValue(id uint32, v bool) SpecializationConstant {
	var bits uint64
	if v {
		bits = 1
	}
	return SpecializationConstant{ID: id, Type: SpecBool, Value: bits}
}

// SpecUint32Value returns an unsigned 32-bit specialization constant.
func SpecUint32Value(id, v uint32) SpecializationConstant {
	return SpecializationConstant{ID: id, Type: SpecUint32, Value: uint64(v)}
}

// SpecInt32Value returns a signed 32-bit specialization constant.
func SpecInt32Value(id uint32, v int32) SpecializationConstant {
	return SpecializationConstant{ID: id, Type: SpecInt32, Value: uint64(uint32(v))} //nolint:gosec // two's complement bits are stored
}

// SpecFloat32Value returns a 32-bit float specialization constant.
func SpecFloat32Value(id uint32, v float32) SpecializationConstant {
	return SpecializationConstant{ID: id, Type: SpecFloat32, Value: uint64(math.Float32bits(v))}
}

// SpecFloat64Value returns a 64-bit float specialization constant.
func SpecFloat64Value(id uint32, v float64) SpecializationConstant {
	return SpecializationConstant{ID: id, Type: SpecFloat64, Value: math.Float64bits(v)}
}

// PipelineDescriptor describes a graphics or compute pipeline.
//
// A pipeline with a single compute shader is a compute pipeline and ignores
// the fixed-function state. Any other pipeline is a graphics pipeline and
// needs a vertex shader.
type PipelineDescriptor struct {
	Label string

	Blend        BlendState
	DepthStencil DepthStencilState
	Raster       RasterizerState
	Topology     gputypes.PrimitiveTopology

	VertexLayouts   []VertexLayout
	Shaders         []Shader
	Specializations []SpecializationConstant

	// Layouts holds the binding layouts in set index order.
	Layouts []BindingLayout

	Outputs OutputDescription
}

// validateShape checks the description without resolving references.
func (d *PipelineDescriptor) validateShape() error {
	if len(d.Shaders) == 0 {
		return fmt.Errorf("%w: %q has no shaders", ErrInvalidPipeline, d.Label)
	}
	ids := make(map[uint32]struct{}, len(d.Specializations))
	for _, sc := range d.Specializations {
		if sc.Type < SpecBool || sc.Type > SpecFloat64 {
			return fmt.Errorf("%w: %q specialization %d has unknown type %d", ErrInvalidPipeline, d.Label, sc.ID, sc.Type)
		}
		if _, dup := ids[sc.ID]; dup {
			return fmt.Errorf("%w: %q specializes constant %d twice", ErrInvalidPipeline, d.Label, sc.ID)
		}
		ids[sc.ID] = struct{}{}
	}
	for i, vl := range d.VertexLayouts {
		if len(vl.Elements) == 0 {
			return fmt.Errorf("%w: %q vertex layout %d has no elements", ErrInvalidPipeline, d.Label, i)
		}
	}
	return nil
}

// validateGraphics checks the state only graphics pipelines use.
func (d *PipelineDescriptor) validateGraphics(stages ShaderStages) error {
	if stages&StageVertex == 0 {
		return fmt.Errorf("%w: %q has no vertex shader", ErrInvalidPipeline, d.Label)
	}
	if stages&StageCompute != 0 {
		return fmt.Errorf("%w: %q mixes compute and graphics shaders", ErrInvalidPipeline, d.Label)
	}
	out := d.Outputs
	if len(out.ColorFormats) == 0 && out.DepthFormat == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: %q writes no outputs", ErrInvalidPipeline, d.Label)
	}
	if n := len(d.Blend.Attachments); n != 0 && n != len(out.ColorFormats) {
		return fmt.Errorf("%w: %q has %d blend attachments for %d color targets",
			ErrInvalidPipeline, d.Label, n, len(out.ColorFormats))
	}
	if (d.DepthStencil.DepthTest || d.DepthStencil.StencilTest) && out.DepthFormat == gputypes.TextureFormatUndefined {
		return fmt.Errorf("%w: %q tests depth without a depth output", ErrInvalidPipeline, d.Label)
	}
	return nil
}

// pipelineKey is the canonical encoding of a pipeline description.
//
// Shaders and layouts enter the key by reference, never by content, so two
// shaders with equal code are distinct. Specialization constants enter with
// their type tag, ordered by ID.
type pipelineKey string

// encodePipelineKey returns the structural key of d and its FNV-64a hash.
func encodePipelineKey(d *PipelineDescriptor, compute bool) (pipelineKey, uint64) {
	var e keyEncoder
	e.bool(compute)

	e.u32(uint32(len(d.Shaders)))
	for _, s := range d.Shaders {
		e.ref(s.Ref)
	}
	specs := slices.Clone(d.Specializations)
	slices.SortFunc(specs, func(a, b SpecializationConstant) int { return cmp.Compare(a.ID, b.ID) })
	e.u32(uint32(len(specs)))
	for _, sc := range specs {
		e.u32(sc.ID)
		e.u8(uint8(sc.Type))
		e.u64(sc.Value)
	}
	e.u32(uint32(len(d.Layouts)))
	for _, l := range d.Layouts {
		e.ref(l.Ref)
	}

	if !compute {
		b := &d.Blend
		e.color(b.Constant)
		e.bool(b.AlphaToCoverage)
		e.u32(uint32(len(b.Attachments)))
		for _, a := range b.Attachments {
			e.bool(a.Enabled)
			e.u32(uint32(a.SrcColor))
			e.u32(uint32(a.DstColor))
			e.u32(uint32(a.ColorOp))
			e.u32(uint32(a.SrcAlpha))
			e.u32(uint32(a.DstAlpha))
			e.u32(uint32(a.AlphaOp))
			e.u32(uint32(a.WriteMask))
		}

		ds := &d.DepthStencil
		e.bool(ds.DepthTest)
		e.bool(ds.DepthWrite)
		e.u32(uint32(ds.DepthCompare))
		e.bool(ds.StencilTest)
		for _, f := range [2]StencilFace{ds.Front, ds.Back} {
			e.u32(uint32(f.Compare))
			e.u32(uint32(f.Fail))
			e.u32(uint32(f.DepthFail))
			e.u32(uint32(f.Pass))
		}
		e.u32(ds.ReadMask)
		e.u32(ds.WriteMask)
		e.u32(ds.Reference)

		r := &d.Raster
		e.u32(uint32(r.CullMode))
		e.u32(uint32(r.FrontFace))
		e.bool(r.Wireframe)
		e.bool(r.DepthClip)
		e.bool(r.Scissor)

		e.u32(uint32(d.Topology))

		e.u32(uint32(len(d.VertexLayouts)))
		for _, vl := range d.VertexLayouts {
			e.u64(vl.Stride)
			e.u32(vl.InstanceStepRate)
			e.u32(uint32(len(vl.Elements)))
			for _, ve := range vl.Elements {
				e.u32(ve.Location)
				e.u32(uint32(ve.Format))
				e.u64(ve.Offset)
			}
		}

		o := &d.Outputs
		e.u32(uint32(len(o.ColorFormats)))
		for _, f := range o.ColorFormats {
			e.u32(uint32(f))
		}
		e.u32(uint32(o.DepthFormat))
		e.u32(o.SampleCount)
	}

	h := fnv.New64a()
	_, _ = h.Write(e.buf)
	return pipelineKey(e.buf), h.Sum64()
}

// keyEncoder appends fixed-width little-endian fields.
type keyEncoder struct {
	buf []byte
}

func (e *keyEncoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *keyEncoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *keyEncoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *keyEncoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *keyEncoder) ref(r Ref) {
	e.u32(uint32(r.Handle))
	e.u32(uint32(r.Gen))
}

func (e *keyEncoder) color(c gputypes.Color) {
	e.u64(math.Float64bits(c.R))
	e.u64(math.Float64bits(c.G))
	e.u64(math.Float64bits(c.B))
	e.u64(math.Float64bits(c.A))
}

// pipelineObject is a cached pipeline in the table.
type pipelineObject struct {
	native  NativeObject
	label   string
	key     pipelineKey
	hash    uint64
	compute bool

	// layouts holds the layout refs and elements by set index.
	layouts  []BindingLayout
	elements [][]BindingElement
	dynamic  []int

	// refs counts outstanding CreatePipeline results. It is only
	// decremented with pipelineCache.mu held.
	refs atomic.Int32
}

func (o *pipelineObject) nativeObject() NativeObject { return o.native }
