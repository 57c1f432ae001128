package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Op identifies the instruction an entry records.
type Op uint8

const (
	OpSetFramebuffer Op = iota
	OpSetPipeline
	OpSetBindingSet
	OpSetVertexBuffer
	OpSetIndexBuffer
	OpDraw
	OpDrawIndexed
	OpDrawIndirect
	OpDrawIndexedIndirect
	OpDispatch
	OpDispatchIndirect
	OpUpdateBuffer
	OpCopyBuffer
	OpCopyTexture
	OpResolveTexture
	OpSetViewport
	OpSetScissor
	OpClearColorTarget
	OpClearDepthTarget
	OpPushDebugGroup
	OpPopDebugGroup
	OpInsertDebugMarker
)

var opNames = [...]string{
	OpSetFramebuffer:      "SetFramebuffer",
	OpSetPipeline:         "SetPipeline",
	OpSetBindingSet:       "SetBindingSet",
	OpSetVertexBuffer:     "SetVertexBuffer",
	OpSetIndexBuffer:      "SetIndexBuffer",
	OpDraw:                "Draw",
	OpDrawIndexed:         "DrawIndexed",
	OpDrawIndirect:        "DrawIndirect",
	OpDrawIndexedIndirect: "DrawIndexedIndirect",
	OpDispatch:            "Dispatch",
	OpDispatchIndirect:    "DispatchIndirect",
	OpUpdateBuffer:        "UpdateBuffer",
	OpCopyBuffer:          "CopyBuffer",
	OpCopyTexture:         "CopyTexture",
	OpResolveTexture:      "ResolveTexture",
	OpSetViewport:         "SetViewport",
	OpSetScissor:          "SetScissor",
	OpClearColorTarget:    "ClearColorTarget",
	OpClearDepthTarget:    "ClearDepthTarget",
	OpPushDebugGroup:      "PushDebugGroup",
	OpPopDebugGroup:       "PopDebugGroup",
	OpInsertDebugMarker:   "InsertDebugMarker",
}

// String returns the string representation of an Op.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Entry is one recorded instruction. Entries hold only tracked references
// and plain data; they never keep a resource alive.
type Entry interface {
	// Op returns the instruction this entry records.
	Op() Op
}

// SetFramebufferEntry selects the render targets for following draws.
type SetFramebufferEntry struct {
	Framebuffer Framebuffer
}

// SetPipelineEntry binds a pipeline.
type SetPipelineEntry struct {
	Pipeline Pipeline
}

// SetBindingSetEntry binds a binding set at a set index.
type SetBindingSetEntry struct {
	Index          uint32
	Set            BindingSet
	DynamicOffsets []uint32
}

// SetVertexBufferEntry binds a vertex buffer.
type SetVertexBufferEntry struct {
	Index  uint32
	Buffer Buffer
	Offset uint64
}

// SetIndexBufferEntry binds the index buffer.
type SetIndexBufferEntry struct {
	Buffer Buffer
	Format gputypes.IndexFormat
	Offset uint64
}

// DrawEntry draws non-indexed primitives.
type DrawEntry struct {
	VertexCount   uint32
	InstanceCount uint32
	VertexStart   uint32
	InstanceStart uint32
}

// DrawIndexedEntry draws indexed primitives.
type DrawIndexedEntry struct {
	IndexCount    uint32
	InstanceCount uint32
	IndexStart    uint32
	VertexOffset  int32
	InstanceStart uint32
}

// DrawIndirectEntry draws with arguments read from a buffer.
type DrawIndirectEntry struct {
	Buffer    Buffer
	Offset    uint64
	DrawCount uint32
	Stride    uint32
}

// DrawIndexedIndirectEntry draws indexed primitives with arguments read
// from a buffer.
type DrawIndexedIndirectEntry struct {
	Buffer    Buffer
	Offset    uint64
	DrawCount uint32
	Stride    uint32
}

// DispatchEntry dispatches compute work groups.
type DispatchEntry struct {
	X, Y, Z uint32
}

// DispatchIndirectEntry dispatches with group counts read from a buffer.
type DispatchIndirectEntry struct {
	Buffer Buffer
	Offset uint64
}

// UpdateBufferEntry writes a payload into a buffer. The payload lives in
// the list's inline arena or in a staging block owned by the list, and Data
// is only valid until the list has completed or faulted.
type UpdateBufferEntry struct {
	Buffer Buffer
	Offset uint64
	Data   []byte

	staging *stagingBlock
}

// Staged reports whether the payload is held in a staging block.
func (e *UpdateBufferEntry) Staged() bool { return e.staging != nil }

// CopyBufferEntry copies a buffer range.
type CopyBufferEntry struct {
	Src       Buffer
	SrcOffset uint64
	Dst       Buffer
	DstOffset uint64
	Size      uint64
}

// TextureRegion is the origin of a texture copy.
type TextureRegion struct {
	MipLevel uint32
	Layer    uint32
	X, Y, Z  uint32
}

// CopyTextureEntry copies a texture region.
type CopyTextureEntry struct {
	Src                  Texture
	SrcRegion            TextureRegion
	Dst                  Texture
	DstRegion            TextureRegion
	Width, Height, Depth uint32
}

// ResolveTextureEntry resolves a multisampled texture.
type ResolveTextureEntry struct {
	Src Texture
	Dst Texture
}

// SetViewportEntry sets one viewport.
type SetViewportEntry struct {
	Index    uint32
	Viewport Viewport
}

// SetScissorEntry sets one scissor rectangle.
type SetScissorEntry struct {
	Index               uint32
	X, Y, Width, Height uint32
}

// ClearColorTargetEntry clears one color target of the current framebuffer.
type ClearColorTargetEntry struct {
	Index uint32
	Color gputypes.Color
}

// ClearDepthTargetEntry clears the depth target of the current framebuffer.
type ClearDepthTargetEntry struct {
	Depth   float32
	Stencil uint8
}

// PushDebugGroupEntry opens a debug group.
type PushDebugGroupEntry struct {
	Label string
}

// PopDebugGroupEntry closes a debug group.
type PopDebugGroupEntry struct{}

// InsertDebugMarkerEntry inserts a debug marker.
type InsertDebugMarkerEntry struct {
	Label string
}

func (*SetFramebufferEntry) Op() Op      { return OpSetFramebuffer }
func (*SetPipelineEntry) Op() Op         { return OpSetPipeline }
func (*SetBindingSetEntry) Op() Op       { return OpSetBindingSet }
func (*SetVertexBufferEntry) Op() Op     { return OpSetVertexBuffer }
func (*SetIndexBufferEntry) Op() Op      { return OpSetIndexBuffer }
func (*DrawEntry) Op() Op                { return OpDraw }
func (*DrawIndexedEntry) Op() Op         { return OpDrawIndexed }
func (*DrawIndirectEntry) Op() Op        { return OpDrawIndirect }
func (*DrawIndexedIndirectEntry) Op() Op { return OpDrawIndexedIndirect }
func (*DispatchEntry) Op() Op            { return OpDispatch }
func (*DispatchIndirectEntry) Op() Op    { return OpDispatchIndirect }
func (*UpdateBufferEntry) Op() Op        { return OpUpdateBuffer }
func (*CopyBufferEntry) Op() Op          { return OpCopyBuffer }
func (*CopyTextureEntry) Op() Op         { return OpCopyTexture }
func (*ResolveTextureEntry) Op() Op      { return OpResolveTexture }
func (*SetViewportEntry) Op() Op         { return OpSetViewport }
func (*SetScissorEntry) Op() Op          { return OpSetScissor }
func (*ClearColorTargetEntry) Op() Op    { return OpClearColorTarget }
func (*ClearDepthTargetEntry) Op() Op    { return OpClearDepthTarget }
func (*PushDebugGroupEntry) Op() Op      { return OpPushDebugGroup }
func (*PopDebugGroupEntry) Op() Op       { return OpPopDebugGroup }
func (*InsertDebugMarkerEntry) Op() Op   { return OpInsertDebugMarker }

// Compile-time interface checks.
var (
	_ Entry = (*SetFramebufferEntry)(nil)
	_ Entry = (*SetPipelineEntry)(nil)
	_ Entry = (*SetBindingSetEntry)(nil)
	_ Entry = (*SetVertexBufferEntry)(nil)
	_ Entry = (*SetIndexBufferEntry)(nil)
	_ Entry = (*DrawEntry)(nil)
	_ Entry = (*DrawIndexedEntry)(nil)
	_ Entry = (*DrawIndirectEntry)(nil)
	_ Entry = (*DrawIndexedIndirectEntry)(nil)
	_ Entry = (*DispatchEntry)(nil)
	_ Entry = (*DispatchIndirectEntry)(nil)
	_ Entry = (*UpdateBufferEntry)(nil)
	_ Entry = (*CopyBufferEntry)(nil)
	_ Entry = (*CopyTextureEntry)(nil)
	_ Entry = (*ResolveTextureEntry)(nil)
	_ Entry = (*SetViewportEntry)(nil)
	_ Entry = (*SetScissorEntry)(nil)
	_ Entry = (*ClearColorTargetEntry)(nil)
	_ Entry = (*ClearDepthTargetEntry)(nil)
	_ Entry = (*PushDebugGroupEntry)(nil)
	_ Entry = (*PopDebugGroupEntry)(nil)
	_ Entry = (*InsertDebugMarkerEntry)(nil)
)
