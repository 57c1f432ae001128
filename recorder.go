package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Recorder records commands into entry lists.
//
// Each recording call appends exactly one entry. Misuse is not reported by
// the call itself: the first error is latched and returned by End, and the
// list is discarded. UpdateBuffer is the exception; it also returns
// ErrStagingFull synchronously so the caller can wait and retry.
//
// A Recorder must be used by one goroutine at a time. Any number of
// recorders may record and submit concurrently.
//
// Example:
//
//	rec := dev.NewRecorder()
//	rec.Begin("frame")
//	rec.SetFramebuffer(dev.MainFramebuffer())
//	rec.SetPipeline(pipe)
//	rec.SetBindingSet(0, set)
//	rec.Draw(3, 1, 0, 0)
//	list, err := rec.End()
//	if err != nil {
//	    return err
//	}
//	err = dev.Submit(list)
type Recorder struct {
	dev  *Device
	list *EntryList
	err  error

	pipelineObj *pipelineObject
	framebuffer *framebufferObject
	groups      int
}

// NewRecorder returns a recorder for d.
func (d *Device) NewRecorder() *Recorder {
	return &Recorder{dev: d}
}

// Begin starts a new entry list. It fails if the recorder is already
// recording or the device is closed.
func (r *Recorder) Begin(label string) error {
	if r.list != nil {
		return ErrAlreadyRecording
	}
	if r.dev.closed.Load() {
		return ErrDeviceClosed
	}
	r.list = newEntryList(r.dev.listIDs.Add(1), label)
	r.err = nil
	r.pipelineObj = nil
	r.framebuffer = nil
	r.groups = 0
	return nil
}

// Recording reports whether Begin has been called without a matching End.
func (r *Recorder) Recording() bool { return r.list != nil }

// Err returns the latched recording error, if any.
func (r *Recorder) Err() error { return r.err }

// End seals the current list and returns it. If any call since Begin
// failed, the list is discarded and the first error is returned.
func (r *Recorder) End() (*EntryList, error) {
	list := r.list
	if list == nil {
		return nil, ErrNotRecording
	}
	r.list = nil
	r.pipelineObj = nil
	r.framebuffer = nil

	if r.err == nil && r.groups != 0 {
		r.err = fmt.Errorf("%w: %d groups left open", ErrDebugGroup, r.groups)
	}
	if err := r.err; err != nil {
		list.releasePayloads()
		return nil, err
	}
	list.state.Store(uint32(ListSealed))
	return list, nil
}

// fail latches err if no error has been latched yet.
func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// ready reports whether a call may append an entry.
func (r *Recorder) ready(op Op) bool {
	if r.list == nil {
		if r.err == nil {
			r.err = fmt.Errorf("%w: %s", ErrNotRecording, op)
		}
		return false
	}
	return r.err == nil
}

// resolve looks up ref for validation and latches the error if it does not
// resolve to an object of kind want.
func (r *Recorder) resolve(op Op, ref Ref, want Kind) (object, bool) {
	if !ref.IsZero() && ref.Kind != want {
		r.fail(fmt.Errorf("rhi: %s: %w: %v is not a %v", op, ErrWrongKind, ref, want))
		return nil, false
	}
	obj, err := r.dev.table.resolve(ref)
	if err != nil {
		r.fail(fmt.Errorf("rhi: %s: %w", op, err))
		return nil, false
	}
	return obj, true
}

func (r *Recorder) buffer(op Op, b Buffer, usage gputypes.BufferUsage) (*bufferObject, bool) {
	obj, ok := r.resolve(op, b.Ref, KindBuffer)
	if !ok {
		return nil, false
	}
	bo := obj.(*bufferObject)
	if usage != 0 && bo.desc.Usage&usage == 0 {
		r.fail(fmt.Errorf("%w: %s needs buffer %v with usage %v", ErrUsage, op, b.Ref, usage))
		return nil, false
	}
	return bo, true
}

func (r *Recorder) texture(op Op, t Texture, usage gputypes.TextureUsage) (*textureObject, bool) {
	obj, ok := r.resolve(op, t.Ref, KindTexture)
	if !ok {
		return nil, false
	}
	to := obj.(*textureObject)
	if usage != 0 && to.desc.Usage&usage == 0 {
		r.fail(fmt.Errorf("%w: %s needs texture %v with usage %v", ErrUsage, op, t.Ref, usage))
		return nil, false
	}
	return to, true
}

func (r *Recorder) require(op Op, f Features, what string) bool {
	if !r.dev.info.Features.Has(f) {
		r.fail(fmt.Errorf("%w: %s (%s) on %s", ErrUnsupported, op, what, r.dev.info.Name))
		return false
	}
	return true
}

// needGraphics checks the state a draw depends on.
func (r *Recorder) needGraphics(op Op) bool {
	if r.pipelineObj == nil || r.pipelineObj.compute {
		r.fail(fmt.Errorf("%w: %s needs a graphics pipeline", ErrNoPipeline, op))
		return false
	}
	if r.framebuffer == nil {
		r.fail(fmt.Errorf("%w: %s", ErrNoFramebuffer, op))
		return false
	}
	return true
}

func (r *Recorder) needCompute(op Op) bool {
	if !r.require(op, FeatureCompute, "compute") {
		return false
	}
	if r.pipelineObj == nil || !r.pipelineObj.compute {
		r.fail(fmt.Errorf("%w: %s needs a compute pipeline", ErrNoPipeline, op))
		return false
	}
	return true
}

// SetFramebuffer selects the render targets for following draws and
// clears.
func (r *Recorder) SetFramebuffer(fb Framebuffer) {
	if !r.ready(OpSetFramebuffer) {
		return
	}
	obj, ok := r.resolve(OpSetFramebuffer, fb.Ref, KindFramebuffer)
	if !ok {
		return
	}
	r.framebuffer = obj.(*framebufferObject)
	r.list.append(&SetFramebufferEntry{Framebuffer: fb})
}

// SetPipeline binds a graphics or compute pipeline.
func (r *Recorder) SetPipeline(p Pipeline) {
	if !r.ready(OpSetPipeline) {
		return
	}
	obj, ok := r.resolve(OpSetPipeline, p.Ref, KindPipeline)
	if !ok {
		return
	}
	r.pipelineObj = obj.(*pipelineObject)
	r.list.append(&SetPipelineEntry{Pipeline: p})
}

// SetBindingSet binds set at index for the current pipeline. The set's
// layout must be the pipeline's layout at index, and one dynamic offset
// must be given per dynamic element.
func (r *Recorder) SetBindingSet(index uint32, set BindingSet, dynamicOffsets ...uint32) {
	if !r.ready(OpSetBindingSet) {
		return
	}
	p := r.pipelineObj
	if p == nil {
		r.fail(fmt.Errorf("%w: %s", ErrNoPipeline, OpSetBindingSet))
		return
	}
	if int(index) >= len(p.layouts) {
		r.fail(fmt.Errorf("%w: index %d, pipeline %q has %d layouts", ErrBindingSlot, index, p.label, len(p.layouts)))
		return
	}
	obj, ok := r.resolve(OpSetBindingSet, set.Ref, KindBindingSet)
	if !ok {
		return
	}
	so := obj.(*bindingSetObject)
	if so.layout != p.layouts[index] {
		r.fail(fmt.Errorf("%w: set %q has layout %v, pipeline %q wants %v at index %d",
			ErrBindingSlot, so.label, so.layout.Ref, p.label, p.layouts[index].Ref, index))
		return
	}
	if len(dynamicOffsets) != p.dynamic[index] {
		r.fail(fmt.Errorf("%w: set %q takes %d dynamic offsets, got %d",
			ErrBindingSlot, so.label, p.dynamic[index], len(dynamicOffsets)))
		return
	}
	var offsets []uint32
	if len(dynamicOffsets) > 0 {
		offsets = append([]uint32(nil), dynamicOffsets...)
	}
	r.list.append(&SetBindingSetEntry{Index: index, Set: set, DynamicOffsets: offsets})
}

// SetVertexBuffer binds a vertex buffer at index.
func (r *Recorder) SetVertexBuffer(index uint32, buf Buffer, offset uint64) {
	if !r.ready(OpSetVertexBuffer) {
		return
	}
	if _, ok := r.buffer(OpSetVertexBuffer, buf, gputypes.BufferUsageVertex); !ok {
		return
	}
	r.list.append(&SetVertexBufferEntry{Index: index, Buffer: buf, Offset: offset})
}

// SetIndexBuffer binds the index buffer.
func (r *Recorder) SetIndexBuffer(buf Buffer, format gputypes.IndexFormat, offset uint64) {
	if !r.ready(OpSetIndexBuffer) {
		return
	}
	if _, ok := r.buffer(OpSetIndexBuffer, buf, gputypes.BufferUsageIndex); !ok {
		return
	}
	r.list.append(&SetIndexBufferEntry{Buffer: buf, Format: format, Offset: offset})
}

// Draw draws non-indexed primitives.
func (r *Recorder) Draw(vertexCount, instanceCount, vertexStart, instanceStart uint32) {
	if !r.ready(OpDraw) || !r.needGraphics(OpDraw) {
		return
	}
	r.list.append(&DrawEntry{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		VertexStart:   vertexStart,
		InstanceStart: instanceStart,
	})
}

// DrawIndexed draws indexed primitives.
func (r *Recorder) DrawIndexed(indexCount, instanceCount, indexStart uint32, vertexOffset int32, instanceStart uint32) {
	if !r.ready(OpDrawIndexed) || !r.needGraphics(OpDrawIndexed) {
		return
	}
	r.list.append(&DrawIndexedEntry{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		IndexStart:    indexStart,
		VertexOffset:  vertexOffset,
		InstanceStart: instanceStart,
	})
}

// DrawIndirect draws with arguments read from buf.
func (r *Recorder) DrawIndirect(buf Buffer, offset uint64, drawCount, stride uint32) {
	if !r.ready(OpDrawIndirect) || !r.require(OpDrawIndirect, FeatureIndirect, "indirect") || !r.needGraphics(OpDrawIndirect) {
		return
	}
	if _, ok := r.buffer(OpDrawIndirect, buf, gputypes.BufferUsageIndirect); !ok {
		return
	}
	r.list.append(&DrawIndirectEntry{Buffer: buf, Offset: offset, DrawCount: drawCount, Stride: stride})
}

// DrawIndexedIndirect draws indexed primitives with arguments read from
// buf.
func (r *Recorder) DrawIndexedIndirect(buf Buffer, offset uint64, drawCount, stride uint32) {
	op := OpDrawIndexedIndirect
	if !r.ready(op) || !r.require(op, FeatureIndirect, "indirect") || !r.needGraphics(op) {
		return
	}
	if _, ok := r.buffer(op, buf, gputypes.BufferUsageIndirect); !ok {
		return
	}
	r.list.append(&DrawIndexedIndirectEntry{Buffer: buf, Offset: offset, DrawCount: drawCount, Stride: stride})
}

// Dispatch dispatches compute work groups.
func (r *Recorder) Dispatch(x, y, z uint32) {
	if !r.ready(OpDispatch) || !r.needCompute(OpDispatch) {
		return
	}
	r.list.append(&DispatchEntry{X: x, Y: y, Z: z})
}

// DispatchIndirect dispatches with group counts read from buf.
func (r *Recorder) DispatchIndirect(buf Buffer, offset uint64) {
	op := OpDispatchIndirect
	if !r.ready(op) || !r.require(op, FeatureIndirect, "indirect") || !r.needCompute(op) {
		return
	}
	if _, ok := r.buffer(op, buf, gputypes.BufferUsageIndirect); !ok {
		return
	}
	r.list.append(&DispatchIndirectEntry{Buffer: buf, Offset: offset})
}

// UpdateBuffer records a write of data into buf at offset. data is copied
// before UpdateBuffer returns and may be reused at once.
//
// Small payloads are stored inline in the list. Larger payloads take a
// staging block; if the staging pool is exhausted UpdateBuffer returns an
// error wrapping ErrStagingFull, records nothing and does not latch the
// error.
func (r *Recorder) UpdateBuffer(buf Buffer, offset uint64, data []byte) error {
	if !r.ready(OpUpdateBuffer) {
		return r.err
	}
	bo, ok := r.buffer(OpUpdateBuffer, buf, gputypes.BufferUsageCopyDst)
	if !ok {
		return r.err
	}
	if !rangeFits(offset, uint64(len(data)), bo.desc.Size) {
		r.fail(fmt.Errorf("%w: update [%d,+%d) of buffer %q (size %d)",
			ErrOutOfRange, offset, len(data), bo.desc.Label, bo.desc.Size))
		return r.err
	}

	e := &UpdateBufferEntry{Buffer: buf, Offset: offset}
	if len(data) <= r.dev.cfg.InlineUpdateLimit {
		e.Data = r.list.arena.copyBytes(data)
	} else {
		block, err := r.dev.staging.acquire(data)
		if err != nil {
			return err
		}
		r.list.blocks = append(r.list.blocks, block)
		e.Data = block.data
		e.staging = block
	}
	r.list.append(e)
	return nil
}

// CopyBuffer records a copy between buffer ranges.
func (r *Recorder) CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64) {
	if !r.ready(OpCopyBuffer) {
		return
	}
	so, ok := r.buffer(OpCopyBuffer, src, gputypes.BufferUsageCopySrc)
	if !ok {
		return
	}
	do, ok := r.buffer(OpCopyBuffer, dst, gputypes.BufferUsageCopyDst)
	if !ok {
		return
	}
	if !rangeFits(srcOffset, size, so.desc.Size) || !rangeFits(dstOffset, size, do.desc.Size) {
		r.fail(fmt.Errorf("%w: copy of %d bytes from %q+%d to %q+%d",
			ErrOutOfRange, size, so.desc.Label, srcOffset, do.desc.Label, dstOffset))
		return
	}
	r.list.append(&CopyBufferEntry{Src: src, SrcOffset: srcOffset, Dst: dst, DstOffset: dstOffset, Size: size})
}

// CopyTexture records a copy between texture regions.
func (r *Recorder) CopyTexture(src Texture, srcRegion TextureRegion, dst Texture, dstRegion TextureRegion, width, height, depth uint32) {
	if !r.ready(OpCopyTexture) {
		return
	}
	so, ok := r.texture(OpCopyTexture, src, gputypes.TextureUsageCopySrc)
	if !ok {
		return
	}
	do, ok := r.texture(OpCopyTexture, dst, gputypes.TextureUsageCopyDst)
	if !ok {
		return
	}
	if !regionFits(&so.desc, srcRegion, width, height, depth) || !regionFits(&do.desc, dstRegion, width, height, depth) {
		r.fail(fmt.Errorf("%w: copy %dx%dx%d from %q to %q",
			ErrOutOfRange, width, height, depth, so.desc.Label, do.desc.Label))
		return
	}
	r.list.append(&CopyTextureEntry{
		Src: src, SrcRegion: srcRegion,
		Dst: dst, DstRegion: dstRegion,
		Width: width, Height: height, Depth: depth,
	})
}

// regionFits reports whether a copy box lies inside mip level reg.MipLevel
// of a texture.
// rangeFits reports whether [offset, offset+n) lies within size bytes
// without overflowing.
func rangeFits(offset, n, size uint64) bool {
	return offset <= size && n <= size-offset
}

func regionFits(d *TextureDescriptor, reg TextureRegion, width, height, depth uint32) bool {
	if reg.MipLevel >= d.MipLevels || reg.Layer >= d.ArrayLayers {
		return false
	}
	w := max(d.Width>>reg.MipLevel, 1)
	h := max(d.Height>>reg.MipLevel, 1)
	dp := max(d.Depth>>reg.MipLevel, 1)
	return uint64(reg.X)+uint64(width) <= uint64(w) &&
		uint64(reg.Y)+uint64(height) <= uint64(h) &&
		uint64(reg.Z)+uint64(depth) <= uint64(dp)
}

// ResolveTexture records a resolve of multisampled src into dst.
func (r *Recorder) ResolveTexture(src, dst Texture) {
	if !r.ready(OpResolveTexture) {
		return
	}
	so, ok := r.texture(OpResolveTexture, src, 0)
	if !ok {
		return
	}
	do, ok := r.texture(OpResolveTexture, dst, 0)
	if !ok {
		return
	}
	if so.desc.SampleCount <= 1 || do.desc.SampleCount != 1 {
		r.fail(fmt.Errorf("%w: resolve needs a multisampled source and a single-sampled target",
			ErrInvalidDescriptor))
		return
	}
	if so.desc.Width != do.desc.Width || so.desc.Height != do.desc.Height {
		r.fail(fmt.Errorf("%w: resolve %dx%d into %dx%d",
			ErrOutOfRange, so.desc.Width, so.desc.Height, do.desc.Width, do.desc.Height))
		return
	}
	r.list.append(&ResolveTextureEntry{Src: src, Dst: dst})
}

func (r *Recorder) viewportIndex(op Op, index uint32) bool {
	if index > 0 && !r.require(op, FeatureMultipleViewports, "viewport index > 0") {
		return false
	}
	return true
}

// SetViewport sets viewport index.
func (r *Recorder) SetViewport(index uint32, vp Viewport) {
	if !r.ready(OpSetViewport) || !r.viewportIndex(OpSetViewport, index) {
		return
	}
	r.list.append(&SetViewportEntry{Index: index, Viewport: vp})
}

// SetFullViewport sets viewport index to cover the current framebuffer
// with a [0, 1] depth range.
func (r *Recorder) SetFullViewport(index uint32) {
	if !r.ready(OpSetViewport) || !r.viewportIndex(OpSetViewport, index) {
		return
	}
	if r.framebuffer == nil {
		r.fail(fmt.Errorf("%w: SetFullViewport", ErrNoFramebuffer))
		return
	}
	w, h := r.dev.framebufferSize(r.framebuffer)
	r.list.append(&SetViewportEntry{Index: index, Viewport: Viewport{
		Width:    float32(w),
		Height:   float32(h),
		MaxDepth: 1,
	}})
}

// SetScissor sets scissor rectangle index.
func (r *Recorder) SetScissor(index uint32, x, y, width, height uint32) {
	if !r.ready(OpSetScissor) || !r.viewportIndex(OpSetScissor, index) {
		return
	}
	r.list.append(&SetScissorEntry{Index: index, X: x, Y: y, Width: width, Height: height})
}

// ClearColorTarget clears color target index of the current framebuffer.
func (r *Recorder) ClearColorTarget(index uint32, color gputypes.Color) {
	if !r.ready(OpClearColorTarget) {
		return
	}
	fb := r.framebuffer
	if fb == nil {
		r.fail(fmt.Errorf("%w: %s", ErrNoFramebuffer, OpClearColorTarget))
		return
	}
	if int(index) >= len(fb.outputs.ColorFormats) {
		r.fail(fmt.Errorf("%w: color target %d of framebuffer %q with %d targets",
			ErrOutOfRange, index, fb.label, len(fb.outputs.ColorFormats)))
		return
	}
	r.list.append(&ClearColorTargetEntry{Index: index, Color: color})
}

// ClearDepthTarget clears the depth target of the current framebuffer.
func (r *Recorder) ClearDepthTarget(depth float32, stencil uint8) {
	if !r.ready(OpClearDepthTarget) {
		return
	}
	fb := r.framebuffer
	if fb == nil {
		r.fail(fmt.Errorf("%w: %s", ErrNoFramebuffer, OpClearDepthTarget))
		return
	}
	if fb.outputs.DepthFormat == gputypes.TextureFormatUndefined {
		r.fail(fmt.Errorf("%w: framebuffer %q has no depth target", ErrOutOfRange, fb.label))
		return
	}
	r.list.append(&ClearDepthTargetEntry{Depth: depth, Stencil: stencil})
}

// PushDebugGroup opens a debug group. Groups must be closed before End.
func (r *Recorder) PushDebugGroup(label string) {
	if !r.ready(OpPushDebugGroup) {
		return
	}
	r.groups++
	r.list.append(&PushDebugGroupEntry{Label: label})
}

// PopDebugGroup closes the innermost debug group.
func (r *Recorder) PopDebugGroup() {
	if !r.ready(OpPopDebugGroup) {
		return
	}
	if r.groups == 0 {
		r.fail(fmt.Errorf("%w: pop without push", ErrDebugGroup))
		return
	}
	r.groups--
	r.list.append(&PopDebugGroupEntry{})
}

// InsertDebugMarker inserts a debug marker.
func (r *Recorder) InsertDebugMarker(label string) {
	if !r.ready(OpInsertDebugMarker) {
		return
	}
	r.list.append(&InsertDebugMarkerEntry{Label: label})
}
