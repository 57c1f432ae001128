package halnative

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/wgpu/hal"
)

// Optional pass encoder methods. hal APIs without them ignore viewport and
// scissor state.
type (
	viewportSetter interface {
		SetViewport(x, y, width, height, minDepth, maxDepth float32)
	}
	scissorSetter interface {
		SetScissorRect(x, y, width, height uint32)
	}
)

// copyRowAlignment is the row pitch alignment of buffer-texture copies.
const copyRowAlignment = 256

type boundSet struct {
	set     *BindingSet
	offsets []uint32
}

type vertexBinding struct {
	buf    *Buffer
	offset uint64
}

type indexBinding struct {
	buf    *Buffer
	format gputypes.IndexFormat
	offset uint64
}

type scissorRect struct {
	x, y, width, height uint32
}

type depthClear struct {
	depth   float32
	stencil uint8
}

// Encoder records one entry list into a hal command encoder.
//
// Render passes are implicit: a pass begins on the first draw or clear
// after SetFramebuffer and ends on any transfer, dispatch or framebuffer
// change. Bound state is applied again to every new pass.
type Encoder struct {
	b     *Backend
	raw   hal.CommandEncoder
	label string

	staging []hal.Buffer
	done    bool

	colors []*Texture
	depth  *Texture
	width  uint32
	height uint32
	bound  bool

	render  hal.RenderPassEncoder
	compute hal.ComputePassEncoder

	pipeline *Pipeline
	sets     map[uint32]boundSet
	vertex   map[uint32]vertexBinding
	index    *indexBinding
	viewport *rhi.Viewport
	scissor  *scissorRect

	clearColors map[uint32]gputypes.Color
	clearDepth  *depthClear
}

var (
	_ rhi.Encoder   = (*Encoder)(nil)
	_ rhi.SetBinder = (*Encoder)(nil)
)

// endPasses ends the open pass. Pending clears are applied first by an
// empty render pass so they keep their place in the stream.
func (e *Encoder) endPasses() {
	if e.render == nil && e.compute == nil && e.hasClears() {
		e.beginRender()
	}
	if e.render != nil {
		e.render.End()
		e.render = nil
	}
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
}

func (e *Encoder) hasClears() bool {
	return e.bound && (len(e.clearColors) > 0 || e.clearDepth != nil)
}

func hasStencil(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatDepth24PlusStencil8 || f == gputypes.TextureFormatDepth32FloatStencil8
}

func (e *Encoder) beginRender() {
	desc := &hal.RenderPassDescriptor{Label: e.label}
	for i, t := range e.colors {
		att := hal.RenderPassColorAttachment{
			View:    t.view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}
		if c, ok := e.clearColors[uint32(i)]; ok { //nolint:gosec // attachment count is small
			att.LoadOp = gputypes.LoadOpClear
			att.ClearValue = c
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
	}
	if e.depth != nil {
		att := &hal.RenderPassDepthStencilAttachment{
			View:         e.depth.view,
			DepthLoadOp:  gputypes.LoadOpLoad,
			DepthStoreOp: gputypes.StoreOpStore,
		}
		if e.clearDepth != nil {
			att.DepthLoadOp = gputypes.LoadOpClear
			att.DepthClearValue = e.clearDepth.depth
		}
		if hasStencil(e.depth.desc.Format) {
			att.StencilLoadOp = att.DepthLoadOp
			att.StencilStoreOp = gputypes.StoreOpStore
			if e.clearDepth != nil {
				att.StencilClearValue = uint32(e.clearDepth.stencil)
			}
		}
		desc.DepthStencilAttachment = att
	}
	e.clearColors = nil
	e.clearDepth = nil

	e.render = e.raw.BeginRenderPass(desc)
	e.applyRender()
}

// applyRender replays bound state into a new render pass.
func (e *Encoder) applyRender() {
	rp := e.render
	if e.pipeline != nil && e.pipeline.render != nil {
		rp.SetPipeline(e.pipeline.render)
	}
	for i, s := range e.sets {
		rp.SetBindGroup(i, s.set.raw, s.offsets)
	}
	for slot, v := range e.vertex {
		rp.SetVertexBuffer(slot, v.buf.raw, v.offset)
	}
	if e.index != nil {
		rp.SetIndexBuffer(e.index.buf.raw, e.index.format, e.index.offset)
	}
	if e.viewport != nil {
		e.applyViewport()
	}
	if e.scissor != nil {
		e.applyScissor()
	}
}

func (e *Encoder) applyViewport() {
	vs, ok := e.render.(viewportSetter)
	if !ok {
		rhi.Logger().Debug("halnative: viewport ignored", slog.String("list", e.label))
		return
	}
	v := e.viewport
	vs.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
}

func (e *Encoder) applyScissor() {
	ss, ok := e.render.(scissorSetter)
	if !ok {
		rhi.Logger().Debug("halnative: scissor ignored", slog.String("list", e.label))
		return
	}
	s := e.scissor
	ss.SetScissorRect(s.x, s.y, s.width, s.height)
}

func (e *Encoder) beginCompute() {
	e.compute = e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: e.label})
	if e.pipeline != nil && e.pipeline.compute != nil {
		e.compute.SetPipeline(e.pipeline.compute)
	}
	for i, s := range e.sets {
		e.compute.SetBindGroup(i, s.set.raw, s.offsets)
	}
}

// renderPass returns the open render pass, beginning one if needed.
func (e *Encoder) renderPass(op string) (hal.RenderPassEncoder, error) {
	if !e.bound {
		return nil, fmt.Errorf("%w: %s without framebuffer", rhi.ErrNoFramebuffer, op)
	}
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
	if e.render == nil {
		e.beginRender()
	}
	return e.render, nil
}

func (e *Encoder) drawPass(op string) (hal.RenderPassEncoder, error) {
	if e.pipeline == nil || e.pipeline.render == nil {
		return nil, fmt.Errorf("%w: %s needs a graphics pipeline", rhi.ErrNoPipeline, op)
	}
	return e.renderPass(op)
}

// SetFramebuffer implements rhi.Encoder.
func (e *Encoder) SetFramebuffer(t *rhi.FramebufferTarget) error {
	colors := make([]*Texture, len(t.Colors))
	for i, c := range t.Colors {
		tex, err := asTexture(c)
		if err != nil {
			return fmt.Errorf("SetFramebuffer color %d: %w", i, err)
		}
		colors[i] = tex
	}
	var depth *Texture
	if t.Depth != nil {
		tex, err := asTexture(t.Depth)
		if err != nil {
			return fmt.Errorf("SetFramebuffer depth: %w", err)
		}
		depth = tex
	}

	e.endPasses()
	e.colors, e.depth = colors, depth
	e.width, e.height = t.Width, t.Height
	e.bound = true
	e.viewport, e.scissor = nil, nil
	return nil
}

// SetPipeline implements rhi.Encoder.
func (e *Encoder) SetPipeline(n rhi.NativeObject) error {
	p, err := asPipeline(n)
	if err != nil {
		return fmt.Errorf("SetPipeline: %w", err)
	}
	e.pipeline = p
	switch {
	case e.render != nil && p.render != nil:
		e.render.SetPipeline(p.render)
	case e.compute != nil && p.compute != nil:
		e.compute.SetPipeline(p.compute)
	}
	return nil
}

// SetBindingSet implements rhi.SetBinder.
func (e *Encoder) SetBindingSet(index uint32, n rhi.NativeObject, dynamicOffsets []uint32) error {
	set, ok := n.(*BindingSet)
	if !ok {
		return fmt.Errorf("SetBindingSet: %w", ErrForeign)
	}
	if e.sets == nil {
		e.sets = make(map[uint32]boundSet)
	}
	bs := boundSet{set: set, offsets: append([]uint32(nil), dynamicOffsets...)}
	e.sets[index] = bs
	switch {
	case e.render != nil:
		e.render.SetBindGroup(index, set.raw, bs.offsets)
	case e.compute != nil:
		e.compute.SetBindGroup(index, set.raw, bs.offsets)
	}
	return nil
}

// SetVertexBuffer implements rhi.Encoder.
func (e *Encoder) SetVertexBuffer(index uint32, n rhi.NativeObject, offset uint64) error {
	buf, err := asBuffer(n)
	if err != nil {
		return fmt.Errorf("SetVertexBuffer: %w", err)
	}
	if e.vertex == nil {
		e.vertex = make(map[uint32]vertexBinding)
	}
	e.vertex[index] = vertexBinding{buf: buf, offset: offset}
	if e.render != nil {
		e.render.SetVertexBuffer(index, buf.raw, offset)
	}
	return nil
}

// SetIndexBuffer implements rhi.Encoder.
func (e *Encoder) SetIndexBuffer(n rhi.NativeObject, format gputypes.IndexFormat, offset uint64) error {
	buf, err := asBuffer(n)
	if err != nil {
		return fmt.Errorf("SetIndexBuffer: %w", err)
	}
	e.index = &indexBinding{buf: buf, format: format, offset: offset}
	if e.render != nil {
		e.render.SetIndexBuffer(buf.raw, format, offset)
	}
	return nil
}

// Draw implements rhi.Encoder.
func (e *Encoder) Draw(vertexCount, instanceCount, vertexStart, instanceStart uint32) error {
	rp, err := e.drawPass("Draw")
	if err != nil {
		return err
	}
	rp.Draw(vertexCount, instanceCount, vertexStart, instanceStart)
	return nil
}

// DrawIndexed implements rhi.Encoder.
func (e *Encoder) DrawIndexed(indexCount, instanceCount, indexStart uint32, vertexOffset int32, instanceStart uint32) error {
	rp, err := e.drawPass("DrawIndexed")
	if err != nil {
		return err
	}
	if e.index == nil {
		return fmt.Errorf("%w: DrawIndexed without index buffer", rhi.ErrUnsupported)
	}
	rp.DrawIndexed(indexCount, instanceCount, indexStart, vertexOffset, instanceStart)
	return nil
}

// DrawIndirect implements rhi.Encoder.
func (e *Encoder) DrawIndirect(rhi.NativeObject, uint64, uint32, uint32) error {
	return fmt.Errorf("%w: DrawIndirect", rhi.ErrUnsupported)
}

// DrawIndexedIndirect implements rhi.Encoder.
func (e *Encoder) DrawIndexedIndirect(rhi.NativeObject, uint64, uint32, uint32) error {
	return fmt.Errorf("%w: DrawIndexedIndirect", rhi.ErrUnsupported)
}

// Dispatch implements rhi.Encoder.
func (e *Encoder) Dispatch(x, y, z uint32) error {
	if e.pipeline == nil || e.pipeline.compute == nil {
		return fmt.Errorf("%w: Dispatch needs a compute pipeline", rhi.ErrNoPipeline)
	}
	if e.compute == nil {
		e.endPasses()
		e.beginCompute()
	}
	e.compute.Dispatch(x, y, z)
	return nil
}

// DispatchIndirect implements rhi.Encoder.
func (e *Encoder) DispatchIndirect(rhi.NativeObject, uint64) error {
	return fmt.Errorf("%w: DispatchIndirect", rhi.ErrUnsupported)
}

func (e *Encoder) newStaging(size uint64) (hal.Buffer, error) {
	buf, err := e.b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: e.label + " staging",
		Size:  size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("halnative: staging buffer: %w", err)
	}
	e.staging = append(e.staging, buf)
	return buf, nil
}

// UpdateBuffer implements rhi.Encoder. The data goes through a staging
// buffer so the write lands between the surrounding commands.
func (e *Encoder) UpdateBuffer(n rhi.NativeObject, offset uint64, data []byte) error {
	dst, err := asBuffer(n)
	if err != nil {
		return fmt.Errorf("UpdateBuffer: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	size := uint64(len(data))
	padded := (size + 3) &^ 3
	staging, err := e.newStaging(padded)
	if err != nil {
		return err
	}
	if padded != size {
		data = append(append(make([]byte, 0, padded), data...), make([]byte, padded-size)...)
	}
	e.b.queue.WriteBuffer(staging, 0, data)

	e.endPasses()
	e.raw.CopyBufferToBuffer(staging, dst.raw, []hal.BufferCopy{{SrcOffset: 0, DstOffset: offset, Size: size}})
	return nil
}

// CopyBuffer implements rhi.Encoder.
func (e *Encoder) CopyBuffer(srcObj rhi.NativeObject, srcOffset uint64, dstObj rhi.NativeObject, dstOffset, size uint64) error {
	src, err := asBuffer(srcObj)
	if err != nil {
		return fmt.Errorf("CopyBuffer source: %w", err)
	}
	dst, err := asBuffer(dstObj)
	if err != nil {
		return fmt.Errorf("CopyBuffer destination: %w", err)
	}
	e.endPasses()
	e.raw.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
	return nil
}

func (e *Encoder) transition(t *Texture, from, to gputypes.TextureUsage) {
	e.raw.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.raw,
		Usage:   hal.TextureUsageTransition{OldUsage: from, NewUsage: to},
	}})
}

func copyOrigin(t *Texture, c rhi.TextureCopy) hal.ImageCopyTexture {
	z := c.Layer
	if t.desc.Dimension == gputypes.TextureDimension3D {
		z = c.Z
	}
	return hal.ImageCopyTexture{
		Texture:  t.raw,
		MipLevel: c.MipLevel,
		Origin:   hal.Origin3D{X: c.X, Y: c.Y, Z: z},
		Aspect:   gputypes.TextureAspectAll,
	}
}

// CopyTexture implements rhi.Encoder. The region goes through a staging
// buffer, so only uncompressed color formats are supported.
func (e *Encoder) CopyTexture(srcCopy, dstCopy rhi.TextureCopy, width, height, depth uint32) error {
	src, err := asTexture(srcCopy.Texture)
	if err != nil {
		return fmt.Errorf("CopyTexture source: %w", err)
	}
	dst, err := asTexture(dstCopy.Texture)
	if err != nil {
		return fmt.Errorf("CopyTexture destination: %w", err)
	}
	texel := texelSize(src.desc.Format)
	if texel == 0 || src.desc.Format != dst.desc.Format {
		return fmt.Errorf("%w: CopyTexture %v to %v", rhi.ErrUnsupported, src.desc.Format, dst.desc.Format)
	}

	bytesPerRow := (width*texel + copyRowAlignment - 1) &^ (copyRowAlignment - 1)
	staging, err := e.newStaging(uint64(bytesPerRow) * uint64(height) * uint64(depth))
	if err != nil {
		return err
	}
	layout := hal.ImageDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: height}
	extent := hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: depth}

	e.endPasses()
	srcAttachment := src.desc.Usage&gputypes.TextureUsageRenderAttachment != 0
	if srcAttachment {
		e.transition(src, gputypes.TextureUsageRenderAttachment, gputypes.TextureUsageCopySrc)
	}
	e.raw.CopyTextureToBuffer(src.raw, staging, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  copyOrigin(src, srcCopy),
		Size:         extent,
	}})
	if srcAttachment {
		e.transition(src, gputypes.TextureUsageCopySrc, gputypes.TextureUsageRenderAttachment)
	}
	e.raw.CopyBufferToTexture(staging, dst.raw, []hal.BufferTextureCopy{{
		BufferLayout: layout,
		TextureBase:  copyOrigin(dst, dstCopy),
		Size:         extent,
	}})
	return nil
}

// ResolveTexture implements rhi.Encoder with a load-store render pass that
// resolves src into dst.
func (e *Encoder) ResolveTexture(srcObj, dstObj rhi.NativeObject) error {
	src, err := asTexture(srcObj)
	if err != nil {
		return fmt.Errorf("ResolveTexture source: %w", err)
	}
	dst, err := asTexture(dstObj)
	if err != nil {
		return fmt.Errorf("ResolveTexture destination: %w", err)
	}
	e.endPasses()
	pass := e.raw.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.label + " resolve",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:          src.view,
			ResolveTarget: dst.view,
			LoadOp:        gputypes.LoadOpLoad,
			StoreOp:       gputypes.StoreOpStore,
		}},
	})
	pass.End()
	return nil
}

// SetViewport implements rhi.Encoder. Only index 0 exists.
func (e *Encoder) SetViewport(index uint32, vp rhi.Viewport) error {
	if index != 0 {
		return fmt.Errorf("%w: viewport %d", rhi.ErrUnsupported, index)
	}
	e.viewport = &vp
	if e.render != nil {
		e.applyViewport()
	}
	return nil
}

// SetScissor implements rhi.Encoder. Only index 0 exists.
func (e *Encoder) SetScissor(index, x, y, width, height uint32) error {
	if index != 0 {
		return fmt.Errorf("%w: scissor %d", rhi.ErrUnsupported, index)
	}
	e.scissor = &scissorRect{x: x, y: y, width: width, height: height}
	if e.render != nil {
		e.applyScissor()
	}
	return nil
}

// ClearColorTarget implements rhi.Encoder. The clear becomes the load
// operation of the next render pass.
func (e *Encoder) ClearColorTarget(index uint32, color gputypes.Color) error {
	if !e.bound {
		return fmt.Errorf("%w: ClearColorTarget", rhi.ErrNoFramebuffer)
	}
	if int(index) >= len(e.colors) {
		return fmt.Errorf("%w: color target %d of %d", rhi.ErrOutOfRange, index, len(e.colors))
	}
	e.endPasses()
	if e.clearColors == nil {
		e.clearColors = make(map[uint32]gputypes.Color)
	}
	e.clearColors[index] = color
	return nil
}

// ClearDepthTarget implements rhi.Encoder.
func (e *Encoder) ClearDepthTarget(depth float32, stencil uint8) error {
	if !e.bound {
		return fmt.Errorf("%w: ClearDepthTarget", rhi.ErrNoFramebuffer)
	}
	if e.depth == nil {
		return fmt.Errorf("%w: framebuffer has no depth target", rhi.ErrOutOfRange)
	}
	e.endPasses()
	e.clearDepth = &depthClear{depth: depth, stencil: stencil}
	return nil
}

// PushDebugGroup implements rhi.Encoder. Debug markers are not forwarded.
func (e *Encoder) PushDebugGroup(string) error { return nil }

// PopDebugGroup implements rhi.Encoder.
func (e *Encoder) PopDebugGroup() error { return nil }

// InsertDebugMarker implements rhi.Encoder.
func (e *Encoder) InsertDebugMarker(string) error { return nil }

// finish ends encoding and returns the command buffer.
func (e *Encoder) finish() (hal.CommandBuffer, error) {
	if e.done {
		return nil, fmt.Errorf("halnative: list %q already submitted", e.label)
	}
	e.done = true
	e.endPasses()
	cmd, err := e.raw.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("halnative: end encoding %q: %w", e.label, err)
	}
	return cmd, nil
}

// Discard implements rhi.Encoder.
func (e *Encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	if e.render != nil {
		e.render.End()
		e.render = nil
	}
	if e.compute != nil {
		e.compute.End()
		e.compute = nil
	}
	e.raw.DiscardEncoding()
	e.releaseStaging()
}

func (e *Encoder) releaseStaging() {
	for _, buf := range e.staging {
		e.b.device.DestroyBuffer(buf)
	}
	e.staging = nil
}
