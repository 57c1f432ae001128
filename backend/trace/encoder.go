package trace

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// Encoder records the native commands of one entry list. Its calls reach
// the backend's log when the encoder is submitted.
//
// Encoder implements rhi.SetBinder and rhi.SlotBinder; calling the binder
// of the other binding model fails with ErrState.
type Encoder struct {
	b     *Backend
	label string

	calls  []Call
	writes []func()
	done   bool

	framebuffer bool
	pipeline    bool
	groups      int
}

var (
	_ rhi.Encoder    = (*Encoder)(nil)
	_ rhi.SetBinder  = (*Encoder)(nil)
	_ rhi.SlotBinder = (*Encoder)(nil)
)

// call validates and records op. objs are checked for liveness.
func (e *Encoder) call(op string, objs []rhi.NativeObject, args ...any) error {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()

	if err := e.b.enter(op); err != nil {
		return err
	}
	if e.done {
		return fmt.Errorf("%w: %s on submitted encoder %q", ErrState, op, e.label)
	}
	for _, n := range objs {
		if n == nil {
			continue
		}
		if _, err := e.b.use(n); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	e.calls = append(e.calls, Call{List: e.label, Op: op, Args: args})
	return nil
}

func (e *Encoder) needDraw(op string) error {
	if !e.pipeline {
		return fmt.Errorf("%w: %s without pipeline", ErrState, op)
	}
	if !e.framebuffer {
		return fmt.Errorf("%w: %s without framebuffer", ErrState, op)
	}
	return nil
}

func objs(n ...rhi.NativeObject) []rhi.NativeObject { return n }

// SetFramebuffer implements rhi.Encoder.
func (e *Encoder) SetFramebuffer(t *rhi.FramebufferTarget) error {
	all := append([]rhi.NativeObject{t.Framebuffer, t.Depth}, t.Colors...)
	if err := e.call("SetFramebuffer", all, len(t.Colors), t.Width, t.Height); err != nil {
		return err
	}
	e.framebuffer = true
	return nil
}

// SetPipeline implements rhi.Encoder.
func (e *Encoder) SetPipeline(p rhi.NativeObject) error {
	if err := e.call("SetPipeline", objs(p), p); err != nil {
		return err
	}
	e.pipeline = true
	return nil
}

// SetVertexBuffer implements rhi.Encoder.
func (e *Encoder) SetVertexBuffer(index uint32, buf rhi.NativeObject, offset uint64) error {
	return e.call("SetVertexBuffer", objs(buf), index, buf, offset)
}

// SetIndexBuffer implements rhi.Encoder.
func (e *Encoder) SetIndexBuffer(buf rhi.NativeObject, format gputypes.IndexFormat, offset uint64) error {
	return e.call("SetIndexBuffer", objs(buf), buf, format, offset)
}

// Draw implements rhi.Encoder.
func (e *Encoder) Draw(vertexCount, instanceCount, vertexStart, instanceStart uint32) error {
	if err := e.needDraw("Draw"); err != nil {
		return err
	}
	return e.call("Draw", nil, vertexCount, instanceCount, vertexStart, instanceStart)
}

// DrawIndexed implements rhi.Encoder.
func (e *Encoder) DrawIndexed(indexCount, instanceCount, indexStart uint32, vertexOffset int32, instanceStart uint32) error {
	if err := e.needDraw("DrawIndexed"); err != nil {
		return err
	}
	return e.call("DrawIndexed", nil, indexCount, instanceCount, indexStart, vertexOffset, instanceStart)
}

// DrawIndirect implements rhi.Encoder.
func (e *Encoder) DrawIndirect(buf rhi.NativeObject, offset uint64, drawCount, stride uint32) error {
	if err := e.needDraw("DrawIndirect"); err != nil {
		return err
	}
	return e.call("DrawIndirect", objs(buf), buf, offset, drawCount, stride)
}

// DrawIndexedIndirect implements rhi.Encoder.
func (e *Encoder) DrawIndexedIndirect(buf rhi.NativeObject, offset uint64, drawCount, stride uint32) error {
	if err := e.needDraw("DrawIndexedIndirect"); err != nil {
		return err
	}
	return e.call("DrawIndexedIndirect", objs(buf), buf, offset, drawCount, stride)
}

// Dispatch implements rhi.Encoder.
func (e *Encoder) Dispatch(x, y, z uint32) error {
	if !e.pipeline {
		return fmt.Errorf("%w: Dispatch without pipeline", ErrState)
	}
	return e.call("Dispatch", nil, x, y, z)
}

// DispatchIndirect implements rhi.Encoder.
func (e *Encoder) DispatchIndirect(buf rhi.NativeObject, offset uint64) error {
	if !e.pipeline {
		return fmt.Errorf("%w: DispatchIndirect without pipeline", ErrState)
	}
	return e.call("DispatchIndirect", objs(buf), buf, offset)
}

// UpdateBuffer implements rhi.Encoder. data is copied; the write lands on
// Submit.
func (e *Encoder) UpdateBuffer(buf rhi.NativeObject, offset uint64, data []byte) error {
	if err := e.call("UpdateBuffer", objs(buf), buf, offset, len(data)); err != nil {
		return err
	}
	o := buf.(*Object)
	if !inRange(offset, uint64(len(data)), o.Size) {
		return fmt.Errorf("%w: UpdateBuffer [%d,+%d) beyond %v", ErrState, offset, len(data), o)
	}
	payload := append([]byte(nil), data...)
	e.writes = append(e.writes, func() {
		if !o.released {
			copy(o.data[offset:], payload)
		}
	})
	return nil
}

// CopyBuffer implements rhi.Encoder.
func (e *Encoder) CopyBuffer(src rhi.NativeObject, srcOffset uint64, dst rhi.NativeObject, dstOffset, size uint64) error {
	if err := e.call("CopyBuffer", objs(src, dst), src, srcOffset, dst, dstOffset, size); err != nil {
		return err
	}
	s, d := src.(*Object), dst.(*Object)
	if !inRange(srcOffset, size, s.Size) || !inRange(dstOffset, size, d.Size) {
		return fmt.Errorf("%w: CopyBuffer of %d bytes out of range", ErrState, size)
	}
	e.writes = append(e.writes, func() {
		if !s.released && !d.released {
			copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		}
	})
	return nil
}

// CopyTexture implements rhi.Encoder.
func (e *Encoder) CopyTexture(src, dst rhi.TextureCopy, width, height, depth uint32) error {
	return e.call("CopyTexture", objs(src.Texture, dst.Texture), src.Texture, dst.Texture, width, height, depth)
}

// ResolveTexture implements rhi.Encoder.
func (e *Encoder) ResolveTexture(src, dst rhi.NativeObject) error {
	return e.call("ResolveTexture", objs(src, dst), src, dst)
}

// SetViewport implements rhi.Encoder.
func (e *Encoder) SetViewport(index uint32, vp rhi.Viewport) error {
	return e.call("SetViewport", nil, index, vp.X, vp.Y, vp.Width, vp.Height)
}

// SetScissor implements rhi.Encoder.
func (e *Encoder) SetScissor(index, x, y, width, height uint32) error {
	return e.call("SetScissor", nil, index, x, y, width, height)
}

// ClearColorTarget implements rhi.Encoder.
func (e *Encoder) ClearColorTarget(index uint32, color gputypes.Color) error {
	if !e.framebuffer {
		return fmt.Errorf("%w: ClearColorTarget without framebuffer", ErrState)
	}
	return e.call("ClearColorTarget", nil, index, color)
}

// ClearDepthTarget implements rhi.Encoder.
func (e *Encoder) ClearDepthTarget(depth float32, stencil uint8) error {
	if !e.framebuffer {
		return fmt.Errorf("%w: ClearDepthTarget without framebuffer", ErrState)
	}
	return e.call("ClearDepthTarget", nil, depth, stencil)
}

// PushDebugGroup implements rhi.Encoder.
func (e *Encoder) PushDebugGroup(label string) error {
	if err := e.call("PushDebugGroup", nil, label); err != nil {
		return err
	}
	e.groups++
	return nil
}

// PopDebugGroup implements rhi.Encoder.
func (e *Encoder) PopDebugGroup() error {
	if e.groups == 0 {
		return fmt.Errorf("%w: PopDebugGroup without group", ErrState)
	}
	if err := e.call("PopDebugGroup", nil); err != nil {
		return err
	}
	e.groups--
	return nil
}

// InsertDebugMarker implements rhi.Encoder.
func (e *Encoder) InsertDebugMarker(label string) error {
	return e.call("InsertDebugMarker", nil, label)
}

// Discard implements rhi.Encoder.
func (e *Encoder) Discard() {
	e.b.mu.Lock()
	defer e.b.mu.Unlock()

	e.done = true
	e.calls = nil
	e.writes = nil
	e.b.record("Discard", e.label)
}

// SetBindingSet implements rhi.SetBinder.
func (e *Encoder) SetBindingSet(index uint32, set rhi.NativeObject, dynamicOffsets []uint32) error {
	if e.b.info.BindingModel != rhi.BindingModelDescriptorSet {
		return fmt.Errorf("%w: SetBindingSet on a %v backend", ErrState, e.b.info.BindingModel)
	}
	offsets := append([]uint32(nil), dynamicOffsets...)
	return e.call("SetBindingSet", objs(set), index, set, offsets)
}

func (e *Encoder) slotModel(op string) error {
	if e.b.info.BindingModel != rhi.BindingModelSlot {
		return fmt.Errorf("%w: %s on a %v backend", ErrState, op, e.b.info.BindingModel)
	}
	return nil
}

// BindBuffer implements rhi.SlotBinder.
func (e *Encoder) BindBuffer(stage rhi.ShaderStages, slot uint32, kind rhi.ResourceKind, buf rhi.NativeObject, offset, size uint64) error {
	if err := e.slotModel("BindBuffer"); err != nil {
		return err
	}
	return e.call("BindBuffer", objs(buf), stage, slot, kind, buf, offset, size)
}

// BindTexture implements rhi.SlotBinder.
func (e *Encoder) BindTexture(stage rhi.ShaderStages, slot uint32, kind rhi.ResourceKind, tex rhi.NativeObject) error {
	if err := e.slotModel("BindTexture"); err != nil {
		return err
	}
	return e.call("BindTexture", objs(tex), stage, slot, kind, tex)
}

// BindSampler implements rhi.SlotBinder.
func (e *Encoder) BindSampler(stage rhi.ShaderStages, slot uint32, sampler rhi.NativeObject) error {
	if err := e.slotModel("BindSampler"); err != nil {
		return err
	}
	return e.call("BindSampler", objs(sampler), stage, slot, sampler)
}

// inRange reports whether [offset, offset+n) lies within size bytes.
func inRange(offset, n, size uint64) bool {
	return offset <= size && n <= size-offset
}
