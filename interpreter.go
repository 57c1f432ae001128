package rhi

import (
	"errors"
	"fmt"
	"log/slog"
)

// replayer translates one entry list into native encoder calls. It runs on
// the executor's thread and holds the per-list binding state.
type replayer struct {
	dev  *Device
	list *EntryList
	enc  Encoder

	sets  SetBinder
	slots SlotBinder

	pipelineRef Ref
	pipeline    *pipelineObject
	plan        *slotPlan
	bound       []boundSet

	// poisoned remembers the stale reference of a skipped SetPipeline or
	// SetFramebuffer until the state is set again. Entries depending on it
	// are skipped as well.
	stalePipeline    Ref
	staleFramebuffer Ref

	// staleSets[i] is the stale reference that made the last
	// SetBindingSet at index i unresolvable. Draws and dispatches whose
	// pipeline declares index i are skipped until a live set is bound there.
	staleSets []Ref
}

// errSkip wraps the reference that made an entry unresolvable.
type errSkip struct {
	ref Ref
	err error
}

func (e *errSkip) Error() string { return fmt.Sprintf("skip %v: %v", e.ref, e.err) }
func (e *errSkip) Unwrap() error { return e.err }

func skip(ref Ref, err error) error { return &errSkip{ref: ref, err: err} }

// runList executes a submitted list and moves it to its final state. It
// returns the list's fault, if any.
func (d *Device) runList(list *EntryList) error {
	if fe := d.fault.Load(); fe != nil {
		err := fmt.Errorf("%w: list %d (%s) not executed", ErrDeviceFaulted, list.id, list.label)
		list.finish(err)
		return err
	}
	list.transition(ListSubmitted, ListReplaying)

	err := d.replay(list)
	var fe *FaultError
	if errors.As(err, &fe) {
		d.raiseFault(fe)
	}
	list.finish(err)
	return err
}

// replay encodes and submits list. Stale entries are skipped with a
// diagnostic; the first native error aborts the list with a *FaultError.
func (d *Device) replay(list *EntryList) error {
	log := Logger()
	log.Debug("rhi: replaying list", "list", list.id, "label", list.label, "entries", len(list.entries))

	enc, err := d.native.Encoder(list.label)
	if err != nil {
		return &FaultError{List: list.id, Entry: -1, Err: err}
	}
	rp := &replayer{dev: d, list: list, enc: enc}
	switch d.info.BindingModel {
	case BindingModelSlot:
		rp.slots, _ = enc.(SlotBinder)
	default:
		rp.sets, _ = enc.(SetBinder)
	}
	if rp.slots == nil && rp.sets == nil {
		enc.Discard()
		return &FaultError{List: list.id, Entry: -1,
			Err: fmt.Errorf("%w: %s encoder cannot bind for the %v model", ErrUnsupported, d.info.Name, d.info.BindingModel)}
	}

	for i, e := range list.entries {
		err := rp.step(e)
		if err == nil {
			continue
		}
		var s *errSkip
		if errors.As(err, &s) {
			d.reportStale(list, i, e.Op(), s.ref)
			continue
		}
		enc.Discard()
		return &FaultError{List: list.id, Entry: i, Op: e.Op(), Err: err}
	}

	if err := d.native.Submit(enc); err != nil {
		return &FaultError{List: list.id, Entry: -1, Err: err}
	}
	return nil
}

// reportStale records a skipped entry on the list and notifies observers.
func (d *Device) reportStale(list *EntryList, entry int, op Op, ref Ref) {
	diag := Diagnostic{
		Kind:  DiagnosticStale,
		List:  list.id,
		Label: list.label,
		Entry: entry,
		Op:    op,
		Ref:   ref,
	}
	list.addStale(diag)
	Logger().Warn("rhi: skipped stale entry",
		"list", list.id, "label", list.label, "entry", entry, "op", op.String(), "ref", ref.String())
	d.diagnostics.notify(diag)
}

// raiseFault puts the device into the faulted state. Only the first fault
// is kept until Recover.
func (d *Device) raiseFault(fe *FaultError) {
	if !d.fault.CompareAndSwap(nil, fe) {
		return
	}
	Logger().Error("rhi: device fault",
		slog.Uint64("list", fe.List), slog.Int("entry", fe.Entry), slog.String("op", fe.Op.String()),
		slog.Any("err", fe.Err))
	d.diagnostics.notify(Diagnostic{
		Kind:  DiagnosticFault,
		List:  fe.List,
		Entry: fe.Entry,
		Op:    fe.Op,
		Err:   fe,
	})
}

// native resolves ref to its native object or returns a skip error.
func (rp *replayer) native(ref Ref) (NativeObject, object, error) {
	obj, err := rp.dev.table.resolve(ref)
	if err != nil {
		return nil, nil, skip(ref, err)
	}
	return obj.nativeObject(), obj, nil
}

func (rp *replayer) buffer(b Buffer) (NativeObject, error) {
	n, _, err := rp.native(b.Ref)
	return n, err
}

func (rp *replayer) texture(t Texture) (NativeObject, error) {
	n, _, err := rp.native(t.Ref)
	return n, err
}

// needGraphics reports the poisoned state a draw depends on.
func (rp *replayer) needGraphics() error {
	if !rp.staleFramebuffer.IsZero() {
		return skip(rp.staleFramebuffer, ErrStale)
	}
	return rp.needPipeline()
}

func (rp *replayer) needPipeline() error {
	if !rp.stalePipeline.IsZero() {
		return skip(rp.stalePipeline, ErrStale)
	}
	if rp.pipeline == nil {
		return nil
	}
	for i := range rp.pipeline.layouts {
		if i < len(rp.staleSets) && !rp.staleSets[i].IsZero() {
			return skip(rp.staleSets[i], ErrStale)
		}
	}
	return nil
}

// poisonSet marks binding index idx as unusable because of ref.
func (rp *replayer) poisonSet(idx uint32, ref Ref) {
	for int(idx) >= len(rp.staleSets) {
		rp.staleSets = append(rp.staleSets, Ref{})
	}
	rp.staleSets[idx] = ref
}

// flush issues pending slot binds before a draw or dispatch.
func (rp *replayer) flush() error {
	if rp.slots == nil || rp.pipeline == nil {
		return nil
	}
	return flushSlots(rp.slots, rp.plan, rp.pipeline.layouts, rp.bound)
}

// step executes one entry.
//
//nolint:gocyclo,cyclop,funlen // one case per entry type
func (rp *replayer) step(e Entry) error {
	enc := rp.enc
	switch e := e.(type) {
	case *SetFramebufferEntry:
		return rp.setFramebuffer(e.Framebuffer)

	case *SetPipelineEntry:
		n, obj, err := rp.native(e.Pipeline.Ref)
		if err != nil {
			rp.stalePipeline = e.Pipeline.Ref
			return err
		}
		rp.stalePipeline = Ref{}
		rp.pipelineRef = e.Pipeline.Ref
		rp.pipeline = obj.(*pipelineObject)
		if rp.slots != nil {
			rp.plan = rp.dev.plans.get(rp.pipelineRef, rp.pipeline)
			for i := range rp.bound {
				rp.bound[i].dirty = true
			}
		}
		return enc.SetPipeline(n)

	case *SetBindingSetEntry:
		return rp.setBindingSet(e)

	case *SetVertexBufferEntry:
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		return enc.SetVertexBuffer(e.Index, n, e.Offset)

	case *SetIndexBufferEntry:
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		return enc.SetIndexBuffer(n, e.Format, e.Offset)

	case *DrawEntry:
		if err := rp.needGraphics(); err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.Draw(e.VertexCount, e.InstanceCount, e.VertexStart, e.InstanceStart)

	case *DrawIndexedEntry:
		if err := rp.needGraphics(); err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.DrawIndexed(e.IndexCount, e.InstanceCount, e.IndexStart, e.VertexOffset, e.InstanceStart)

	case *DrawIndirectEntry:
		if err := rp.needGraphics(); err != nil {
			return err
		}
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.DrawIndirect(n, e.Offset, e.DrawCount, e.Stride)

	case *DrawIndexedIndirectEntry:
		if err := rp.needGraphics(); err != nil {
			return err
		}
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.DrawIndexedIndirect(n, e.Offset, e.DrawCount, e.Stride)

	case *DispatchEntry:
		if err := rp.needPipeline(); err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.Dispatch(e.X, e.Y, e.Z)

	case *DispatchIndirectEntry:
		if err := rp.needPipeline(); err != nil {
			return err
		}
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		if err := rp.flush(); err != nil {
			return err
		}
		return enc.DispatchIndirect(n, e.Offset)

	case *UpdateBufferEntry:
		n, err := rp.buffer(e.Buffer)
		if err != nil {
			return err
		}
		return enc.UpdateBuffer(n, e.Offset, e.Data)

	case *CopyBufferEntry:
		src, err := rp.buffer(e.Src)
		if err != nil {
			return err
		}
		dst, err := rp.buffer(e.Dst)
		if err != nil {
			return err
		}
		return enc.CopyBuffer(src, e.SrcOffset, dst, e.DstOffset, e.Size)

	case *CopyTextureEntry:
		src, err := rp.texture(e.Src)
		if err != nil {
			return err
		}
		dst, err := rp.texture(e.Dst)
		if err != nil {
			return err
		}
		return enc.CopyTexture(textureCopy(src, e.SrcRegion), textureCopy(dst, e.DstRegion), e.Width, e.Height, e.Depth)

	case *ResolveTextureEntry:
		src, err := rp.texture(e.Src)
		if err != nil {
			return err
		}
		dst, err := rp.texture(e.Dst)
		if err != nil {
			return err
		}
		return enc.ResolveTexture(src, dst)

	case *SetViewportEntry:
		return enc.SetViewport(e.Index, e.Viewport)

	case *SetScissorEntry:
		return enc.SetScissor(e.Index, e.X, e.Y, e.Width, e.Height)

	case *ClearColorTargetEntry:
		if !rp.staleFramebuffer.IsZero() {
			return skip(rp.staleFramebuffer, ErrStale)
		}
		return enc.ClearColorTarget(e.Index, e.Color)

	case *ClearDepthTargetEntry:
		if !rp.staleFramebuffer.IsZero() {
			return skip(rp.staleFramebuffer, ErrStale)
		}
		return enc.ClearDepthTarget(e.Depth, e.Stencil)

	case *PushDebugGroupEntry:
		if !rp.dev.info.Features.Has(FeatureDebugMarkers) {
			return nil
		}
		return enc.PushDebugGroup(e.Label)

	case *PopDebugGroupEntry:
		if !rp.dev.info.Features.Has(FeatureDebugMarkers) {
			return nil
		}
		return enc.PopDebugGroup()

	case *InsertDebugMarkerEntry:
		if !rp.dev.info.Features.Has(FeatureDebugMarkers) {
			return nil
		}
		return enc.InsertDebugMarker(e.Label)

	default:
		return fmt.Errorf("%w: entry %T", ErrUnsupported, e)
	}
}

func textureCopy(tex NativeObject, r TextureRegion) TextureCopy {
	return TextureCopy{Texture: tex, MipLevel: r.MipLevel, Layer: r.Layer, X: r.X, Y: r.Y, Z: r.Z}
}

// setFramebuffer resolves the framebuffer and its targets. The main
// framebuffer acquires the next surface image on its first use in a frame.
func (rp *replayer) setFramebuffer(fb Framebuffer) error {
	_, obj, err := rp.native(fb.Ref)
	if err != nil {
		rp.staleFramebuffer = fb.Ref
		return err
	}
	fo := obj.(*framebufferObject)

	target := &FramebufferTarget{Framebuffer: fo.native}
	if fo.surface {
		img, err := rp.dev.acquireImage()
		if err != nil {
			return err
		}
		target.Colors = []NativeObject{img}
		target.Width, target.Height = rp.dev.surface.Size()
	} else {
		target.Colors = make([]NativeObject, len(fo.colors))
		for i, c := range fo.colors {
			n, err := rp.texture(c)
			if err != nil {
				rp.staleFramebuffer = fb.Ref
				return err
			}
			target.Colors[i] = n
		}
		if !fo.depth.IsZero() {
			n, err := rp.texture(fo.depth)
			if err != nil {
				rp.staleFramebuffer = fb.Ref
				return err
			}
			target.Depth = n
		}
		target.Width, target.Height = fo.width, fo.height
	}
	rp.staleFramebuffer = Ref{}
	return rp.enc.SetFramebuffer(target)
}

// setBindingSet resolves the set and every resource it names. If any of
// them is stale the whole entry is skipped and the index is poisoned.
func (rp *replayer) setBindingSet(e *SetBindingSetEntry) error {
	_, obj, err := rp.native(e.Set.Ref)
	if err != nil {
		rp.poisonSet(e.Index, e.Set.Ref)
		return err
	}
	so := obj.(*bindingSetObject)

	members := make([]NativeBinding, len(so.members))
	for i, m := range so.members {
		n, _, err := rp.native(m.ref)
		if err != nil {
			rp.poisonSet(e.Index, m.ref)
			return err
		}
		members[i] = NativeBinding{Object: n, Offset: m.offset, Size: m.size}
	}
	if int(e.Index) < len(rp.staleSets) {
		rp.staleSets[e.Index] = Ref{}
	}

	for int(e.Index) >= len(rp.bound) {
		rp.bound = append(rp.bound, boundSet{})
	}
	b := &rp.bound[e.Index]
	if b.same(e.Set.Ref, e.DynamicOffsets) {
		return nil
	}

	*b = boundSet{
		ref:      e.Set.Ref,
		layout:   so.layout,
		offsets:  e.DynamicOffsets,
		elements: so.layoutO.elements,
		members:  members,
		native:   so.native,
		dirty:    true,
	}
	if rp.sets != nil {
		b.dirty = false
		return rp.sets.SetBindingSet(e.Index, so.native, e.DynamicOffsets)
	}
	return nil
}
