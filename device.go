package rhi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/internal/cache"
)

// Device owns every resource created through it and executes entry lists
// on a native backend.
//
// All methods are safe for concurrent use. Factory calls validate their
// descriptors synchronously; native creation runs on the executor so that
// context-affine backends are only called from the replay worker's thread.
type Device struct {
	native   Native
	info     NativeInfo
	cfg      Config
	deferred bool

	table     *table
	pipelines *pipelineCache
	staging   *stagingPool
	shaders   *cache.Cache[string, []uint32]
	plans     *planCache
	exec      executor

	surface Surface
	mainFB  Framebuffer

	// image is the acquired surface image of the current frame. It is only
	// touched on the executor.
	image NativeObject

	listIDs atomic.Uint64
	fault   atomic.Pointer[FaultError]
	closed  atomic.Bool

	diagnostics observers[Diagnostic]
	resizes     observers[ResizeEvent]
}

// NewDevice creates a device on top of a native backend.
//
// Context-affine backends get a replay worker unless WithDeferred(false)
// is given. A failed NewDevice does not close native.
func NewDevice(native Native, opts ...Option) (*Device, error) {
	if native == nil {
		return nil, errors.New("rhi: nil native backend")
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	info := native.Info()
	d := &Device{
		native:    native,
		info:      info,
		cfg:       cfg,
		table:     newTable(cfg.MaxResources),
		pipelines: newPipelineCache(),
		staging:   newStagingPool(cfg.StagingCapacity),
		shaders:   cache.New[string, []uint32](cfg.ShaderCacheSize),
		surface:   cfg.Surface,
	}
	if info.BindingModel == BindingModelSlot {
		plans, err := newPlanCache(cfg.PlanCacheSize)
		if err != nil {
			return nil, err
		}
		d.plans = plans
	}

	switch cfg.Executor {
	case ExecutorDeferred:
		d.deferred = true
	case ExecutorAuto:
		d.deferred = info.ContextAffine
	}
	if d.deferred {
		w, err := startReplayWorker(d)
		if err != nil {
			return nil, err
		}
		d.exec = w
	} else {
		d.exec = newImmediateExecutor(d)
	}

	if d.surface != nil {
		ref, err := d.table.insert(KindFramebuffer, &framebufferObject{
			label: "main",
			outputs: OutputDescription{
				ColorFormats: []gputypes.TextureFormat{d.surface.Format()},
				SampleCount:  1,
			},
			surface: true,
		})
		if err != nil {
			_ = d.exec.shutdown(func() error { return nil })
			return nil, err
		}
		d.mainFB = Framebuffer{ref}
	}

	Logger().Info("rhi: device created",
		"backend", info.Name,
		"binding_model", info.BindingModel.String(),
		"deferred", d.deferred,
		"surface", d.surface != nil)
	return d, nil
}

// Info returns the native backend description.
func (d *Device) Info() NativeInfo { return d.info }

// Deferred reports whether the device executes lists on a replay worker.
func (d *Device) Deferred() bool { return d.deferred }

// Config returns the configuration the device was created with.
func (d *Device) Config() Config { return d.cfg }

// create reserves a slot, runs build on the executor and publishes the
// object. The slot is returned to the table if build fails.
func (d *Device) create(kind Kind, build func() (object, error)) (Ref, error) {
	if d.closed.Load() {
		return Ref{}, ErrDeviceClosed
	}
	h, err := d.table.reserve(kind)
	if err != nil {
		return Ref{}, err
	}
	var obj object
	err = d.exec.do(func() error {
		var err error
		obj, err = build()
		return err
	})
	if err != nil {
		d.table.abandon(h)
		return Ref{}, err
	}
	return d.table.fill(h, obj), nil
}

// lookup resolves ref as an object of kind want.
func (d *Device) lookup(ref Ref, want Kind) (object, error) {
	if !ref.IsZero() && ref.Kind != want {
		return nil, fmt.Errorf("%w: %v is not a %v", ErrWrongKind, ref, want)
	}
	return d.table.resolve(ref)
}

// CreateBuffer creates a buffer.
func (d *Device) CreateBuffer(desc *BufferDescriptor) (Buffer, error) {
	if err := desc.validate(); err != nil {
		return Buffer{}, err
	}
	dc := *desc
	ref, err := d.create(KindBuffer, func() (object, error) {
		n, err := d.native.CreateBuffer(&dc)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating buffer %q: %w", dc.Label, err)
		}
		return &bufferObject{native: n, desc: dc}, nil
	})
	return Buffer{ref}, err
}

// CreateTexture creates a texture. Zero depth, mip level, layer and sample
// counts default to 1.
func (d *Device) CreateTexture(desc *TextureDescriptor) (Texture, error) {
	if err := desc.validate(); err != nil {
		return Texture{}, err
	}
	dc := desc.withDefaults()
	ref, err := d.create(KindTexture, func() (object, error) {
		n, err := d.native.CreateTexture(&dc)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating texture %q: %w", dc.Label, err)
		}
		return &textureObject{native: n, desc: dc}, nil
	})
	return Texture{ref}, err
}

// CreateSampler creates a sampler.
func (d *Device) CreateSampler(desc *SamplerDescriptor) (Sampler, error) {
	dc := *desc
	ref, err := d.create(KindSampler, func() (object, error) {
		n, err := d.native.CreateSampler(&dc)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating sampler %q: %w", dc.Label, err)
		}
		return &samplerObject{native: n, desc: dc}, nil
	})
	return Sampler{ref}, err
}

// CreateShader creates a shader module. WGSL sources are compiled to
// SPIR-V for backends that need it.
func (d *Device) CreateShader(desc *ShaderDescriptor) (Shader, error) {
	if err := desc.validate(); err != nil {
		return Shader{}, err
	}
	native, err := d.shaderForBackend(desc)
	if err != nil {
		return Shader{}, err
	}
	ref, err := d.create(KindShader, func() (object, error) {
		n, err := d.native.CreateShader(native)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating shader %q: %w", desc.Label, err)
		}
		return &shaderObject{native: n, label: desc.Label, stage: desc.Stage, entryPoint: desc.EntryPoint}, nil
	})
	return Shader{ref}, err
}

// CreateFramebuffer creates a framebuffer. Every target must be a live
// texture with RenderAttachment usage and all targets must share one
// extent.
func (d *Device) CreateFramebuffer(desc *FramebufferDescriptor) (Framebuffer, error) {
	if len(desc.ColorTargets) == 0 && desc.DepthTarget.IsZero() {
		return Framebuffer{}, fmt.Errorf("%w: framebuffer %q has no targets", ErrInvalidDescriptor, desc.Label)
	}
	colors := append([]Texture(nil), desc.ColorTargets...)
	depth := desc.DepthTarget

	ref, err := d.create(KindFramebuffer, func() (object, error) {
		nd := &NativeFramebufferDescriptor{Label: desc.Label}
		fo := &framebufferObject{label: desc.Label, colors: colors, depth: depth}

		target := func(t Texture, what string) (*textureObject, error) {
			obj, err := d.lookup(t.Ref, KindTexture)
			if err != nil {
				return nil, fmt.Errorf("rhi: framebuffer %q %s: %w", desc.Label, what, err)
			}
			to := obj.(*textureObject)
			if to.desc.Usage&gputypes.TextureUsageRenderAttachment == 0 {
				return nil, fmt.Errorf("%w: framebuffer %q %s lacks RenderAttachment usage", ErrUsage, desc.Label, what)
			}
			if fo.width == 0 {
				fo.width, fo.height = to.desc.Width, to.desc.Height
				fo.outputs.SampleCount = to.desc.SampleCount
			} else if to.desc.Width != fo.width || to.desc.Height != fo.height {
				return nil, fmt.Errorf("%w: framebuffer %q %s is %dx%d, want %dx%d",
					ErrInvalidDescriptor, desc.Label, what, to.desc.Width, to.desc.Height, fo.width, fo.height)
			}
			return to, nil
		}

		for i, c := range colors {
			to, err := target(c, fmt.Sprintf("color target %d", i))
			if err != nil {
				return nil, err
			}
			nd.Colors = append(nd.Colors, to.native)
			nd.ColorFormats = append(nd.ColorFormats, to.desc.Format)
		}
		if !depth.IsZero() {
			to, err := target(depth, "depth target")
			if err != nil {
				return nil, err
			}
			nd.Depth = to.native
			nd.DepthFormat = to.desc.Format
		}
		fo.outputs.ColorFormats = nd.ColorFormats
		fo.outputs.DepthFormat = nd.DepthFormat
		nd.Width, nd.Height = fo.width, fo.height

		n, err := d.native.CreateFramebuffer(nd)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating framebuffer %q: %w", desc.Label, err)
		}
		fo.native = n
		return fo, nil
	})
	return Framebuffer{ref}, err
}

// CreateBindingLayout creates an immutable binding layout.
func (d *Device) CreateBindingLayout(desc *BindingLayoutDescriptor) (BindingLayout, error) {
	if err := desc.validate(); err != nil {
		return BindingLayout{}, err
	}
	dc := BindingLayoutDescriptor{Label: desc.Label, Elements: append([]BindingElement(nil), desc.Elements...)}
	dynamic := 0
	for _, e := range dc.Elements {
		if e.Dynamic {
			dynamic++
		}
	}
	ref, err := d.create(KindBindingLayout, func() (object, error) {
		n, err := d.native.CreateBindingLayout(&dc)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating binding layout %q: %w", dc.Label, err)
		}
		return &bindingLayoutObject{native: n, label: dc.Label, elements: dc.Elements, dynamic: dynamic}, nil
	})
	return BindingLayout{ref}, err
}

// CreateBindingSet creates an immutable binding set. It fails with
// ErrBindingCount unless exactly one resource is given per layout element,
// and with ErrBindingMismatch if any resource does not fit its element.
func (d *Device) CreateBindingSet(desc *BindingSetDescriptor) (BindingSet, error) {
	resources := append([]BindingResource(nil), desc.Resources...)
	ref, err := d.create(KindBindingSet, func() (object, error) {
		obj, err := d.lookup(desc.Layout.Ref, KindBindingLayout)
		if err != nil {
			return nil, fmt.Errorf("rhi: binding set %q layout: %w", desc.Label, err)
		}
		lo := obj.(*bindingLayoutObject)
		if len(resources) != len(lo.elements) {
			return nil, fmt.Errorf("%w: set %q has %d resources, layout %q has %d elements",
				ErrBindingCount, desc.Label, len(resources), lo.label, len(lo.elements))
		}

		so := &bindingSetObject{
			label:   desc.Label,
			layout:  desc.Layout,
			layoutO: lo,
			members: make([]setMember, len(resources)),
		}
		nd := &NativeBindingSetDescriptor{
			Label:     desc.Label,
			Layout:    lo.native,
			Elements:  lo.elements,
			Resources: make([]NativeBinding, len(resources)),
		}
		for i, res := range resources {
			e := lo.elements[i]
			if res == nil {
				return nil, fmt.Errorf("%w: element %d (%s) has no resource", ErrBindingMismatch, i, e.Name)
			}
			ref := res.ref()
			if ref.Kind != e.Kind.tableKind() {
				return nil, fmt.Errorf("%w: element %d (%s) wants %v, got %v", ErrBindingMismatch, i, e.Name, e.Kind, ref.Kind)
			}
			robj, err := d.table.resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("rhi: binding set %q element %d: %w", desc.Label, i, err)
			}
			if err := checkMember(i, e, res, robj); err != nil {
				return nil, err
			}
			m := member(res)
			so.members[i] = m
			nd.Resources[i] = NativeBinding{Object: robj.nativeObject(), Offset: m.offset, Size: m.size}
		}

		n, err := d.native.CreateBindingSet(nd)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating binding set %q: %w", desc.Label, err)
		}
		so.native = n
		return so, nil
	})
	return BindingSet{ref}, err
}

// CreatePipeline returns the pipeline for desc, creating it on first use.
//
// Pipelines are deduplicated by structural key: an equal description
// returns the same Pipeline and takes another reference to it. Each
// CreatePipeline must be balanced by one DestroyPipeline.
func (d *Device) CreatePipeline(desc *PipelineDescriptor) (Pipeline, error) {
	if d.closed.Load() {
		return Pipeline{}, ErrDeviceClosed
	}
	if err := desc.validateShape(); err != nil {
		return Pipeline{}, err
	}

	var stages ShaderStages
	for i, s := range desc.Shaders {
		obj, err := d.lookup(s.Ref, KindShader)
		if err != nil {
			return Pipeline{}, fmt.Errorf("%w: %q shader %d: %w", ErrInvalidPipeline, desc.Label, i, err)
		}
		st := obj.(*shaderObject).stage
		if stages&st != 0 {
			return Pipeline{}, fmt.Errorf("%w: %q has two %v shaders", ErrInvalidPipeline, desc.Label, st)
		}
		stages |= st
	}
	compute := stages == StageCompute
	if compute {
		if !d.info.Features.Has(FeatureCompute) {
			return Pipeline{}, fmt.Errorf("%w: compute pipeline %q on %s", ErrUnsupported, desc.Label, d.info.Name)
		}
	} else if err := desc.validateGraphics(stages); err != nil {
		return Pipeline{}, err
	}
	for i, l := range desc.Layouts {
		if _, err := d.lookup(l.Ref, KindBindingLayout); err != nil {
			return Pipeline{}, fmt.Errorf("%w: %q layout %d: %w", ErrInvalidPipeline, desc.Label, i, err)
		}
	}

	key, hash := encodePipelineKey(desc, compute)
	p, hit, err := d.pipelines.getOrCreate(key, func() (Pipeline, *pipelineObject, error) {
		ref, po, err := d.buildPipeline(desc, compute, key, hash)
		return Pipeline{ref}, po, err
	})
	if err != nil {
		return Pipeline{}, err
	}
	if !hit {
		Logger().Debug("rhi: pipeline cache miss", "pipeline", desc.Label, "hash", hash, "compute", compute)
	}
	return p, nil
}

// buildPipeline creates the native pipeline for a cache miss.
func (d *Device) buildPipeline(desc *PipelineDescriptor, compute bool, key pipelineKey, hash uint64) (Ref, *pipelineObject, error) {
	dc := *desc
	dc.Shaders = append([]Shader(nil), desc.Shaders...)
	dc.Layouts = append([]BindingLayout(nil), desc.Layouts...)
	dc.Specializations = append([]SpecializationConstant(nil), desc.Specializations...)

	var po *pipelineObject
	ref, err := d.create(KindPipeline, func() (object, error) {
		nd := &NativePipelineDescriptor{PipelineDescriptor: &dc, Compute: compute}
		po = &pipelineObject{
			label:   dc.Label,
			key:     key,
			hash:    hash,
			compute: compute,
			layouts: dc.Layouts,
		}
		for i, s := range dc.Shaders {
			obj, err := d.lookup(s.Ref, KindShader)
			if err != nil {
				return nil, fmt.Errorf("%w: %q shader %d: %w", ErrInvalidPipeline, dc.Label, i, err)
			}
			so := obj.(*shaderObject)
			nd.Shaders = append(nd.Shaders, NativeShader{Module: so.native, Stage: so.stage, EntryPoint: so.entryPoint})
		}
		for i, l := range dc.Layouts {
			obj, err := d.lookup(l.Ref, KindBindingLayout)
			if err != nil {
				return nil, fmt.Errorf("%w: %q layout %d: %w", ErrInvalidPipeline, dc.Label, i, err)
			}
			lo := obj.(*bindingLayoutObject)
			nd.Layouts = append(nd.Layouts, lo.native)
			nd.LayoutElements = append(nd.LayoutElements, lo.elements)
			po.elements = append(po.elements, lo.elements)
			po.dynamic = append(po.dynamic, lo.dynamic)
		}

		n, err := d.native.CreatePipeline(nd)
		if err != nil {
			return nil, fmt.Errorf("rhi: creating pipeline %q: %w", dc.Label, err)
		}
		po.native = n
		return po, nil
	})
	return ref, po, err
}

// destroy retires ref and schedules its release behind every list
// submitted so far.
func (d *Device) destroy(ref Ref, want Kind, after func()) error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	if !ref.IsZero() && ref.Kind != want {
		return fmt.Errorf("%w: %v is not a %v", ErrWrongKind, ref, want)
	}
	obj, err := d.table.retire(ref)
	if err != nil {
		return err
	}
	d.exec.fence(func() {
		if n := obj.nativeObject(); n != nil {
			d.native.Release(n)
		}
		if after != nil {
			after()
		}
		d.table.reclaim(ref.Handle)
	})
	return nil
}

// DestroyBuffer destroys a buffer. Lists already submitted may still use
// it; lists replayed later skip entries that reference it.
func (d *Device) DestroyBuffer(b Buffer) error { return d.destroy(b.Ref, KindBuffer, nil) }

// DestroyTexture destroys a texture.
func (d *Device) DestroyTexture(t Texture) error { return d.destroy(t.Ref, KindTexture, nil) }

// DestroySampler destroys a sampler.
func (d *Device) DestroySampler(s Sampler) error { return d.destroy(s.Ref, KindSampler, nil) }

// DestroyShader destroys a shader module. Pipelines created from it are
// not affected.
func (d *Device) DestroyShader(s Shader) error { return d.destroy(s.Ref, KindShader, nil) }

// DestroyFramebuffer destroys a framebuffer. The main framebuffer belongs
// to the device and cannot be destroyed.
func (d *Device) DestroyFramebuffer(fb Framebuffer) error {
	if !d.mainFB.IsZero() && fb == d.mainFB {
		return fmt.Errorf("%w: the main framebuffer is owned by the device", ErrInvalidHandle)
	}
	return d.destroy(fb.Ref, KindFramebuffer, nil)
}

// DestroyBindingLayout destroys a binding layout.
func (d *Device) DestroyBindingLayout(l BindingLayout) error {
	return d.destroy(l.Ref, KindBindingLayout, nil)
}

// DestroyBindingSet destroys a binding set.
func (d *Device) DestroyBindingSet(s BindingSet) error { return d.destroy(s.Ref, KindBindingSet, nil) }

// DestroyPipeline drops one reference to p. The pipeline is destroyed when
// its last reference is dropped.
func (d *Device) DestroyPipeline(p Pipeline) error {
	obj, err := d.lookup(p.Ref, KindPipeline)
	if err != nil {
		return err
	}
	po := obj.(*pipelineObject)
	if !d.pipelines.release(p, po) {
		return nil
	}
	var forget func()
	if d.plans != nil {
		forget = func() { d.plans.forget(p.Ref) }
	}
	return d.destroy(p.Ref, KindPipeline, forget)
}

// NativeObject returns the backend object behind ref, for interop with
// code that talks to the backend directly. The object must not be used
// after ref is destroyed.
func (d *Device) NativeObject(ref Ref) (NativeObject, error) {
	obj, err := d.table.resolve(ref)
	if err != nil {
		return nil, err
	}
	return obj.nativeObject(), nil
}

// PipelineRefs returns the number of outstanding references to p, or 0 if
// p is not cached.
func (d *Device) PipelineRefs(p Pipeline) int {
	obj, err := d.lookup(p.Ref, KindPipeline)
	if err != nil {
		return 0
	}
	return d.pipelines.refs(obj.(*pipelineObject).key)
}

// Submit submits a sealed entry list.
//
// On a deferred device Submit returns once the list is queued; use
// EntryList.Wait or SubmitAndWait to observe completion. On an immediate
// device the list has executed when Submit returns and its fault, if any,
// is returned. A faulted device refuses lists with ErrDeviceFaulted.
func (d *Device) Submit(list *EntryList) error {
	if list == nil {
		return fmt.Errorf("%w: nil entry list", ErrInvalidHandle)
	}
	if d.closed.Load() {
		_ = list.Release()
		return ErrDeviceClosed
	}
	if !list.transition(ListSealed, ListSubmitted) {
		switch st := list.State(); st {
		case ListRecording:
			return fmt.Errorf("%w: list %d is still recording", ErrNotRecording, list.id)
		case ListReleased:
			return fmt.Errorf("%w: list %d", ErrListReleased, list.id)
		default:
			return fmt.Errorf("%w: list %d is %v", ErrListSubmitted, list.id, st)
		}
	}
	if fe := d.fault.Load(); fe != nil {
		err := fmt.Errorf("%w: list %d (%s) refused after %v", ErrDeviceFaulted, list.id, list.label, fe)
		list.finish(err)
		return err
	}
	return d.exec.submit(list)
}

// SubmitAndWait submits list and waits until it has completed or faulted.
func (d *Device) SubmitAndWait(ctx context.Context, list *EntryList) error {
	if err := d.Submit(list); err != nil {
		return err
	}
	return list.Wait(ctx)
}

// WaitForIdle blocks until every list, fence and call submitted before it
// has executed, or until ctx is done. It returns at once if nothing is
// outstanding.
func (d *Device) WaitForIdle(ctx context.Context) error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	return d.exec.waitIdle(ctx)
}

// Fault returns the fault that stopped the device, or nil.
func (d *Device) Fault() error {
	if fe := d.fault.Load(); fe != nil {
		return fe
	}
	return nil
}

// Recover clears a device fault. It waits for outstanding work, lets the
// backend rebuild its context if it implements Recoverer, and then accepts
// lists again.
func (d *Device) Recover(ctx context.Context) error {
	fe := d.fault.Load()
	if fe == nil {
		return nil
	}
	if err := d.WaitForIdle(ctx); err != nil {
		return err
	}
	err := d.exec.do(func() error {
		d.image = nil
		if r, ok := d.native.(Recoverer); ok {
			return r.Recover()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rhi: recovering %s: %w", d.info.Name, err)
	}
	d.fault.CompareAndSwap(fe, nil)
	Logger().Info("rhi: device recovered", "backend", d.info.Name, "list", fe.List)
	return nil
}

// MainFramebuffer returns the framebuffer that renders to the surface, or
// the zero Framebuffer for headless devices.
func (d *Device) MainFramebuffer() Framebuffer { return d.mainFB }

// acquireImage returns the surface image of the current frame, acquiring
// it on first use. It runs on the executor.
func (d *Device) acquireImage() (NativeObject, error) {
	if d.image != nil {
		return d.image, nil
	}
	img, err := d.surface.AcquireNextImage()
	if err != nil {
		return nil, err
	}
	d.image = img
	return img, nil
}

// framebufferSize returns the extent of a framebuffer.
func (d *Device) framebufferSize(fo *framebufferObject) (width, height uint32) {
	if fo.surface {
		return d.surface.Size()
	}
	return fo.width, fo.height
}

// SwapBuffers presents the current frame after every list submitted before
// it has executed.
func (d *Device) SwapBuffers() error {
	if d.surface == nil {
		return fmt.Errorf("%w: device has no surface", ErrUnsupported)
	}
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	return d.exec.do(func() error {
		if _, err := d.acquireImage(); err != nil {
			return fmt.Errorf("rhi: acquiring surface image: %w", err)
		}
		d.image = nil
		if err := d.surface.Present(); err != nil {
			return fmt.Errorf("rhi: presenting: %w", err)
		}
		return nil
	})
}

// ResizeMainSurface resizes the surface after every list submitted before
// it has executed and then notifies OnResize observers.
func (d *Device) ResizeMainSurface(width, height uint32) error {
	if d.surface == nil {
		return fmt.Errorf("%w: device has no surface", ErrUnsupported)
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: surface size %dx%d", ErrInvalidDescriptor, width, height)
	}
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	err := d.exec.do(func() error {
		d.image = nil
		return d.surface.Resize(width, height)
	})
	if err != nil {
		return fmt.Errorf("rhi: resizing surface: %w", err)
	}
	Logger().Info("rhi: surface resized", "width", width, "height", height)
	d.resizes.notify(ResizeEvent{Width: width, Height: height})
	return nil
}

// OnDiagnostic registers fn to receive replay diagnostics and returns a
// function that unregisters it. fn runs on the executor's thread and must
// not call back into device methods that wait for the executor.
func (d *Device) OnDiagnostic(fn func(Diagnostic)) (unsubscribe func()) {
	return d.diagnostics.add(fn)
}

// OnResize registers fn to be called after the main surface is resized.
func (d *Device) OnResize(fn func(ResizeEvent)) (unsubscribe func()) {
	return d.resizes.add(fn)
}

// DeviceStats is a snapshot of device occupancy.
type DeviceStats struct {
	Table     TableStats
	Pipelines PipelineCacheStats

	// StagingInUse is the number of staging bytes held by unfinished lists.
	StagingInUse    int64
	StagingCapacity int64

	// ShaderCacheLen is the number of memoized WGSL compilations.
	ShaderCacheLen int

	// PlanCacheLen is the number of cached slot binding plans.
	PlanCacheLen int

	// Pending is the number of jobs queued on the replay worker.
	Pending int
}

// Stats returns a snapshot of device occupancy.
func (d *Device) Stats() DeviceStats {
	s := DeviceStats{
		Table:           d.table.stats(),
		Pipelines:       d.pipelines.stats(),
		StagingInUse:    d.staging.used(),
		StagingCapacity: d.cfg.StagingCapacity,
		ShaderCacheLen:  d.shaders.Len(),
	}
	if d.plans != nil {
		s.PlanCacheLen = d.plans.len()
	}
	if w, ok := d.exec.(*replayWorker); ok {
		s.Pending = w.in.len()
	}
	return s
}

// Close waits for outstanding work, releases every remaining object newest
// first, stops the replay worker and closes the native backend.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrDeviceClosed
	}
	if err := d.exec.waitIdle(context.Background()); err != nil {
		Logger().Warn("rhi: waiting for idle on close", "err", err)
	}

	err := d.exec.shutdown(func() error {
		objs := d.table.drain()
		for _, obj := range objs {
			if n := obj.nativeObject(); n != nil {
				d.native.Release(n)
			}
		}
		d.pipelines.clear()
		d.shaders.Clear()
		d.image = nil
		Logger().Info("rhi: device closed", "backend", d.info.Name, "released", len(objs))
		return d.native.Close()
	})
	if err != nil {
		return fmt.Errorf("rhi: closing device: %w", err)
	}
	return nil
}
