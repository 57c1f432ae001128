package rhi

import "github.com/gogpu/gputypes"

// NativeObject is an opaque object created by a native backend: a buffer,
// texture, pipeline state object or similar. rhi never looks inside it.
type NativeObject any

// BindingModel describes how a native backend binds shader resources.
type BindingModel uint8

const (
	// BindingModelDescriptorSet backends bind one native set object per
	// binding set index. Their encoders implement SetBinder.
	BindingModelDescriptorSet BindingModel = iota

	// BindingModelSlot backends have no grouping primitive and bind each
	// resource to a per-stage slot. Their encoders implement SlotBinder.
	BindingModelSlot
)

// String returns the string representation of a BindingModel.
func (m BindingModel) String() string {
	switch m {
	case BindingModelDescriptorSet:
		return "DescriptorSet"
	case BindingModelSlot:
		return "Slot"
	default:
		return "Unknown"
	}
}

// ShaderFormat is the shader code format a backend consumes.
type ShaderFormat uint8

const (
	// ShaderFormatSPIRV backends require SPIR-V words. WGSL sources are
	// compiled before they reach the backend.
	ShaderFormatSPIRV ShaderFormat = iota

	// ShaderFormatWGSL backends accept WGSL source directly.
	ShaderFormatWGSL
)

// Features is a set of optional backend capabilities.
type Features uint32

const (
	// FeatureCompute enables compute pipelines and Dispatch.
	FeatureCompute Features = 1 << iota

	// FeatureIndirect enables DrawIndirect, DrawIndexedIndirect and
	// DispatchIndirect.
	FeatureIndirect

	// FeatureMultipleViewports enables viewport and scissor indices above 0.
	FeatureMultipleViewports

	// FeatureDebugMarkers makes debug groups and markers reach the backend.
	// Without it they are recorded and dropped at replay.
	FeatureDebugMarkers
)

// Has reports whether all features in f2 are present in f.
func (f Features) Has(f2 Features) bool { return f&f2 == f2 }

// NativeInfo describes a native backend.
type NativeInfo struct {
	// Name identifies the backend, e.g. "trace" or "vulkan".
	Name string

	// BindingModel selects the binding emulation strategy.
	BindingModel BindingModel

	// ContextAffine backends may only be called from the thread that owns
	// their context. Devices on such backends use the replay worker.
	ContextAffine bool

	// ShaderFormat is the shader code format CreateShader expects.
	ShaderFormat ShaderFormat

	// Features lists the optional capabilities.
	Features Features
}

// Native is the call surface of a native graphics backend.
//
// Factory calls receive fully validated descriptors with every reference
// already resolved to native objects. For context-affine backends, every
// method is called from the replay worker's thread.
type Native interface {
	// Info describes the backend. It must not change over its lifetime.
	Info() NativeInfo

	CreateBuffer(desc *BufferDescriptor) (NativeObject, error)
	CreateTexture(desc *TextureDescriptor) (NativeObject, error)
	CreateSampler(desc *SamplerDescriptor) (NativeObject, error)
	CreateShader(desc *ShaderDescriptor) (NativeObject, error)
	CreateFramebuffer(desc *NativeFramebufferDescriptor) (NativeObject, error)
	CreateBindingLayout(desc *BindingLayoutDescriptor) (NativeObject, error)
	CreateBindingSet(desc *NativeBindingSetDescriptor) (NativeObject, error)
	CreatePipeline(desc *NativePipelineDescriptor) (NativeObject, error)

	// Release destroys a native object. It is called once per object,
	// after its destroy fence has passed.
	Release(obj NativeObject)

	// Encoder begins a new native command stream.
	Encoder(label string) (Encoder, error)

	// Submit ends enc and executes its commands. It returns once the work
	// is complete or has failed.
	Submit(enc Encoder) error

	// WaitIdle blocks until the backend has no outstanding work.
	WaitIdle() error

	// Close releases the backend. No other method is called afterwards.
	Close() error
}

// Viewport is a viewport rectangle with a depth range.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// FramebufferTarget is the render target passed to Encoder.SetFramebuffer.
type FramebufferTarget struct {
	// Framebuffer is the object returned by CreateFramebuffer, or nil for
	// the main surface framebuffer.
	Framebuffer NativeObject

	// Colors holds the native color textures. For the main surface
	// framebuffer it holds the image returned by Surface.AcquireNextImage.
	Colors []NativeObject

	// Depth is the native depth texture, or nil.
	Depth NativeObject

	Width, Height uint32
}

// TextureCopy describes one side of a texture copy.
type TextureCopy struct {
	Texture  NativeObject
	MipLevel uint32
	Layer    uint32
	X, Y, Z  uint32
}

// Encoder records native commands for one entry list.
//
// Every method returns an error; a non-nil error is a device fault and
// aborts the list. Encoders additionally implement SetBinder or SlotBinder
// according to the backend's BindingModel.
type Encoder interface {
	SetFramebuffer(target *FramebufferTarget) error
	SetPipeline(pipeline NativeObject) error
	SetVertexBuffer(index uint32, buffer NativeObject, offset uint64) error
	SetIndexBuffer(buffer NativeObject, format gputypes.IndexFormat, offset uint64) error

	Draw(vertexCount, instanceCount, vertexStart, instanceStart uint32) error
	DrawIndexed(indexCount, instanceCount, indexStart uint32, vertexOffset int32, instanceStart uint32) error
	DrawIndirect(buffer NativeObject, offset uint64, drawCount, stride uint32) error
	DrawIndexedIndirect(buffer NativeObject, offset uint64, drawCount, stride uint32) error
	Dispatch(x, y, z uint32) error
	DispatchIndirect(buffer NativeObject, offset uint64) error

	UpdateBuffer(buffer NativeObject, offset uint64, data []byte) error
	CopyBuffer(src NativeObject, srcOffset uint64, dst NativeObject, dstOffset, size uint64) error
	CopyTexture(src, dst TextureCopy, width, height, depth uint32) error
	ResolveTexture(src, dst NativeObject) error

	SetViewport(index uint32, vp Viewport) error
	SetScissor(index uint32, x, y, width, height uint32) error
	ClearColorTarget(index uint32, color gputypes.Color) error
	ClearDepthTarget(depth float32, stencil uint8) error

	PushDebugGroup(label string) error
	PopDebugGroup() error
	InsertDebugMarker(label string) error

	// Discard abandons the recorded commands after a fault.
	Discard()
}

// SetBinder is implemented by encoders of descriptor-set backends.
type SetBinder interface {
	SetBindingSet(index uint32, set NativeObject, dynamicOffsets []uint32) error
}

// SlotBinder is implemented by encoders of slot backends. Each call updates
// one native slot of one shader stage.
type SlotBinder interface {
	BindBuffer(stage ShaderStages, slot uint32, kind ResourceKind, buffer NativeObject, offset, size uint64) error
	BindTexture(stage ShaderStages, slot uint32, kind ResourceKind, texture NativeObject) error
	BindSampler(stage ShaderStages, slot uint32, sampler NativeObject) error
}

// ContextBinder is implemented by context-affine backends. The replay
// worker makes the context current on its locked thread before the first
// call and releases it after the last.
type ContextBinder interface {
	MakeCurrent() error
	ReleaseCurrent() error
}

// Recoverer is implemented by backends that can rebuild their context
// after a device fault.
type Recoverer interface {
	Recover() error
}

// Surface is the presentable surface supplied by window-system glue.
type Surface interface {
	// AcquireNextImage returns the native color target for the next frame.
	AcquireNextImage() (NativeObject, error)

	// Present shows the acquired image.
	Present() error

	// Resize changes the surface extent.
	Resize(width, height uint32) error

	// Size returns the current surface extent.
	Size() (width, height uint32)

	// Format returns the color format of the surface images.
	Format() gputypes.TextureFormat
}

// NativeFramebufferDescriptor is passed to Native.CreateFramebuffer.
type NativeFramebufferDescriptor struct {
	Label  string
	Colors []NativeObject
	Depth  NativeObject

	ColorFormats []gputypes.TextureFormat
	DepthFormat  gputypes.TextureFormat

	Width, Height uint32
}

// NativeBinding is one resolved binding set member.
type NativeBinding struct {
	Object NativeObject

	// Offset and Size select a buffer range. Size 0 binds the rest of the
	// buffer.
	Offset, Size uint64
}

// NativeBindingSetDescriptor is passed to Native.CreateBindingSet.
type NativeBindingSetDescriptor struct {
	Label     string
	Layout    NativeObject
	Elements  []BindingElement
	Resources []NativeBinding
}

// NativeShader is one shader stage of a pipeline.
type NativeShader struct {
	Module     NativeObject
	Stage      ShaderStages
	EntryPoint string
}

// NativePipelineDescriptor is passed to Native.CreatePipeline.
type NativePipelineDescriptor struct {
	*PipelineDescriptor

	// Compute is set for compute pipelines.
	Compute bool

	Shaders []NativeShader

	// Layouts holds the native binding layouts in set index order.
	Layouts []NativeObject

	// LayoutElements mirrors Layouts with the element descriptions.
	LayoutElements [][]BindingElement
}
