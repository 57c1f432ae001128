// Package trace provides an in-memory native backend that records every
// call it receives.
//
// The trace backend serves multiple purposes:
//   - Headless execution of rhi devices, with no GPU or driver
//   - Verification of the exact native call stream in tests
//   - Emulating context-affine and slot-model backends on any machine
//   - Fault injection
//
// # Supported Features
//
//   - Both binding models: descriptor sets (default) and per-stage slots
//   - Context affinity: with WithContextAffinity every call is checked
//     against the thread that made the context current (Linux only)
//   - Buffer contents: UpdateBuffer and CopyBuffer are applied on Submit
//   - Use-after-release detection for every object argument
//   - A presentable Surface
//
// # Example
//
//	// Import to register the backend
//	import _ "github.com/gogpu/rhi/backend/trace"
//
//	// Create via registry
//	dev, _ := backend.Open("trace")
//
//	// Or create directly
//	tb := trace.New(trace.WithSlotModel(), trace.WithContextAffinity())
//	dev, _ := rhi.NewDevice(tb)
//
//	// Inspect what reached the backend
//	for _, c := range tb.Calls() {
//	    fmt.Println(c)
//	}
package trace

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
)

func init() {
	backend.Register(backend.NameTrace, func() (rhi.Native, error) {
		return New(), nil
	})
}

// Errors returned by the trace backend. Each one becomes a device fault
// when returned during replay.
var (
	// ErrReleased is returned when a released object is passed to a call.
	ErrReleased = errors.New("trace: object used after release")

	// ErrForeign is returned for objects this backend did not create.
	ErrForeign = errors.New("trace: foreign object")

	// ErrNotCurrent is returned for calls of a context-affine backend from
	// a thread that does not own the context.
	ErrNotCurrent = errors.New("trace: context not current on calling thread")

	// ErrState is returned for draws and binds the encoder state does not
	// permit.
	ErrState = errors.New("trace: invalid encoder state")

	// ErrInjected is the default error of FailNext.
	ErrInjected = errors.New("trace: injected fault")

	// ErrClosed is returned for calls after Close.
	ErrClosed = errors.New("trace: backend closed")

	// ErrLeaked is returned by Close when objects were never released.
	ErrLeaked = errors.New("trace: objects leaked")
)

// Object is a native object created by the trace backend.
type Object struct {
	ID    uint64
	Kind  string
	Label string

	// Size and data are set for buffers.
	Size uint64
	data []byte

	released bool
	surface  bool
}

func (o *Object) String() string {
	return fmt.Sprintf("%s#%d(%s)", o.Kind, o.ID, o.Label)
}

// Call is one native call received by the backend.
type Call struct {
	// List is the label of the encoder the call was recorded into, or empty
	// for device-level calls.
	List string
	Op   string
	Args []any
}

// String formats the call as Op(arg, ...).
func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return c.Op + "(" + strings.Join(args, ", ") + ")"
}

// Option configures a trace backend.
type Option func(*Backend)

// WithSlotModel makes the backend bind resources per stage and slot.
func WithSlotModel() Option {
	return func(b *Backend) { b.info.BindingModel = rhi.BindingModelSlot }
}

// WithContextAffinity makes the backend context-affine. Calls from any
// thread other than the one that called MakeCurrent fail.
func WithContextAffinity() Option {
	return func(b *Backend) { b.info.ContextAffine = true }
}

// WithShaderFormat sets the shader format the backend asks for.
func WithShaderFormat(f rhi.ShaderFormat) Option {
	return func(b *Backend) { b.info.ShaderFormat = f }
}

// WithFeatures replaces the reported feature set.
func WithFeatures(f rhi.Features) Option {
	return func(b *Backend) { b.info.Features = f }
}

// WithName sets the reported backend name.
func WithName(name string) Option {
	return func(b *Backend) { b.info.Name = name }
}

// Backend is the trace native backend. It implements rhi.Native,
// rhi.ContextBinder and rhi.Recoverer.
type Backend struct {
	info rhi.NativeInfo

	mu         sync.Mutex
	nextID     uint64
	objects    map[*Object]struct{}
	calls      []Call
	lists      []string
	owner      int
	current    bool
	violations []string
	failures   map[string]error
	recoveries int
	closed     bool
}

// Ensure Backend implements all required interfaces.
var (
	_ rhi.Native        = (*Backend)(nil)
	_ rhi.ContextBinder = (*Backend)(nil)
	_ rhi.Recoverer     = (*Backend)(nil)
)

// New creates a trace backend. By default it is free-threaded, uses
// descriptor sets, accepts WGSL and reports every feature.
func New(opts ...Option) *Backend {
	b := &Backend{
		info: rhi.NativeInfo{
			Name:         backend.NameTrace,
			BindingModel: rhi.BindingModelDescriptorSet,
			ShaderFormat: rhi.ShaderFormatWGSL,
			Features: rhi.FeatureCompute | rhi.FeatureIndirect |
				rhi.FeatureMultipleViewports | rhi.FeatureDebugMarkers,
		},
		objects:  make(map[*Object]struct{}),
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Info implements rhi.Native.
func (b *Backend) Info() rhi.NativeInfo { return b.info }

// enter checks that op may run now. Caller must hold b.mu.
func (b *Backend) enter(op string) error {
	if b.closed {
		return fmt.Errorf("%w: %s", ErrClosed, op)
	}
	if b.info.ContextAffine {
		if tid := threadID(); tid >= 0 && (!b.current || tid != b.owner) {
			v := fmt.Sprintf("%s on thread %d (owner %d, current %v)", op, tid, b.owner, b.current)
			b.violations = append(b.violations, v)
			rhi.Logger().Warn("trace: context affinity violation", "call", v)
			return fmt.Errorf("%w: %s", ErrNotCurrent, v)
		}
	}
	if err, ok := b.failures[op]; ok {
		delete(b.failures, op)
		return err
	}
	return nil
}

// use checks that n is a live object of this backend. Caller must hold
// b.mu.
func (b *Backend) use(n rhi.NativeObject) (*Object, error) {
	o, ok := n.(*Object)
	if !ok || o == nil {
		return nil, fmt.Errorf("%w: %T", ErrForeign, n)
	}
	if _, ok := b.objects[o]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrForeign, o)
	}
	if o.released {
		return nil, fmt.Errorf("%w: %v", ErrReleased, o)
	}
	return o, nil
}

func (b *Backend) record(op string, args ...any) {
	b.calls = append(b.calls, Call{Op: op, Args: args})
}

// newObject creates and records an object.
func (b *Backend) newObject(op, kind, label string, args ...any) (*Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter(op); err != nil {
		return nil, err
	}
	b.nextID++
	o := &Object{ID: b.nextID, Kind: kind, Label: label}
	b.objects[o] = struct{}{}
	b.record(op, append([]any{o}, args...)...)
	return o, nil
}

// CreateBuffer implements rhi.Native.
func (b *Backend) CreateBuffer(desc *rhi.BufferDescriptor) (rhi.NativeObject, error) {
	o, err := b.newObject("CreateBuffer", "Buffer", desc.Label, desc.Size)
	if err != nil {
		return nil, err
	}
	o.Size = desc.Size
	o.data = make([]byte, desc.Size)
	return o, nil
}

// CreateTexture implements rhi.Native.
func (b *Backend) CreateTexture(desc *rhi.TextureDescriptor) (rhi.NativeObject, error) {
	return b.newObject("CreateTexture", "Texture", desc.Label, desc.Width, desc.Height)
}

// CreateSampler implements rhi.Native.
func (b *Backend) CreateSampler(desc *rhi.SamplerDescriptor) (rhi.NativeObject, error) {
	return b.newObject("CreateSampler", "Sampler", desc.Label)
}

// CreateShader implements rhi.Native.
func (b *Backend) CreateShader(desc *rhi.ShaderDescriptor) (rhi.NativeObject, error) {
	format := "wgsl"
	if len(desc.SPIRV) > 0 {
		format = "spirv"
	}
	return b.newObject("CreateShader", "Shader", desc.Label, desc.Stage, format)
}

// CreateFramebuffer implements rhi.Native.
func (b *Backend) CreateFramebuffer(desc *rhi.NativeFramebufferDescriptor) (rhi.NativeObject, error) {
	if err := b.check(desc.Colors...); err != nil {
		return nil, err
	}
	if desc.Depth != nil {
		if err := b.check(desc.Depth); err != nil {
			return nil, err
		}
	}
	return b.newObject("CreateFramebuffer", "Framebuffer", desc.Label, len(desc.Colors))
}

// CreateBindingLayout implements rhi.Native.
func (b *Backend) CreateBindingLayout(desc *rhi.BindingLayoutDescriptor) (rhi.NativeObject, error) {
	return b.newObject("CreateBindingLayout", "BindingLayout", desc.Label, len(desc.Elements))
}

// CreateBindingSet implements rhi.Native.
func (b *Backend) CreateBindingSet(desc *rhi.NativeBindingSetDescriptor) (rhi.NativeObject, error) {
	objs := []rhi.NativeObject{desc.Layout}
	for _, r := range desc.Resources {
		objs = append(objs, r.Object)
	}
	if err := b.check(objs...); err != nil {
		return nil, err
	}
	return b.newObject("CreateBindingSet", "BindingSet", desc.Label, len(desc.Resources))
}

// CreatePipeline implements rhi.Native.
func (b *Backend) CreatePipeline(desc *rhi.NativePipelineDescriptor) (rhi.NativeObject, error) {
	objs := append([]rhi.NativeObject(nil), desc.Layouts...)
	for _, s := range desc.Shaders {
		objs = append(objs, s.Module)
	}
	if err := b.check(objs...); err != nil {
		return nil, err
	}
	return b.newObject("CreatePipeline", "Pipeline", desc.Label, desc.Compute, len(desc.Specializations))
}

// check verifies that every object is live.
func (b *Backend) check(objs ...rhi.NativeObject) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range objs {
		if _, err := b.use(n); err != nil {
			return err
		}
	}
	return nil
}

// Release implements rhi.Native.
func (b *Backend) Release(n rhi.NativeObject) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Release"); err != nil {
		return
	}
	o, err := b.use(n)
	if err != nil {
		b.violations = append(b.violations, "Release: "+err.Error())
		return
	}
	o.released = true
	o.data = nil
	b.record("Release", o)
}

// Encoder implements rhi.Native.
func (b *Backend) Encoder(label string) (rhi.Encoder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Encoder"); err != nil {
		return nil, err
	}
	return &Encoder{b: b, label: label}, nil
}

// Submit implements rhi.Native. It applies the encoder's buffer writes and
// appends its calls to the log.
func (b *Backend) Submit(enc rhi.Encoder) error {
	e, ok := enc.(*Encoder)
	if !ok || e.b != b {
		return fmt.Errorf("%w: encoder %T", ErrForeign, enc)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Submit"); err != nil {
		return err
	}
	if e.done {
		return fmt.Errorf("%w: encoder %q submitted twice", ErrState, e.label)
	}
	e.done = true
	for _, w := range e.writes {
		w()
	}
	b.calls = append(b.calls, e.calls...)
	b.lists = append(b.lists, e.label)
	b.record("Submit", e.label, len(e.calls))
	return nil
}

// WaitIdle implements rhi.Native.
func (b *Backend) WaitIdle() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("WaitIdle"); err != nil {
		return err
	}
	b.record("WaitIdle")
	return nil
}

// Close implements rhi.Native. It reports ErrLeaked if any object created
// by the backend was never released.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Close"); err != nil {
		return err
	}
	b.record("Close")
	b.closed = true
	if n := b.liveLocked(); n > 0 {
		return fmt.Errorf("%w: %d", ErrLeaked, n)
	}
	return nil
}

// MakeCurrent implements rhi.ContextBinder.
func (b *Backend) MakeCurrent() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.owner = threadID()
	b.current = true
	b.record("MakeCurrent")
	return nil
}

// ReleaseCurrent implements rhi.ContextBinder.
func (b *Backend) ReleaseCurrent() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("ReleaseCurrent"); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	b.current = false
	b.record("ReleaseCurrent")
	return nil
}

// Recover implements rhi.Recoverer.
func (b *Backend) Recover() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Recover"); err != nil {
		return err
	}
	b.recoveries++
	b.record("Recover")
	return nil
}

// FailNext makes the next call named op fail with err, or with
// ErrInjected if err is nil. op is a method name such as "Draw" or
// "Submit".
func (b *Backend) FailNext(op string, err error) {
	if err == nil {
		err = fmt.Errorf("%w: %s", ErrInjected, op)
	}
	b.mu.Lock()
	b.failures[op] = err
	b.mu.Unlock()
}

// Calls returns every call received so far, in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Ops returns the operation names of the calls recorded for the list with
// the given label, in order.
func (b *Backend) Ops(list string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ops []string
	for _, c := range b.calls {
		if c.List == list {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

// CallsOf returns the calls of the given operation, in order.
func (b *Backend) CallsOf(op string) []Call {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Call
	for _, c := range b.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Lists returns the labels of the submitted lists in submission order.
func (b *Backend) Lists() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lists...)
}

// Live returns the number of objects created and not yet released.
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.liveLocked()
}

func (b *Backend) liveLocked() int {
	n := 0
	for o := range b.objects {
		if !o.released && !o.surface {
			n++
		}
	}
	return n
}

// Violations returns the context affinity violations and invalid releases
// seen so far.
func (b *Backend) Violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.violations...)
}

// Recoveries returns the number of successful Recover calls.
func (b *Backend) Recoveries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recoveries
}

// BufferData returns a copy of the contents of a buffer created by this
// backend.
func (b *Backend) BufferData(n rhi.NativeObject) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.use(n)
	if err != nil {
		return nil, err
	}
	if o.Kind != "Buffer" {
		return nil, fmt.Errorf("%w: %v is not a buffer", ErrForeign, o)
	}
	return append([]byte(nil), o.data...), nil
}
