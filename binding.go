package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// ResourceKind is the kind of resource a binding element accepts.
type ResourceKind uint8

const (
	ResourceUniformBuffer ResourceKind = iota + 1
	ResourceStorageBuffer
	ResourceReadOnlyStorageBuffer
	ResourceTexture
	ResourceStorageTexture
	ResourceSampler
)

var resourceKindNames = [...]string{
	ResourceUniformBuffer:         "UniformBuffer",
	ResourceStorageBuffer:         "StorageBuffer",
	ResourceReadOnlyStorageBuffer: "ReadOnlyStorageBuffer",
	ResourceTexture:               "Texture",
	ResourceStorageTexture:        "StorageTexture",
	ResourceSampler:               "Sampler",
}

// String returns the string representation of a ResourceKind.
func (k ResourceKind) String() string {
	if k > 0 && int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", uint8(k))
}

// tableKind returns the table kind a resource of this kind must have.
func (k ResourceKind) tableKind() Kind {
	switch k {
	case ResourceUniformBuffer, ResourceStorageBuffer, ResourceReadOnlyStorageBuffer:
		return KindBuffer
	case ResourceTexture, ResourceStorageTexture:
		return KindTexture
	case ResourceSampler:
		return KindSampler
	default:
		return KindInvalid
	}
}

// isBuffer reports whether k binds a buffer.
func (k ResourceKind) isBuffer() bool { return k.tableKind() == KindBuffer }

// BindingElement describes one shader-visible resource of a binding layout.
type BindingElement struct {
	// Name is a debug name.
	Name string

	// Slot is the binding index within the set. Slots must be unique
	// within a layout.
	Slot uint32

	Kind   ResourceKind
	Stages ShaderStages

	// Dynamic buffer elements take a dynamic offset at bind time.
	Dynamic bool
}

// BindingLayoutDescriptor describes a binding layout.
type BindingLayoutDescriptor struct {
	Label    string
	Elements []BindingElement
}

func (d *BindingLayoutDescriptor) validate() error {
	if len(d.Elements) == 0 {
		return fmt.Errorf("%w: binding layout %q has no elements", ErrInvalidDescriptor, d.Label)
	}
	seen := make(map[uint32]int, len(d.Elements))
	for i, e := range d.Elements {
		if j, dup := seen[e.Slot]; dup {
			return fmt.Errorf("%w: slot %d used by elements %d and %d of %q", ErrDuplicateSlot, e.Slot, j, i, d.Label)
		}
		seen[e.Slot] = i
		if e.Stages == StageNone {
			return fmt.Errorf("%w: element %d (%s) of %q", ErrEmptyStageMask, i, e.Name, d.Label)
		}
		if e.Kind.tableKind() == KindInvalid {
			return fmt.Errorf("%w: element %d of %q has kind %v", ErrInvalidDescriptor, i, d.Label, e.Kind)
		}
		if e.Dynamic && !e.Kind.isBuffer() {
			return fmt.Errorf("%w: element %d of %q is dynamic but binds a %v", ErrInvalidDescriptor, i, d.Label, e.Kind)
		}
	}
	return nil
}

// BufferRange binds part of a buffer. Size 0 binds the rest of the buffer.
type BufferRange struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
}

func (r BufferRange) ref() Ref { return r.Buffer.Ref }

// BindingSetDescriptor describes a binding set: one resource per layout
// element, in element order. Resources are Buffer, BufferRange, Texture or
// Sampler values.
type BindingSetDescriptor struct {
	Label     string
	Layout    BindingLayout
	Resources []BindingResource
}

type bindingLayoutObject struct {
	native   NativeObject
	label    string
	elements []BindingElement
	dynamic  int
}

func (o *bindingLayoutObject) nativeObject() NativeObject { return o.native }

// setMember is one resolved-at-creation member of a binding set.
type setMember struct {
	ref    Ref
	offset uint64
	size   uint64
}

type bindingSetObject struct {
	native  NativeObject
	label   string
	layout  BindingLayout
	layoutO *bindingLayoutObject
	members []setMember
}

func (o *bindingSetObject) nativeObject() NativeObject { return o.native }

// checkMember validates one binding set member against its layout element.
// obj is the resolved table object of res.
func checkMember(i int, e BindingElement, res BindingResource, obj object) error {
	ref := res.ref()
	if ref.Kind != e.Kind.tableKind() {
		return fmt.Errorf("%w: element %d (%s) wants %v, got %v", ErrBindingMismatch, i, e.Name, e.Kind, ref.Kind)
	}
	if _, isRange := res.(BufferRange); isRange && !e.Kind.isBuffer() {
		return fmt.Errorf("%w: element %d (%s) wants %v, got a buffer range", ErrBindingMismatch, i, e.Name, e.Kind)
	}

	switch o := obj.(type) {
	case *bufferObject:
		var want gputypes.BufferUsage
		switch e.Kind {
		case ResourceUniformBuffer:
			want = gputypes.BufferUsageUniform
		default:
			want = gputypes.BufferUsageStorage
		}
		if o.desc.Usage&want == 0 {
			return fmt.Errorf("%w: element %d (%s) needs a buffer with %v usage", ErrBindingMismatch, i, e.Name, e.Kind)
		}
		if r, isRange := res.(BufferRange); isRange && !rangeFits(r.Offset, r.Size, o.desc.Size) {
			return fmt.Errorf("%w: element %d (%s) range [%d,+%d) exceeds buffer size %d",
				ErrBindingMismatch, i, e.Name, r.Offset, r.Size, o.desc.Size)
		}
	case *textureObject:
		want := gputypes.TextureUsageTextureBinding
		if e.Kind == ResourceStorageTexture {
			want = gputypes.TextureUsageStorageBinding
		}
		if o.desc.Usage&want == 0 {
			return fmt.Errorf("%w: element %d (%s) needs a texture with %v usage", ErrBindingMismatch, i, e.Name, e.Kind)
		}
	}
	return nil
}

// member converts a binding resource to its stored form.
func member(res BindingResource) setMember {
	if r, ok := res.(BufferRange); ok {
		return setMember{ref: r.Buffer.Ref, offset: r.Offset, size: r.Size}
	}
	return setMember{ref: res.ref()}
}
