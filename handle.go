package rhi

import "fmt"

// Handle identifies a slot in a device's resource table.
// Handle 0 is never allocated, so the zero Ref is always invalid.
type Handle uint32

// Generation counts how many times a table slot has been destroyed.
// A slot reused after destruction always carries a greater generation.
type Generation uint32

// Kind identifies the type of object a table slot holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBuffer
	KindTexture
	KindSampler
	KindShader
	KindFramebuffer
	KindPipeline
	KindBindingLayout
	KindBindingSet
)

var kindNames = [...]string{
	KindInvalid:       "Invalid",
	KindBuffer:        "Buffer",
	KindTexture:       "Texture",
	KindSampler:       "Sampler",
	KindShader:        "Shader",
	KindFramebuffer:   "Framebuffer",
	KindPipeline:      "Pipeline",
	KindBindingLayout: "BindingLayout",
	KindBindingSet:    "BindingSet",
}

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Ref is a tracked reference: a handle plus the generation it was captured
// at. A Ref resolves to its object only while the slot's generation still
// matches; afterwards it resolves as stale.
//
// Refs are plain values and never keep a resource alive.
type Ref struct {
	Handle Handle
	Gen    Generation
	Kind   Kind
}

// IsZero reports whether r is the zero reference.
func (r Ref) IsZero() bool { return r.Handle == 0 }

// String returns a compact form such as "Buffer#3@1".
func (r Ref) String() string {
	if r.IsZero() {
		return "nil"
	}
	return fmt.Sprintf("%s#%d@%d", r.Kind, r.Handle, r.Gen)
}

// Typed references returned by the device factory calls. They embed Ref so
// they can be compared, printed and passed where a generic Ref is needed.
type (
	// Buffer references a GPU buffer.
	Buffer struct{ Ref }

	// Texture references a GPU texture.
	Texture struct{ Ref }

	// Sampler references a texture sampler.
	Sampler struct{ Ref }

	// Shader references a compiled shader module.
	Shader struct{ Ref }

	// Framebuffer references a set of color and depth targets.
	Framebuffer struct{ Ref }

	// Pipeline references a cached pipeline state object.
	Pipeline struct{ Ref }

	// BindingLayout references an immutable binding layout.
	BindingLayout struct{ Ref }

	// BindingSet references an immutable binding set.
	BindingSet struct{ Ref }
)

// BindingResource is implemented by the typed references that can appear
// in a binding set.
type BindingResource interface {
	ref() Ref
}

func (b Buffer) ref() Ref  { return b.Ref }
func (t Texture) ref() Ref { return t.Ref }
func (s Sampler) ref() Ref { return s.Ref }
