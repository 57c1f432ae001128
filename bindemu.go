package rhi

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// slotClass is a native slot namespace. Slot backends number uniform
// buffers, storage buffers, textures, storage textures and samplers
// independently.
type slotClass uint8

const (
	classUniform slotClass = iota
	classStorage
	classTexture
	classStorageTexture
	classSampler

	numSlotClasses
)

func classOf(k ResourceKind) slotClass {
	switch k {
	case ResourceUniformBuffer:
		return classUniform
	case ResourceStorageBuffer, ResourceReadOnlyStorageBuffer:
		return classStorage
	case ResourceTexture:
		return classTexture
	case ResourceStorageTexture:
		return classStorageTexture
	default:
		return classSampler
	}
}

// slotPlan maps every element of every binding layout of a pipeline to the
// native slot it occupies on a slot backend.
type slotPlan struct {
	// slots[set][element] is the native slot of the element.
	slots [][]uint32

	// counts holds the number of slots used per class.
	counts [numSlotClasses]uint32
}

// buildSlotPlan assigns native slots by walking the layouts in set index
// order and the elements in declaration order. Each class starts at slot 0.
func buildSlotPlan(layouts [][]BindingElement) *slotPlan {
	p := &slotPlan{slots: make([][]uint32, len(layouts))}
	for set, elements := range layouts {
		p.slots[set] = make([]uint32, len(elements))
		for i, e := range elements {
			c := classOf(e.Kind)
			p.slots[set][i] = p.counts[c]
			p.counts[c]++
		}
	}
	return p
}

// planCache caches slot plans per pipeline reference.
type planCache struct {
	plans *lru.Cache[Ref, *slotPlan]
}

func newPlanCache(size int) (*planCache, error) {
	c, err := lru.New[Ref, *slotPlan](size)
	if err != nil {
		return nil, fmt.Errorf("rhi: plan cache: %w", err)
	}
	return &planCache{plans: c}, nil
}

// get returns the plan of pipeline p, building it on first use.
func (c *planCache) get(p Ref, obj *pipelineObject) *slotPlan {
	if plan, ok := c.plans.Get(p); ok {
		return plan
	}
	plan := buildSlotPlan(obj.elements)
	c.plans.Add(p, plan)
	return plan
}

// forget drops the plan of a destroyed pipeline.
func (c *planCache) forget(p Ref) {
	c.plans.Remove(p)
}

func (c *planCache) len() int { return c.plans.Len() }

// boundSet is the replay-side state of one binding set index.
type boundSet struct {
	ref      Ref
	layout   BindingLayout
	offsets  []uint32
	elements []BindingElement
	members  []NativeBinding
	native   NativeObject
	dirty    bool
}

// same reports whether binding set with the given offsets is already bound.
func (b *boundSet) same(ref Ref, offsets []uint32) bool {
	if b.ref != ref || len(b.offsets) != len(offsets) {
		return false
	}
	for i := range offsets {
		if b.offsets[i] != offsets[i] {
			return false
		}
	}
	return true
}

// flushSlots issues the per-slot binds for every dirty set compatible with
// the current pipeline.
func flushSlots(sb SlotBinder, plan *slotPlan, layouts []BindingLayout, bound []boundSet) error {
	for idx := range bound {
		b := &bound[idx]
		if !b.dirty || b.ref.IsZero() {
			continue
		}
		if idx >= len(layouts) || layouts[idx] != b.layout {
			// Stays dirty until a pipeline declaring it is bound.
			continue
		}
		dyn := 0
		for j, e := range b.elements {
			slot := plan.slots[idx][j]
			m := b.members[j]
			offset := m.Offset
			if e.Dynamic {
				offset += uint64(b.offsets[dyn])
				dyn++
			}
			err := e.Stages.each(func(stage ShaderStages) error {
				switch {
				case e.Kind.isBuffer():
					return sb.BindBuffer(stage, slot, e.Kind, m.Object, offset, m.Size)
				case e.Kind == ResourceSampler:
					return sb.BindSampler(stage, slot, m.Object)
				default:
					return sb.BindTexture(stage, slot, e.Kind, m.Object)
				}
			})
			if err != nil {
				return err
			}
		}
		b.dirty = false
	}
	return nil
}
