package rhi

import (
	"fmt"
	"slices"
	"testing"
)

func TestBuildSlotPlan(t *testing.T) {
	uniform := BindingElement{Kind: ResourceUniformBuffer, Stages: StageVertex}
	storage := BindingElement{Kind: ResourceStorageBuffer, Stages: StageCompute}
	readOnly := BindingElement{Kind: ResourceReadOnlyStorageBuffer, Stages: StageCompute}
	texture := BindingElement{Kind: ResourceTexture, Stages: StageFragment}
	image := BindingElement{Kind: ResourceStorageTexture, Stages: StageCompute}
	sampler := BindingElement{Kind: ResourceSampler, Stages: StageFragment}

	tests := []struct {
		name    string
		layouts [][]BindingElement
		slots   [][]uint32
		counts  [numSlotClasses]uint32
	}{
		{
			name:    "empty",
			layouts: nil,
			slots:   [][]uint32{},
		},
		{
			name:    "one of each class",
			layouts: [][]BindingElement{{uniform, storage, texture, image, sampler}},
			slots:   [][]uint32{{0, 0, 0, 0, 0}},
			counts:  [numSlotClasses]uint32{1, 1, 1, 1, 1},
		},
		{
			name:    "classes count independently within a set",
			layouts: [][]BindingElement{{uniform, texture, uniform, sampler, texture}},
			slots:   [][]uint32{{0, 0, 1, 0, 1}},
			counts:  [numSlotClasses]uint32{classUniform: 2, classTexture: 2, classSampler: 1},
		},
		{
			name: "numbering continues across sets",
			layouts: [][]BindingElement{
				{uniform, texture, sampler},
				{uniform, texture},
				{sampler, uniform},
			},
			slots:  [][]uint32{{0, 0, 0}, {1, 1}, {1, 2}},
			counts: [numSlotClasses]uint32{classUniform: 3, classTexture: 2, classSampler: 2},
		},
		{
			name:    "read-only storage shares the storage class",
			layouts: [][]BindingElement{{storage}, {readOnly, storage}},
			slots:   [][]uint32{{0}, {1, 2}},
			counts:  [numSlotClasses]uint32{classStorage: 3},
		},
		{
			name:    "empty set keeps its index",
			layouts: [][]BindingElement{{uniform}, {}, {uniform}},
			slots:   [][]uint32{{0}, {}, {1}},
			counts:  [numSlotClasses]uint32{classUniform: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildSlotPlan(tt.layouts)
			if !slices.EqualFunc(p.slots, tt.slots, slices.Equal[[]uint32]) {
				t.Errorf("slots = %v, want %v", p.slots, tt.slots)
			}
			if p.counts != tt.counts {
				t.Errorf("counts = %v, want %v", p.counts, tt.counts)
			}
		})
	}
}

func TestBoundSetSame(t *testing.T) {
	set := Ref{Handle: 4, Gen: 1, Kind: KindBindingSet}
	b := boundSet{ref: set, offsets: []uint32{256, 512}}

	tests := []struct {
		name    string
		ref     Ref
		offsets []uint32
		want    bool
	}{
		{"identical", set, []uint32{256, 512}, true},
		{"other generation", Ref{Handle: 4, Gen: 2, Kind: KindBindingSet}, []uint32{256, 512}, false},
		{"other offset", set, []uint32{256, 0}, false},
		{"fewer offsets", set, []uint32{256}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.same(tt.ref, tt.offsets); got != tt.want {
				t.Errorf("same(%v, %v) = %v, want %v", tt.ref, tt.offsets, got, tt.want)
			}
		})
	}
}

// slotLog records SlotBinder calls as strings.
type slotLog struct{ calls []string }

func (l *slotLog) BindBuffer(stage ShaderStages, slot uint32, kind ResourceKind, buf NativeObject, offset, size uint64) error {
	l.calls = append(l.calls, fmt.Sprintf("buffer %v %d %v %v +%d:%d", stage, slot, kind, buf, offset, size))
	return nil
}

func (l *slotLog) BindTexture(stage ShaderStages, slot uint32, kind ResourceKind, tex NativeObject) error {
	l.calls = append(l.calls, fmt.Sprintf("texture %v %d %v %v", stage, slot, kind, tex))
	return nil
}

func (l *slotLog) BindSampler(stage ShaderStages, slot uint32, smp NativeObject) error {
	l.calls = append(l.calls, fmt.Sprintf("sampler %v %d %v", stage, slot, smp))
	return nil
}

func TestFlushSlots(t *testing.T) {
	layoutA := BindingLayout{Ref{Handle: 1, Kind: KindBindingLayout}}
	layoutB := BindingLayout{Ref{Handle: 2, Kind: KindBindingLayout}}
	elementsA := []BindingElement{
		{Kind: ResourceUniformBuffer, Stages: StageVertex | StageFragment, Dynamic: true},
		{Kind: ResourceTexture, Stages: StageFragment},
		{Kind: ResourceSampler, Stages: StageFragment},
	}
	elementsB := []BindingElement{
		{Kind: ResourceStorageBuffer, Stages: StageFragment},
	}
	plan := buildSlotPlan([][]BindingElement{elementsA, elementsB})

	newBound := func() []boundSet {
		return []boundSet{
			{
				ref:      Ref{Handle: 10, Kind: KindBindingSet},
				layout:   layoutA,
				offsets:  []uint32{256},
				elements: elementsA,
				members: []NativeBinding{
					{Object: "ubo", Offset: 16, Size: 64},
					{Object: "tex"},
					{Object: "smp"},
				},
				dirty: true,
			},
			{
				ref:      Ref{Handle: 11, Kind: KindBindingSet},
				layout:   layoutB,
				elements: elementsB,
				members:  []NativeBinding{{Object: "ssbo", Size: 32}},
				dirty:    true,
			},
		}
	}

	t.Run("binds every stage with dynamic offsets", func(t *testing.T) {
		var log slotLog
		bound := newBound()
		if err := flushSlots(&log, plan, []BindingLayout{layoutA, layoutB}, bound); err != nil {
			t.Fatal(err)
		}
		want := []string{
			fmt.Sprintf("buffer %v 0 %v ubo +272:64", StageVertex, ResourceUniformBuffer),
			fmt.Sprintf("buffer %v 0 %v ubo +272:64", StageFragment, ResourceUniformBuffer),
			fmt.Sprintf("texture %v 0 %v tex", StageFragment, ResourceTexture),
			fmt.Sprintf("sampler %v 0 smp", StageFragment),
			fmt.Sprintf("buffer %v 0 %v ssbo +0:32", StageFragment, ResourceStorageBuffer),
		}
		if !slices.Equal(log.calls, want) {
			t.Errorf("calls =\n%v\nwant\n%v", log.calls, want)
		}
		if bound[0].dirty || bound[1].dirty {
			t.Error("flushed sets still dirty")
		}

		log.calls = nil
		if err := flushSlots(&log, plan, []BindingLayout{layoutA, layoutB}, bound); err != nil {
			t.Fatal(err)
		}
		if len(log.calls) != 0 {
			t.Errorf("clean sets rebound: %v", log.calls)
		}
	})

	t.Run("incompatible layouts stay dirty", func(t *testing.T) {
		var log slotLog
		bound := newBound()
		// The pipeline declares layout B at index 0 and nothing at index 1.
		if err := flushSlots(&log, plan, []BindingLayout{layoutB}, bound); err != nil {
			t.Fatal(err)
		}
		if len(log.calls) != 0 {
			t.Errorf("incompatible sets bound: %v", log.calls)
		}
		if !bound[0].dirty || !bound[1].dirty {
			t.Error("incompatible sets marked clean")
		}
	})
}
