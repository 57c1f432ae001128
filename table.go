package rhi

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotReserved
	slotLive
	slotRetiring
)

// slot is one entry of the resource table.
type slot struct {
	gen   Generation
	kind  Kind
	state slotState
	seq   uint64 // creation order, used for teardown
	obj   object
}

// object is implemented by every resource kept in the table.
type object interface {
	nativeObject() NativeObject
}

// table owns every resource object of a device.
//
// Handles are indices into slots; slot 0 is never used. Destroying a resource
// bumps its generation at once and parks the object as retiring until the
// destroy fence runs, after which the slot is recycled.
//
// table is safe for concurrent use.
type table struct {
	mu    sync.RWMutex
	slots []slot
	free  []Handle
	max   int
	seq   uint64

	live     int
	retiring int
}

// TableStats reports the occupancy of a device's resource table.
type TableStats struct {
	Live     int
	Retiring int
	Free     int
	Capacity int
}

func newTable(capacity int) *table {
	return &table{
		slots: make([]slot, 1, 64),
		max:   capacity,
	}
}

// reserve allocates a slot for an object that is about to be created.
// The slot resolves as invalid until fill is called.
func (t *table) reserve(kind Kind) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		s := &t.slots[h]
		s.kind = kind
		s.state = slotReserved
		return h, nil
	}

	if len(t.slots)-1 >= t.max {
		return 0, fmt.Errorf("%w: %d resources", ErrTableFull, t.max)
	}
	t.slots = append(t.slots, slot{kind: kind, state: slotReserved})
	return Handle(len(t.slots) - 1), nil //nolint:gosec // bounded by Config.MaxResources
}

// fill publishes obj in a reserved slot and returns its reference.
func (t *table) fill(h Handle, obj object) Ref {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.slots[h]
	t.seq++
	s.seq = t.seq
	s.obj = obj
	s.state = slotLive
	t.live++
	return Ref{Handle: h, Gen: s.gen, Kind: s.kind}
}

// abandon returns a reserved slot whose object could not be created.
func (t *table) abandon(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.slots[h]
	s.state = slotFree
	s.kind = KindInvalid
	t.free = append(t.free, h)
}

// insert reserves a slot and fills it in one step.
func (t *table) insert(kind Kind, obj object) (Ref, error) {
	h, err := t.reserve(kind)
	if err != nil {
		return Ref{}, err
	}
	return t.fill(h, obj), nil
}

// resolve returns the live object named by ref.
func (t *table) resolve(ref Ref) (object, error) {
	if ref.IsZero() {
		return nil, ErrInvalidHandle
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(ref.Handle) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, ref)
	}
	s := &t.slots[ref.Handle]
	if s.gen != ref.Gen || s.state != slotLive {
		if s.gen > ref.Gen || s.state == slotRetiring {
			return nil, fmt.Errorf("%w: %v", ErrStale, ref)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, ref)
	}
	if s.kind != ref.Kind {
		return nil, fmt.Errorf("%w: %v is a %v", ErrWrongKind, ref, s.kind)
	}
	return s.obj, nil
}

// isLive reports whether ref currently resolves.
func (t *table) isLive(ref Ref) bool {
	_, err := t.resolve(ref)
	return err == nil
}

// retire invalidates ref and returns the object that must be released once
// the destroy fence has passed. The generation is bumped immediately.
func (t *table) retire(ref Ref) (object, error) {
	if ref.IsZero() {
		return nil, ErrInvalidHandle
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if int(ref.Handle) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, ref)
	}
	s := &t.slots[ref.Handle]
	if s.state != slotLive || s.gen != ref.Gen {
		if s.gen > ref.Gen || s.state == slotRetiring {
			return nil, fmt.Errorf("%w: %v", ErrStale, ref)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, ref)
	}
	if s.kind != ref.Kind {
		return nil, fmt.Errorf("%w: %v is a %v", ErrWrongKind, ref, s.kind)
	}

	s.gen++
	s.state = slotRetiring
	t.live--
	t.retiring++
	return s.obj, nil
}

// reclaim returns a retiring slot to the free list. It is the second half of
// a destroy and runs when the destroy fence passes.
func (t *table) reclaim(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.slots[h]
	if s.state != slotRetiring {
		return
	}
	s.obj = nil
	s.state = slotFree
	t.retiring--

	// A slot whose generation cannot grow any further is never reused.
	if s.gen == math.MaxUint32 {
		return
	}
	t.free = append(t.free, h)
}

// drain retires every live object and returns all objects still holding
// native handles, newest first. Used when the device is closed.
func (t *table) drain() []object {
	t.mu.Lock()
	defer t.mu.Unlock()

	type pending struct {
		seq uint64
		obj object
	}
	var all []pending
	for h := 1; h < len(t.slots); h++ {
		s := &t.slots[h]
		if s.state != slotLive && s.state != slotRetiring {
			continue
		}
		all = append(all, pending{seq: s.seq, obj: s.obj})
		if s.state == slotLive {
			s.gen++
		}
		s.obj = nil
		s.state = slotFree
	}
	t.live = 0
	t.retiring = 0

	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	objs := make([]object, len(all))
	for i, p := range all {
		objs[i] = p.obj
	}
	return objs
}

// stats returns the current occupancy.
func (t *table) stats() TableStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TableStats{
		Live:     t.live,
		Retiring: t.retiring,
		Free:     len(t.free),
		Capacity: t.max,
	}
}
