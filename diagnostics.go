package rhi

import (
	"fmt"
	"slices"
	"sync"
)

// DiagnosticKind distinguishes replay diagnostics.
type DiagnosticKind uint8

const (
	// DiagnosticStale reports an entry skipped because a reference it
	// carries no longer resolves.
	DiagnosticStale DiagnosticKind = iota + 1

	// DiagnosticFault reports a device fault.
	DiagnosticFault
)

// String returns the string representation of a DiagnosticKind.
func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticStale:
		return "Stale"
	case DiagnosticFault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// Diagnostic is a replay-time event delivered to OnDiagnostic observers.
type Diagnostic struct {
	Kind DiagnosticKind

	// List and Label identify the entry list.
	List  uint64
	Label string

	// Entry is the index of the entry within the list, or -1.
	Entry int
	Op    Op

	// Ref is the reference that failed to resolve, for stale diagnostics.
	Ref Ref

	// Err is the *FaultError for fault diagnostics.
	Err error
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case DiagnosticStale:
		return fmt.Sprintf("stale %v in list %d entry %d (%s)", d.Ref, d.List, d.Entry, d.Op)
	case DiagnosticFault:
		return fmt.Sprintf("fault in list %d: %v", d.List, d.Err)
	default:
		return "unknown diagnostic"
	}
}

// ResizeEvent is delivered to OnResize observers after the main surface
// has been resized.
type ResizeEvent struct {
	Width, Height uint32
}

// observers is a registry of callbacks. Callbacks run outside the lock on
// the goroutine that triggers the notification.
type observers[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

// add registers fn and returns a function that unregisters it. The
// returned function may be called more than once.
func (o *observers[T]) add(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[uint64]func(T))
	}
	o.next++
	id := o.next
	o.fns[id] = fn

	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

// notify calls every registered callback in registration order.
func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	if len(o.fns) == 0 {
		o.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}
