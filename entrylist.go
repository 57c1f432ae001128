package rhi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ListState is the state of an entry list.
type ListState uint32

const (
	ListRecording ListState = iota
	ListSealed
	ListSubmitted
	ListReplaying
	ListCompleted
	ListFaulted
	ListReleased
)

var listStateNames = [...]string{
	ListRecording: "Recording",
	ListSealed:    "Sealed",
	ListSubmitted: "Submitted",
	ListReplaying: "Replaying",
	ListCompleted: "Completed",
	ListFaulted:   "Faulted",
	ListReleased:  "Released",
}

// String returns the string representation of a ListState.
func (s ListState) String() string {
	if int(s) < len(listStateNames) {
		return listStateNames[s]
	}
	return "Unknown"
}

// EntryList is an ordered sequence of entries produced by a Recorder and
// submitted to a device as one unit.
//
// An EntryList is sealed by Recorder.End and may be submitted once. Its
// accessors are safe for concurrent use.
type EntryList struct {
	id      uint64
	label   string
	entries []Entry
	arena   inlineArena
	blocks  []*stagingBlock

	state atomic.Uint32
	done  chan struct{}

	mu    sync.Mutex
	err   error
	stale []Diagnostic
}

func newEntryList(id uint64, label string) *EntryList {
	return &EntryList{
		id:      id,
		label:   label,
		entries: make([]Entry, 0, 32),
		done:    make(chan struct{}),
	}
}

// ID returns the device-unique list ID used in diagnostics.
func (l *EntryList) ID() uint64 { return l.id }

// Label returns the label passed to Recorder.Begin.
func (l *EntryList) Label() string { return l.label }

// Len returns the number of entries.
func (l *EntryList) Len() int { return len(l.entries) }

// Entries returns the recorded entries in order. The slice must not be
// modified.
func (l *EntryList) Entries() []Entry { return l.entries }

// InlineBytes returns the payload bytes held in the list's inline arena.
func (l *EntryList) InlineBytes() int { return l.arena.bytes() }

// State returns the current state.
func (l *EntryList) State() ListState { return ListState(l.state.Load()) }

// Done returns a channel closed when the list has completed or faulted.
func (l *EntryList) Done() <-chan struct{} { return l.done }

// Wait blocks until the list has completed or faulted and returns its
// fault, or until ctx is done.
func (l *EntryList) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the fault that stopped the list, or nil.
func (l *EntryList) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stale returns the stale-reference diagnostics recorded during replay.
func (l *EntryList) Stale() []Diagnostic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Diagnostic, len(l.stale))
	copy(out, l.stale)
	return out
}

func (l *EntryList) append(e Entry) {
	l.entries = append(l.entries, e)
}

// transition moves the list from one state to another.
func (l *EntryList) transition(from, to ListState) bool {
	return l.state.CompareAndSwap(uint32(from), uint32(to))
}

func (l *EntryList) addStale(d Diagnostic) {
	l.mu.Lock()
	l.stale = append(l.stale, d)
	l.mu.Unlock()
}

// finish moves the list to its final state, releases its staging blocks and
// wakes waiters. err is nil for a completed list.
func (l *EntryList) finish(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()

	l.releasePayloads()
	if err != nil {
		l.state.Store(uint32(ListFaulted))
	} else {
		l.state.Store(uint32(ListCompleted))
	}
	close(l.done)
}

// Release discards a sealed list that will not be submitted and returns
// its staging blocks to the device pool. Waiters see ErrListReleased.
// Releasing a list that was submitted or is still recording fails.
func (l *EntryList) Release() error {
	if !l.transition(ListSealed, ListReleased) {
		switch st := l.State(); st {
		case ListRecording:
			return fmt.Errorf("%w: list %d is still recording", ErrNotRecording, l.id)
		case ListReleased:
			return fmt.Errorf("%w: list %d", ErrListReleased, l.id)
		default:
			return fmt.Errorf("%w: list %d is %v", ErrListSubmitted, l.id, st)
		}
	}
	l.mu.Lock()
	l.err = ErrListReleased
	l.mu.Unlock()

	l.releasePayloads()
	close(l.done)
	return nil
}

// releasePayloads returns the list's staging blocks to the pool.
func (l *EntryList) releasePayloads() {
	for _, b := range l.blocks {
		b.release()
	}
	l.blocks = nil
	l.arena.reset()
}
