// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// ErrNotInList is returned by Remove for objects the list does not hold.
var ErrNotInList = errors.New("render: renderable not in list")

// ErrListClosed is returned after Close.
var ErrListClosed = errors.New("render: list closed")

type item struct {
	r   Renderable
	z   int
	seq uint64
}

// List is a z-ordered collection of Renderables. Objects render in
// ascending z order; objects with equal z render in insertion order.
type List struct {
	dev    *rhi.Device
	format gputypes.TextureFormat
	items  []item
	seq    uint64
	frame  uint64
	width  uint32
	height uint32
	closed bool

	unsubscribe func()

	mu      sync.Mutex
	resized *rhi.ResizeEvent
}

// NewList creates a list that renders into width x height color targets of
// the device's surface format, or RGBA8 without a surface. The list follows
// main surface resizes.
func NewList(dev *rhi.Device, width, height uint32) *List {
	l := &List{dev: dev, width: width, height: height, format: gputypes.TextureFormatRGBA8Unorm}
	if s := dev.Config().Surface; s != nil {
		l.format = s.Format()
	}
	l.unsubscribe = dev.OnResize(func(ev rhi.ResizeEvent) {
		l.mu.Lock()
		l.resized = &ev
		l.mu.Unlock()
	})
	return l
}

// Format returns the color format Renderables are created for.
func (l *List) Format() gputypes.TextureFormat { return l.format }

// Len returns the number of Renderables in the list.
func (l *List) Len() int { return len(l.items) }

// Add creates r's resources and inserts it at depth z.
func (l *List) Add(r Renderable, z int) error {
	if l.closed {
		return ErrListClosed
	}
	if err := r.CreateResources(l.dev, l.format); err != nil {
		return fmt.Errorf("render: creating resources: %w", err)
	}
	if rs, ok := r.(Resizer); ok {
		rs.Resize(l.width, l.height)
	}

	l.seq++
	it := item{r: r, z: z, seq: l.seq}
	i, _ := slices.BinarySearchFunc(l.items, it, compareItems)
	l.items = slices.Insert(l.items, i, it)
	return nil
}

func compareItems(a, b item) int {
	if c := cmp.Compare(a.z, b.z); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// Remove destroys r's resources and removes it from the list.
func (l *List) Remove(r Renderable) error {
	i := slices.IndexFunc(l.items, func(it item) bool { return it.r == r })
	if i < 0 {
		return ErrNotInList
	}
	l.items = slices.Delete(l.items, i, i+1)
	return r.DestroyResources(l.dev)
}

// Frame updates every Renderable and records them into one entry list
// targeting fb. A non-nil clear clears color target 0 first.
func (l *List) Frame(fb rhi.Framebuffer, clear *gputypes.Color, delta time.Duration) (*rhi.EntryList, error) {
	if l.closed {
		return nil, ErrListClosed
	}
	l.applyResize()
	l.frame++

	info := FrameInfo{Index: l.frame, Delta: delta, Width: l.width, Height: l.height, Format: l.format}
	for _, it := range l.items {
		if err := it.r.UpdatePerFrame(info); err != nil {
			return nil, fmt.Errorf("render: frame %d update: %w", l.frame, err)
		}
	}

	rec := l.dev.NewRecorder()
	if err := rec.Begin(fmt.Sprintf("frame %d", l.frame)); err != nil {
		return nil, err
	}
	rec.SetFramebuffer(fb)
	rec.SetFullViewport(0)
	if clear != nil {
		rec.ClearColorTarget(0, *clear)
	}
	for _, it := range l.items {
		if err := it.r.Render(rec); err != nil {
			if partial, endErr := rec.End(); endErr == nil {
				_ = partial.Release()
			}
			return nil, fmt.Errorf("render: frame %d: %w", l.frame, err)
		}
	}
	return rec.End()
}

func (l *List) applyResize() {
	l.mu.Lock()
	ev := l.resized
	l.resized = nil
	l.mu.Unlock()

	if ev == nil {
		return
	}
	l.width, l.height = ev.Width, ev.Height
	for _, it := range l.items {
		if rs, ok := it.r.(Resizer); ok {
			rs.Resize(ev.Width, ev.Height)
		}
	}
}

// Close destroys every Renderable in reverse z order and stops following
// resizes.
func (l *List) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.unsubscribe()

	var errs []error
	for i := len(l.items) - 1; i >= 0; i-- {
		if err := l.items[i].r.DestroyResources(l.dev); err != nil {
			errs = append(errs, err)
		}
	}
	l.items = nil
	return errors.Join(errs...)
}
