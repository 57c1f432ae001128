// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/trace"
)

// probe is a Renderable that logs its callbacks.
type probe struct {
	name    string
	log     *[]string
	last    FrameInfo
	resized [2]uint32
	failOn  string
}

func (p *probe) note(what string) error {
	*p.log = append(*p.log, p.name+"."+what)
	if what == p.failOn {
		return errors.New(p.name + " failed " + what)
	}
	return nil
}

func (p *probe) CreateResources(*rhi.Device, gputypes.TextureFormat) error { return p.note("create") }
func (p *probe) DestroyResources(*rhi.Device) error                      { return p.note("destroy") }
func (p *probe) Render(*rhi.Recorder) error                              { return p.note("render") }
func (p *probe) Resize(w, h uint32)                                      { p.resized = [2]uint32{w, h} }

func (p *probe) UpdatePerFrame(f FrameInfo) error {
	p.last = f
	return p.note("update")
}

func newDevice(t *testing.T, tb *trace.Backend, opts ...rhi.Option) *rhi.Device {
	t.Helper()
	dev, err := rhi.NewDevice(tb, opts...)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(func() {
		if err := dev.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return dev
}

func offscreen(t *testing.T, dev *rhi.Device, w, h uint32) rhi.Framebuffer {
	t.Helper()
	tex, err := dev.CreateTexture(&rhi.TextureDescriptor{
		Label: "target", Width: w, Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment,
	})
	if err != nil {
		t.Fatal(err)
	}
	fb, err := dev.CreateFramebuffer(&rhi.FramebufferDescriptor{Label: "target", ColorTargets: []rhi.Texture{tex}})
	if err != nil {
		t.Fatal(err)
	}
	return fb
}

func TestListOrder(t *testing.T) {
	dev := newDevice(t, trace.New())
	list := NewList(dev, 64, 64)
	fb := offscreen(t, dev, 64, 64)

	var log []string
	for _, p := range []struct {
		name string
		z    int
	}{{"c", 2}, {"a", 0}, {"b1", 1}, {"b2", 1}} {
		if err := list.Add(&probe{name: p.name, log: &log}, p.z); err != nil {
			t.Fatal(err)
		}
	}
	log = nil

	if _, err := list.Frame(fb, nil, time.Millisecond); err != nil {
		t.Fatalf("Frame: %v", err)
	}
	var renders []string
	for _, l := range log {
		if name, ok := strings.CutSuffix(l, ".render"); ok {
			renders = append(renders, name)
		}
	}
	if want := []string{"a", "b1", "b2", "c"}; !slices.Equal(renders, want) {
		t.Errorf("render order = %v, want %v", renders, want)
	}

	log = nil
	if err := list.Close(); err != nil {
		t.Fatal(err)
	}
	want := []string{"c.destroy", "b2.destroy", "b1.destroy", "a.destroy"}
	if !slices.Equal(log, want) {
		t.Errorf("Close order = %v, want %v", log, want)
	}
}

func TestListLifecycle(t *testing.T) {
	dev := newDevice(t, trace.New())
	list := NewList(dev, 32, 32)
	fb := offscreen(t, dev, 32, 32)

	var log []string
	bad := &probe{name: "bad", log: &log, failOn: "create"}
	if err := list.Add(bad, 0); err == nil {
		t.Fatal("Add succeeded although CreateResources failed")
	}
	if list.Len() != 0 {
		t.Errorf("Len() = %d after failed Add, want 0", list.Len())
	}

	p := &probe{name: "p", log: &log}
	if err := list.Add(p, 0); err != nil {
		t.Fatal(err)
	}
	if p.resized != [2]uint32{32, 32} {
		t.Errorf("Resize on Add = %v, want [32 32]", p.resized)
	}
	if _, err := list.Frame(fb, nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := list.Frame(fb, nil, 0); err != nil {
		t.Fatal(err)
	}
	if p.last.Index != 2 {
		t.Errorf("FrameInfo.Index = %d, want 2", p.last.Index)
	}

	if err := list.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := list.Remove(p); !errors.Is(err, ErrNotInList) {
		t.Errorf("second Remove = %v, want ErrNotInList", err)
	}

	failing := &probe{name: "f", log: &log, failOn: "render"}
	if err := list.Add(failing, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := list.Frame(fb, nil, 0); err == nil {
		t.Error("Frame succeeded although Render failed")
	}

	if err := list.Close(); err != nil {
		t.Fatal(err)
	}
	if err := list.Add(p, 0); !errors.Is(err, ErrListClosed) {
		t.Errorf("Add after Close = %v, want ErrListClosed", err)
	}
	if _, err := list.Frame(fb, nil, 0); !errors.Is(err, ErrListClosed) {
		t.Errorf("Frame after Close = %v, want ErrListClosed", err)
	}
}

func TestListFollowsResize(t *testing.T) {
	tb := trace.New()
	surf := tb.NewSurface(100, 50, gputypes.TextureFormatBGRA8Unorm)
	dev := newDevice(t, tb, rhi.WithSurface(surf))
	list := NewList(dev, 100, 50)
	defer list.Close()

	if list.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v, want the surface format", list.Format())
	}

	var log []string
	p := &probe{name: "p", log: &log}
	if err := list.Add(p, 0); err != nil {
		t.Fatal(err)
	}
	if err := dev.ResizeMainSurface(200, 80); err != nil {
		t.Fatal(err)
	}
	if _, err := list.Frame(dev.MainFramebuffer(), nil, 0); err != nil {
		t.Fatal(err)
	}
	if p.resized != [2]uint32{200, 80} {
		t.Errorf("Resize = %v, want [200 80]", p.resized)
	}
	if p.last.Width != 200 || p.last.Height != 80 {
		t.Errorf("FrameInfo extent = %dx%d, want 200x80", p.last.Width, p.last.Height)
	}
}

func TestTriangleAndMesh(t *testing.T) {
	tb := trace.New()
	dev := newDevice(t, tb)
	list := NewList(dev, 64, 64)
	fb := offscreen(t, dev, 64, 64)

	tri := &Triangle{
		Label: "tri",
		Animate: func(f FrameInfo) gputypes.Color {
			if f.Index%2 == 0 {
				return gputypes.Color{R: 1, A: 1}
			}
			return gputypes.Color{B: 1, A: 1}
		},
	}
	quad := NewMesh("quad",
		[]float32{-0.5, -0.5, 0.5, -0.5, 0.5, 0.5, -0.5, 0.5},
		[]uint16{0, 1, 2, 0, 2, 3},
		gputypes.Color{G: 1, A: 1})
	if err := list.Add(tri, 0); err != nil {
		t.Fatal(err)
	}
	if err := list.Add(quad, 1); err != nil {
		t.Fatal(err)
	}

	clear := gputypes.Color{A: 1}
	for range 2 {
		frame, err := list.Frame(fb, &clear, 16*time.Millisecond)
		if err != nil {
			t.Fatalf("Frame: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = dev.SubmitAndWait(ctx, frame)
		cancel()
		if err != nil {
			t.Fatalf("SubmitAndWait: %v", err)
		}
	}

	first := tb.Ops("frame 1")
	for _, op := range []string{"ClearColorTarget", "Draw", "SetIndexBuffer", "DrawIndexed"} {
		if !slices.Contains(first, op) {
			t.Errorf("frame 1 ops %v lack %s", first, op)
		}
	}
	uploads := func(ops []string) int {
		n := 0
		for _, op := range ops {
			if op == "UpdateBuffer" {
				n++
			}
		}
		return n
	}
	// Frame 1 uploads both colors and the mesh geometry; frame 2 only colors.
	if got := uploads(first); got != 4 {
		t.Errorf("frame 1 UpdateBuffer count = %d, want 4", got)
	}
	if got := uploads(tb.Ops("frame 2")); got != 2 {
		t.Errorf("frame 2 UpdateBuffer count = %d, want 2", got)
	}

	if err := list.Close(); err != nil {
		t.Fatalf("list Close: %v", err)
	}
}

func TestMeshGeometry(t *testing.T) {
	dev := newDevice(t, trace.New())

	empty := NewMesh("empty", nil, nil, gputypes.Color{})
	if err := empty.CreateResources(dev, gputypes.TextureFormatRGBA8Unorm); !errors.Is(err, ErrEmptyMesh) {
		t.Errorf("CreateResources(empty) = %v, want ErrEmptyMesh", err)
	}

	m := NewMesh("tri", []float32{0, 0, 1, 0, 0, 1}, []uint16{0, 1, 2}, gputypes.Color{A: 1})
	if err := m.CreateResources(dev, gputypes.TextureFormatRGBA8Unorm); err != nil {
		t.Fatal(err)
	}
	defer m.DestroyResources(dev)

	if err := m.SetGeometry([]float32{0, 0, 1, 1, 1, 0}, []uint16{2, 1, 0}); err != nil {
		t.Errorf("SetGeometry same size = %v", err)
	}
	if err := m.SetGeometry(make([]float32, 8), []uint16{0, 1, 2}); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("SetGeometry growing = %v, want ErrOutOfRange", err)
	}
}
