package rhi_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/trace"
	"github.com/gogpu/rhi/internal/rhitest"
)

func TestRecorderMisuse(t *testing.T) {
	tb := trace.New(trace.WithFeatures(0))
	dev := openDevice(t, tb)
	s := rhitest.NewScene(t, dev, 32, 32)

	other, err := dev.CreateBindingLayout(&rhi.BindingLayoutDescriptor{
		Label:    "other",
		Elements: []rhi.BindingElement{rhitest.UniformElement},
	})
	if err != nil {
		t.Fatal(err)
	}
	otherSet, err := dev.CreateBindingSet(&rhi.BindingSetDescriptor{
		Label: "other", Layout: other, Resources: []rhi.BindingResource{s.Uniforms},
	})
	if err != nil {
		t.Fatal(err)
	}
	indirect, err := dev.CreateBuffer(&rhi.BufferDescriptor{
		Label: "indirect", Size: 64, Usage: gputypes.BufferUsageIndirect,
	})
	if err != nil {
		t.Fatal(err)
	}
	scratch, err := dev.CreateBuffer(&rhi.BufferDescriptor{
		Label: "scratch", Size: 64, Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	gone, err := dev.CreateBuffer(&rhi.BufferDescriptor{Label: "gone", Size: 16, Usage: gputypes.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.DestroyBuffer(gone); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		record func(r *rhi.Recorder)
		want   error
	}{
		{"draw without pipeline", func(r *rhi.Recorder) {
			r.SetFramebuffer(s.Framebuffer)
			r.Draw(3, 1, 0, 0)
		}, rhi.ErrNoPipeline},
		{"draw without framebuffer", func(r *rhi.Recorder) {
			r.SetPipeline(s.Pipeline)
			r.Draw(3, 1, 0, 0)
		}, rhi.ErrNoFramebuffer},
		{"binding set without pipeline", func(r *rhi.Recorder) {
			r.SetBindingSet(0, s.Set)
		}, rhi.ErrNoPipeline},
		{"binding set index", func(r *rhi.Recorder) {
			r.SetPipeline(s.Pipeline)
			r.SetBindingSet(1, s.Set)
		}, rhi.ErrBindingSlot},
		{"binding set layout", func(r *rhi.Recorder) {
			r.SetPipeline(s.Pipeline)
			r.SetBindingSet(0, otherSet)
		}, rhi.ErrBindingSlot},
		{"dynamic offsets", func(r *rhi.Recorder) {
			r.SetPipeline(s.Pipeline)
			r.SetBindingSet(0, s.Set, 256)
		}, rhi.ErrBindingSlot},
		{"wrong kind", func(r *rhi.Recorder) {
			r.SetPipeline(rhi.Pipeline{Ref: s.Uniforms.Ref})
		}, rhi.ErrWrongKind},
		{"stale reference", func(r *rhi.Recorder) {
			_ = r.UpdateBuffer(gone, 0, []byte{1})
		}, rhi.ErrStale},
		{"update out of range", func(r *rhi.Recorder) {
			_ = r.UpdateBuffer(s.Uniforms, 250, make([]byte, 8))
		}, rhi.ErrOutOfRange},
		{"update offset wraps", func(r *rhi.Recorder) {
			_ = r.UpdateBuffer(s.Uniforms, math.MaxUint64-1, make([]byte, 4))
		}, rhi.ErrOutOfRange},
		{"copy offset wraps", func(r *rhi.Recorder) {
			r.CopyBuffer(scratch, math.MaxUint64-8, scratch, 0, 16)
		}, rhi.ErrOutOfRange},
		{"copy size wraps", func(r *rhi.Recorder) {
			r.CopyBuffer(scratch, 0, scratch, 16, math.MaxUint64-8)
		}, rhi.ErrOutOfRange},
		{"update without copy usage", func(r *rhi.Recorder) {
			_ = r.UpdateBuffer(indirect, 0, []byte{1})
		}, rhi.ErrUsage},
		{"indirect unsupported", func(r *rhi.Recorder) {
			r.SetFramebuffer(s.Framebuffer)
			r.SetPipeline(s.Pipeline)
			r.DrawIndirect(indirect, 0, 1, 16)
		}, rhi.ErrUnsupported},
		{"second viewport unsupported", func(r *rhi.Recorder) {
			r.SetViewport(1, rhi.Viewport{Width: 1, Height: 1, MaxDepth: 1})
		}, rhi.ErrUnsupported},
		{"dispatch without compute", func(r *rhi.Recorder) {
			r.Dispatch(1, 1, 1)
		}, rhi.ErrUnsupported},
		{"clear missing color target", func(r *rhi.Recorder) {
			r.SetFramebuffer(s.Framebuffer)
			r.ClearColorTarget(1, gputypes.Color{})
		}, rhi.ErrOutOfRange},
		{"clear missing depth", func(r *rhi.Recorder) {
			r.SetFramebuffer(s.Framebuffer)
			r.ClearDepthTarget(1, 0)
		}, rhi.ErrOutOfRange},
		{"unbalanced pop", func(r *rhi.Recorder) {
			r.PopDebugGroup()
		}, rhi.ErrDebugGroup},
		{"open group", func(r *rhi.Recorder) {
			r.PushDebugGroup("open")
		}, rhi.ErrDebugGroup},
		{"first error wins", func(r *rhi.Recorder) {
			r.Draw(3, 1, 0, 0)
			r.PopDebugGroup()
		}, rhi.ErrNoPipeline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := dev.NewRecorder()
			if err := rec.Begin(tt.name); err != nil {
				t.Fatal(err)
			}
			tt.record(rec)
			list, err := rec.End()
			if !errors.Is(err, tt.want) {
				t.Fatalf("End() = %v, want %v", err, tt.want)
			}
			if list != nil {
				t.Error("End returned a list together with an error")
			}
			if rec.Recording() {
				t.Error("recorder still recording after End")
			}
		})
	}
}

func TestRecorderLifecycle(t *testing.T) {
	dev := openDevice(t, trace.New())
	s := rhitest.NewScene(t, dev, 16, 16)
	rec := dev.NewRecorder()

	rec.Draw(3, 1, 0, 0)
	if _, err := rec.End(); !errors.Is(err, rhi.ErrNotRecording) {
		t.Errorf("End without Begin = %v, want ErrNotRecording", err)
	}

	if err := rec.Begin("a"); err != nil {
		t.Fatal(err)
	}
	if err := rec.Begin("b"); !errors.Is(err, rhi.ErrAlreadyRecording) {
		t.Errorf("nested Begin = %v, want ErrAlreadyRecording", err)
	}
	rec.SetFramebuffer(s.Framebuffer)
	rec.PushDebugGroup("frame")
	rec.ClearColorTarget(0, gputypes.Color{A: 1})
	rec.InsertDebugMarker("cleared")
	rec.PopDebugGroup()
	list, err := rec.End()
	if err != nil {
		t.Fatal(err)
	}
	if list.State() != rhi.ListSealed || list.Label() != "a" || list.Len() != 5 {
		t.Errorf("list = %v %q with %d entries", list.State(), list.Label(), list.Len())
	}
	ops := make([]rhi.Op, 0, list.Len())
	for _, e := range list.Entries() {
		ops = append(ops, e.Op())
	}
	if ops[0] != rhi.OpSetFramebuffer || ops[2] != rhi.OpClearColorTarget {
		t.Errorf("entries = %v", ops)
	}

	if err := dev.SubmitAndWait(testContext(t), list); err != nil {
		t.Fatal(err)
	}
	if err := dev.Submit(list); !errors.Is(err, rhi.ErrListSubmitted) {
		t.Errorf("second Submit = %v, want ErrListSubmitted", err)
	}

	// The recorder is reusable after End.
	if err := rec.Begin("c"); err != nil {
		t.Fatalf("Begin after End: %v", err)
	}
	if _, err := rec.End(); err != nil {
		t.Errorf("End of empty list: %v", err)
	}
}

func TestUpdateBufferStagingFull(t *testing.T) {
	dev := openDevice(t, trace.New(), rhi.WithStagingCapacity(2048), rhi.WithInlineUpdateLimit(0))
	s := rhitest.NewScene(t, dev, 16, 16)
	big, err := dev.CreateBuffer(&rhi.BufferDescriptor{Label: "big", Size: 4096, Usage: gputypes.BufferUsageCopyDst})
	if err != nil {
		t.Fatal(err)
	}

	rec := dev.NewRecorder()
	if err := rec.Begin("full"); err != nil {
		t.Fatal(err)
	}
	if err := rec.UpdateBuffer(big, 0, make([]byte, 2000)); err != nil {
		t.Fatal(err)
	}
	if err := rec.UpdateBuffer(big, 0, make([]byte, 100)); !errors.Is(err, rhi.ErrStagingFull) {
		t.Fatalf("UpdateBuffer over budget = %v, want ErrStagingFull", err)
	}
	// A full staging pool does not poison the recording.
	if err := rec.UpdateBuffer(s.Uniforms, 0, nil); err != nil {
		t.Errorf("UpdateBuffer after ErrStagingFull: %v", err)
	}
	list, err := rec.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := dev.SubmitAndWait(testContext(t), list); err != nil {
		t.Fatal(err)
	}
	if st := dev.Stats(); st.StagingInUse != 0 {
		t.Errorf("StagingInUse = %d after completion", st.StagingInUse)
	}
}

func TestReleaseReturnsStaging(t *testing.T) {
	dev := openDevice(t, trace.New(), rhi.WithStagingCapacity(1024), rhi.WithInlineUpdateLimit(8))
	s := rhitest.NewScene(t, dev, 16, 16)
	rec := dev.NewRecorder()

	record := func(label string) *rhi.EntryList {
		t.Helper()
		if err := rec.Begin(label); err != nil {
			t.Fatal(err)
		}
		if err := rec.UpdateBuffer(s.Uniforms, 0, make([]byte, 200)); err != nil {
			t.Fatalf("UpdateBuffer in %s: %v", label, err)
		}
		list, err := rec.End()
		if err != nil {
			t.Fatal(err)
		}
		return list
	}

	// Each dropped list would hold a 1 KiB block; the budget fits one.
	for i := range 3 {
		list := record(fmt.Sprintf("dropped-%d", i))
		if st := dev.Stats(); st.StagingInUse == 0 {
			t.Fatal("staged update holds no staging memory")
		}
		if err := list.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if st := dev.Stats(); st.StagingInUse != 0 {
			t.Errorf("StagingInUse = %d after Release", st.StagingInUse)
		}
		if list.State() != rhi.ListReleased {
			t.Errorf("state = %v, want Released", list.State())
		}
		if err := list.Wait(testContext(t)); !errors.Is(err, rhi.ErrListReleased) {
			t.Errorf("Wait = %v, want ErrListReleased", err)
		}
		if err := dev.Submit(list); !errors.Is(err, rhi.ErrListReleased) {
			t.Errorf("Submit of released list = %v, want ErrListReleased", err)
		}
		if err := list.Release(); !errors.Is(err, rhi.ErrListReleased) {
			t.Errorf("second Release = %v, want ErrListReleased", err)
		}
	}

	list := record("kept")
	if err := dev.SubmitAndWait(testContext(t), list); err != nil {
		t.Fatal(err)
	}
	if err := list.Release(); !errors.Is(err, rhi.ErrListSubmitted) {
		t.Errorf("Release after completion = %v, want ErrListSubmitted", err)
	}
}
