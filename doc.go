// Package rhi provides a command recording and resource binding API that
// executes on native graphics backends with different threading and
// binding models.
//
// # Overview
//
// A Device owns every GPU object created through it. Objects are named by
// tracked references: a table handle plus the generation it was captured
// at. Destroying an object bumps its generation at once, so references held
// by lists that have not executed yet resolve as stale and their entries
// are skipped with a Diagnostic instead of touching freed memory.
//
// Commands are recorded by a Recorder into an EntryList and submitted to
// the device. Lists execute in submission order and are never interleaved.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/rhi"
//	    "github.com/gogpu/rhi/backend"
//	    _ "github.com/gogpu/rhi/backend/trace"
//	)
//
//	dev, err := backend.Open("trace")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	rec := dev.NewRecorder()
//	rec.Begin("upload")
//	rec.UpdateBuffer(buf, 0, data)
//	list, err := rec.End()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = dev.SubmitAndWait(ctx, list)
//
// # Executors
//
// Backends that report ContextAffine get a replay worker: one goroutine
// locked to its OS thread that owns the native context. Every native call
// of such a device, including object creation and release, runs on that
// thread. Other backends execute lists on the submitting goroutine.
//
// # Binding Emulation
//
// Binding layouts and sets are the only binding API. Descriptor-set
// backends receive one native set per set index. Slot backends receive one
// bind call per element and shader stage, at native slots assigned per
// resource class by walking the bound pipeline's layouts.
//
// # Pipelines
//
// CreatePipeline deduplicates by structural key. The key covers the fixed
// function state, the shader and layout references and the specialization
// constants with their types. Equal descriptions return the same Pipeline;
// each CreatePipeline takes a reference that DestroyPipeline drops.
//
// # Faults
//
// A native error during replay aborts the list with a *FaultError and puts
// the device into the faulted state. Later lists are refused with
// ErrDeviceFaulted until Recover succeeds.
package rhi
