// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render drives drawable objects through an rhi device.
//
// A drawable implements Renderable: it creates its device resources once,
// refreshes per-frame data, records its draws into a Recorder and destroys
// its resources when removed. A List holds any mix of Renderables and turns
// them into one entry list per frame.
//
// # Core Types
//
//   - Renderable: lifecycle and recording callbacks of one drawable
//   - Resizer: optional callback for main surface resizes
//   - List: z-ordered collection that records frames
//
// # Renderable Implementations
//
//   - Triangle: a single triangle colored through a uniform buffer
//   - Mesh: an indexed 2D mesh with vertex and index buffers
//
// # Usage
//
//	list := render.NewList(dev, 800, 600)
//	defer list.Close()
//
//	list.Add(&render.Triangle{Color: gputypes.Color{R: 1, A: 1}}, 0)
//
//	frame, err := list.Frame(dev.MainFramebuffer(), &clear, dt)
//	if err != nil {
//	    return err
//	}
//	dev.Submit(frame)
//	dev.SwapBuffers()
//
// Thread Safety: a List must be used from a single goroutine. Resize
// notifications may arrive from any goroutine and are applied on the next
// Frame.
package render
