// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// FrameInfo describes the frame being recorded.
type FrameInfo struct {
	// Index counts frames from 1.
	Index uint64

	// Delta is the time since the previous frame.
	Delta time.Duration

	// Width and Height are the render target extent.
	Width, Height uint32

	// Format is the color format of the render target.
	Format gputypes.TextureFormat
}

// Renderable is one drawable object managed by a List.
//
// CreateResources is called once when the object is added and
// DestroyResources once when it is removed or the list is closed.
// UpdatePerFrame runs before recording of every frame; Render appends the
// object's commands to rec, which already has the frame's framebuffer and
// viewport bound.
type Renderable interface {
	CreateResources(dev *rhi.Device, format gputypes.TextureFormat) error
	DestroyResources(dev *rhi.Device) error
	UpdatePerFrame(frame FrameInfo) error
	Render(rec *rhi.Recorder) error
}

// Resizer is implemented by Renderables that depend on the target extent.
type Resizer interface {
	Resize(width, height uint32)
}
