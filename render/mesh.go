// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

const meshWGSL = colorShaderPrelude + `
@vertex
fn vs_main(@location(0) pos: vec2<f32>) -> @builtin(position) vec4<f32> {
    return vec4<f32>(pos, 0.0, 1.0);
}
`

// ErrEmptyMesh is returned when a Mesh has no vertices or indices.
var ErrEmptyMesh = errors.New("render: mesh has no geometry")

// Mesh draws indexed 2D geometry in a solid color. Positions are in clip
// space. The geometry is uploaded on the first frame after creation or
// after SetGeometry.
type Mesh struct {
	Label string
	Color gputypes.Color

	vertices []float32
	indices  []uint16
	dirty    bool

	vertexBuf rhi.Buffer
	indexBuf  rhi.Buffer
	res       colorResources
}

var _ Renderable = (*Mesh)(nil)

// NewMesh returns a mesh with the given positions (x, y pairs) and
// triangle list indices.
func NewMesh(label string, positions []float32, indices []uint16, color gputypes.Color) *Mesh {
	m := &Mesh{Label: label, Color: color}
	m.vertices = positions
	m.indices = indices
	return m
}

// SetGeometry replaces the geometry. The vertex and index counts must not
// grow beyond those the mesh was created with.
func (m *Mesh) SetGeometry(positions []float32, indices []uint16) error {
	if !m.vertexBuf.IsZero() && (len(positions) > len(m.vertices) || len(indices) > len(m.indices)) {
		return fmt.Errorf("%w: mesh %q geometry grows from %d/%d to %d/%d", rhi.ErrOutOfRange,
			m.Label, len(m.vertices), len(m.indices), len(positions), len(indices))
	}
	m.vertices, m.indices = positions, indices
	m.dirty = true
	return nil
}

// CreateResources implements Renderable.
func (m *Mesh) CreateResources(dev *rhi.Device, format gputypes.TextureFormat) error {
	if len(m.vertices) < 2 || len(m.indices) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyMesh, m.Label)
	}
	label := m.Label
	if label == "" {
		label = "mesh"
	}

	err := m.res.create(dev, label, meshWGSL, &rhi.PipelineDescriptor{
		Label:    label,
		Topology: gputypes.PrimitiveTopologyTriangleList,
		VertexLayouts: []rhi.VertexLayout{{
			Stride: 8,
			Elements: []rhi.VertexElement{{
				Name: "position", Location: 0, Format: gputypes.VertexFormatFloat32x2,
			}},
		}},
		Outputs: rhi.OutputDescription{
			ColorFormats: []gputypes.TextureFormat{format},
			SampleCount:  1,
		},
	})
	if err == nil {
		m.vertexBuf, err = dev.CreateBuffer(&rhi.BufferDescriptor{
			Label: label + " vertices",
			Size:  uint64(len(m.vertices)) * 4,
			Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		})
	}
	if err == nil {
		m.indexBuf, err = dev.CreateBuffer(&rhi.BufferDescriptor{
			Label: label + " indices",
			Size:  (uint64(len(m.indices))*2 + 3) &^ 3,
			Usage: gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst,
		})
	}
	if err != nil {
		return errors.Join(err, m.DestroyResources(dev))
	}
	m.dirty = true
	return nil
}

// DestroyResources implements Renderable.
func (m *Mesh) DestroyResources(dev *rhi.Device) error {
	var errs []error
	if !m.indexBuf.IsZero() {
		errs = append(errs, dev.DestroyBuffer(m.indexBuf))
		m.indexBuf = rhi.Buffer{}
	}
	if !m.vertexBuf.IsZero() {
		errs = append(errs, dev.DestroyBuffer(m.vertexBuf))
		m.vertexBuf = rhi.Buffer{}
	}
	errs = append(errs, m.res.destroy(dev))
	return errors.Join(errs...)
}

// UpdatePerFrame implements Renderable.
func (m *Mesh) UpdatePerFrame(FrameInfo) error { return nil }

// Render implements Renderable.
func (m *Mesh) Render(rec *rhi.Recorder) error {
	if m.dirty {
		vb := make([]byte, 0, len(m.vertices)*4)
		for _, v := range m.vertices {
			vb = binary.LittleEndian.AppendUint32(vb, math.Float32bits(v))
		}
		ib := make([]byte, 0, len(m.indices)*2+2)
		for _, i := range m.indices {
			ib = binary.LittleEndian.AppendUint16(ib, i)
		}
		if len(ib)%4 != 0 {
			ib = append(ib, 0, 0)
		}
		if err := rec.UpdateBuffer(m.vertexBuf, 0, vb); err != nil {
			return err
		}
		if err := rec.UpdateBuffer(m.indexBuf, 0, ib); err != nil {
			return err
		}
		m.dirty = false
	}
	if err := rec.UpdateBuffer(m.res.uniforms, 0, encodeColor(m.Color)); err != nil {
		return err
	}

	rec.SetPipeline(m.res.pipeline)
	rec.SetBindingSet(0, m.res.set)
	rec.SetVertexBuffer(0, m.vertexBuf, 0)
	rec.SetIndexBuffer(m.indexBuf, gputypes.IndexFormatUint16, 0)
	rec.DrawIndexed(uint32(len(m.indices)), 1, 0, 0, 0) //nolint:gosec // index count bounded by buffer size
	return nil
}
