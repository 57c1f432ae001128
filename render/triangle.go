// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

const colorShaderPrelude = `
struct Uniforms {
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> u: Uniforms;

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return u.color;
}
`

const triangleWGSL = colorShaderPrelude + `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(i) - 1);
    let y = f32(i32(i & 1u) * 2 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}
`

// uniformSize is the size of the color uniform block.
const uniformSize = 16

// uniformElement is the single element of the color binding layout.
var uniformElement = rhi.BindingElement{
	Name:   "uniforms",
	Slot:   0,
	Kind:   rhi.ResourceUniformBuffer,
	Stages: rhi.StageVertex | rhi.StageFragment,
}

func encodeColor(c gputypes.Color) []byte {
	b := make([]byte, 0, uniformSize)
	for _, v := range [4]float32{float32(c.R), float32(c.G), float32(c.B), float32(c.A)} {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

// colorResources are the resources shared by the solid-color drawables: a
// uniform buffer, its binding set and a pipeline.
type colorResources struct {
	uniforms rhi.Buffer
	layout   rhi.BindingLayout
	set      rhi.BindingSet
	vertex   rhi.Shader
	fragment rhi.Shader
	pipeline rhi.Pipeline
	created  bool
}

func (c *colorResources) create(dev *rhi.Device, label, source string, desc *rhi.PipelineDescriptor) error {
	var err error
	if c.uniforms, err = dev.CreateBuffer(&rhi.BufferDescriptor{
		Label: label,
		Size:  uniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	}); err != nil {
		return err
	}
	c.created = true
	if c.layout, err = dev.CreateBindingLayout(&rhi.BindingLayoutDescriptor{
		Label:    label,
		Elements: []rhi.BindingElement{uniformElement},
	}); err != nil {
		return err
	}
	if c.set, err = dev.CreateBindingSet(&rhi.BindingSetDescriptor{
		Label:     label,
		Layout:    c.layout,
		Resources: []rhi.BindingResource{c.uniforms},
	}); err != nil {
		return err
	}
	if c.vertex, err = dev.CreateShader(&rhi.ShaderDescriptor{
		Label: label + " vs", Stage: rhi.StageVertex, EntryPoint: "vs_main", WGSL: source,
	}); err != nil {
		return err
	}
	if c.fragment, err = dev.CreateShader(&rhi.ShaderDescriptor{
		Label: label + " fs", Stage: rhi.StageFragment, EntryPoint: "fs_main", WGSL: source,
	}); err != nil {
		return err
	}

	desc.Shaders = []rhi.Shader{c.vertex, c.fragment}
	desc.Layouts = []rhi.BindingLayout{c.layout}
	c.pipeline, err = dev.CreatePipeline(desc)
	return err
}

// destroy releases whatever create managed to build.
func (c *colorResources) destroy(dev *rhi.Device) error {
	if !c.created {
		return nil
	}
	c.created = false

	var errs []error
	try := func(ref rhi.Ref, fn func() error) {
		if !ref.IsZero() {
			errs = append(errs, fn())
		}
	}
	try(c.pipeline.Ref, func() error { return dev.DestroyPipeline(c.pipeline) })
	try(c.fragment.Ref, func() error { return dev.DestroyShader(c.fragment) })
	try(c.vertex.Ref, func() error { return dev.DestroyShader(c.vertex) })
	try(c.set.Ref, func() error { return dev.DestroyBindingSet(c.set) })
	try(c.layout.Ref, func() error { return dev.DestroyBindingLayout(c.layout) })
	try(c.uniforms.Ref, func() error { return dev.DestroyBuffer(c.uniforms) })
	*c = colorResources{}
	return errors.Join(errs...)
}

// Triangle draws one triangle spanning the viewport in a solid color.
type Triangle struct {
	Label string
	Color gputypes.Color

	// Animate, if set, picks the color of each frame.
	Animate func(frame FrameInfo) gputypes.Color

	res colorResources
}

var _ Renderable = (*Triangle)(nil)

// CreateResources implements Renderable.
func (t *Triangle) CreateResources(dev *rhi.Device, format gputypes.TextureFormat) error {
	label := t.Label
	if label == "" {
		label = "triangle"
	}
	err := t.res.create(dev, label, triangleWGSL, &rhi.PipelineDescriptor{
		Label:    label,
		Topology: gputypes.PrimitiveTopologyTriangleList,
		Outputs: rhi.OutputDescription{
			ColorFormats: []gputypes.TextureFormat{format},
			SampleCount:  1,
		},
	})
	if err != nil {
		return errors.Join(err, t.res.destroy(dev))
	}
	return nil
}

// DestroyResources implements Renderable.
func (t *Triangle) DestroyResources(dev *rhi.Device) error { return t.res.destroy(dev) }

// UpdatePerFrame implements Renderable.
func (t *Triangle) UpdatePerFrame(frame FrameInfo) error {
	if t.Animate != nil {
		t.Color = t.Animate(frame)
	}
	return nil
}

// Render implements Renderable.
func (t *Triangle) Render(rec *rhi.Recorder) error {
	if err := rec.UpdateBuffer(t.res.uniforms, 0, encodeColor(t.Color)); err != nil {
		return err
	}
	rec.SetPipeline(t.res.pipeline)
	rec.SetBindingSet(0, t.res.set)
	rec.Draw(3, 1, 0, 0)
	return nil
}
