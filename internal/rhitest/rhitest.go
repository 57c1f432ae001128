// Package rhitest builds small resource graphs for tests of rhi and its
// backends.
package rhitest

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// TriangleWGSL draws one triangle colored by a uniform.
const TriangleWGSL = `
struct Uniforms {
    color: vec4<f32>,
}

@group(0) @binding(0) var<uniform> u: Uniforms;

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(i) - 1);
    let y = f32(i32(i & 1u) * 2 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return u.color;
}
`

// Scene is a uniform buffer bound through one binding set to a graphics
// pipeline that renders into an offscreen framebuffer.
type Scene struct {
	Uniforms    rhi.Buffer
	Layout      rhi.BindingLayout
	Set         rhi.BindingSet
	Vertex      rhi.Shader
	Fragment    rhi.Shader
	Pipeline    rhi.Pipeline
	Target      rhi.Texture
	Framebuffer rhi.Framebuffer
}

// UniformElement is the single element of the scene's binding layout.
var UniformElement = rhi.BindingElement{
	Name:   "uniforms",
	Slot:   0,
	Kind:   rhi.ResourceUniformBuffer,
	Stages: rhi.StageVertex | rhi.StageFragment,
}

// NewScene creates a Scene on dev with a 256-byte uniform buffer and a
// width x height target. It fails the test on any error.
func NewScene(t testing.TB, dev *rhi.Device, width, height uint32) *Scene {
	t.Helper()

	var s Scene
	var err error
	must := func(what string) {
		t.Helper()
		if err != nil {
			t.Fatalf("creating %s: %v", what, err)
		}
	}

	s.Uniforms, err = dev.CreateBuffer(&rhi.BufferDescriptor{
		Label: "uniforms",
		Size:  256,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	must("buffer")

	s.Layout, err = dev.CreateBindingLayout(&rhi.BindingLayoutDescriptor{
		Label:    "uniforms",
		Elements: []rhi.BindingElement{UniformElement},
	})
	must("layout")

	s.Set, err = dev.CreateBindingSet(&rhi.BindingSetDescriptor{
		Label:     "uniforms",
		Layout:    s.Layout,
		Resources: []rhi.BindingResource{s.Uniforms},
	})
	must("set")

	s.Vertex, err = dev.CreateShader(&rhi.ShaderDescriptor{
		Label: "vs", Stage: rhi.StageVertex, EntryPoint: "vs_main", WGSL: TriangleWGSL,
	})
	must("vertex shader")

	s.Fragment, err = dev.CreateShader(&rhi.ShaderDescriptor{
		Label: "fs", Stage: rhi.StageFragment, EntryPoint: "fs_main", WGSL: TriangleWGSL,
	})
	must("fragment shader")

	s.Pipeline, err = dev.CreatePipeline(s.PipelineDescriptor())
	must("pipeline")

	s.Target, err = dev.CreateTexture(&rhi.TextureDescriptor{
		Label:  "target",
		Width:  width,
		Height: height,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	must("target")

	s.Framebuffer, err = dev.CreateFramebuffer(&rhi.FramebufferDescriptor{
		Label:        "offscreen",
		ColorTargets: []rhi.Texture{s.Target},
	})
	must("framebuffer")

	return &s
}

// PipelineDescriptor returns the description of the scene's pipeline.
// Creating it again returns the same Pipeline.
func (s *Scene) PipelineDescriptor() *rhi.PipelineDescriptor {
	return &rhi.PipelineDescriptor{
		Label:    "triangle",
		Topology: gputypes.PrimitiveTopologyTriangleList,
		Shaders:  []rhi.Shader{s.Vertex, s.Fragment},
		Layouts:  []rhi.BindingLayout{s.Layout},
		Outputs: rhi.OutputDescription{
			ColorFormats: []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
			SampleCount:  1,
		},
	}
}

// RecordTriangle records an upload of data into the uniform buffer followed
// by one triangle.
func (s *Scene) RecordTriangle(t testing.TB, dev *rhi.Device, label string, data []byte) *rhi.EntryList {
	t.Helper()

	rec := dev.NewRecorder()
	if err := rec.Begin(label); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := rec.UpdateBuffer(s.Uniforms, 0, data); err != nil {
		t.Fatalf("UpdateBuffer: %v", err)
	}
	rec.SetFramebuffer(s.Framebuffer)
	rec.SetPipeline(s.Pipeline)
	rec.SetBindingSet(0, s.Set)
	rec.Draw(3, 1, 0, 0)
	list, err := rec.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	return list
}
