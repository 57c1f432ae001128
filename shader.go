package rhi

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"
)

// compileWGSL translates WGSL source to SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("rhi: compiling WGSL: %w", err)
	}
	if len(spirv)%4 != 0 {
		return nil, fmt.Errorf("rhi: compiling WGSL: SPIR-V length %d is not a multiple of 4", len(spirv))
	}

	// SPIR-V is a stream of little-endian 32-bit words.
	words := make([]uint32, len(spirv)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirv[i*4:])
	}
	return words, nil
}

// shaderForBackend returns desc in the code format the backend consumes.
// WGSL is compiled once per distinct source for SPIR-V backends.
func (d *Device) shaderForBackend(desc *ShaderDescriptor) (*ShaderDescriptor, error) {
	switch d.info.ShaderFormat {
	case ShaderFormatSPIRV:
		if len(desc.SPIRV) > 0 {
			return desc, nil
		}
		words, err := d.shaders.GetOrCreate(desc.WGSL, func() ([]uint32, error) {
			Logger().Debug("rhi: compiling WGSL", "shader", desc.Label, "bytes", len(desc.WGSL))
			return compileWGSL(desc.WGSL)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: shader %q: %w", ErrInvalidDescriptor, desc.Label, err)
		}
		out := *desc
		out.SPIRV = words
		out.WGSL = ""
		return &out, nil

	default:
		if desc.WGSL == "" {
			return nil, fmt.Errorf("%w: backend %s needs WGSL for shader %q", ErrUnsupported, d.info.Name, desc.Label)
		}
		return desc, nil
	}
}
