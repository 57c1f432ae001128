//go:build !nogpu

package halnative

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	backend.Register(backend.NameVulkan, openVulkan)
}

func openVulkan() (rhi.Native, error) {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan hal backend", backend.ErrBackendNotAvailable)
	}
	b, err := New(api, backend.NameVulkan)
	if err != nil {
		return nil, err
	}
	return b, nil
}
