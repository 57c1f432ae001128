package backend

import (
	"errors"

	"github.com/gogpu/rhi"
)

// Well-known backend names.
const (
	// NameTrace is the in-memory recording backend.
	NameTrace = "trace"

	// NameNoop is the hal backend that accepts every call and draws nothing.
	NameNoop = "noop"

	// NameVulkan is the hal Vulkan backend.
	NameVulkan = "vulkan"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or none of the registered backends could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory creates a native backend. A factory that cannot run on the
// current machine returns an error; Default then tries the next backend.
type Factory func() (rhi.Native, error)
