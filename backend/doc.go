// Package backend is a registry of native backends.
//
// Backend packages register a factory from their init function, in the
// style of database/sql drivers:
//
//	import (
//	    "github.com/gogpu/rhi/backend"
//	    _ "github.com/gogpu/rhi/backend/halnative" // "noop" and "vulkan"
//	    _ "github.com/gogpu/rhi/backend/trace"     // "trace"
//	)
//
// # Backend Selection
//
// Use Default to open the best backend that works on this machine, or Open
// to request one by name:
//
//	dev, err := backend.Default()
//
//	dev, err := backend.Open("trace", rhi.WithDeferred(true))
//
// OpenConfig takes the backend name and device settings from an rhi.Config,
// typically loaded with rhi.LoadConfig.
//
// # Available Backends
//
//   - "trace": in-memory recording backend, always available
//   - "noop": hal backend that accepts every call, always available
//   - "vulkan": hal Vulkan backend, needs a Vulkan driver
package backend
