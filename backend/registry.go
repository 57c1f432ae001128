package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/rhi"
)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	// Vulkan > Noop > Trace: real hardware first, the headless backends as
	// fallbacks.
	backendPriority = []string{NameVulkan, NameNoop, NameTrace}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

func factory(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := backends[name]
	return f, ok
}

// Native creates the native backend registered under name.
func Native(name string) (rhi.Native, error) {
	f, ok := factory(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrBackendNotAvailable, name, Available())
	}
	n, err := f()
	if err != nil {
		return nil, fmt.Errorf("backend: opening %q: %w", name, err)
	}
	return n, nil
}

// Open creates a device on the backend registered under name. The native
// backend is closed again if the device cannot be created.
func Open(name string, opts ...rhi.Option) (*rhi.Device, error) {
	n, err := Native(name)
	if err != nil {
		return nil, err
	}
	dev, err := rhi.NewDevice(n, opts...)
	if err != nil {
		return nil, errors.Join(err, n.Close())
	}
	rhi.Logger().Info("backend: opened", "backend", name)
	return dev, nil
}

// OpenConfig opens the backend named by cfg.Backend with cfg applied, or
// the default backend if cfg.Backend is empty.
func OpenConfig(cfg rhi.Config, opts ...rhi.Option) (*rhi.Device, error) {
	opts = append([]rhi.Option{rhi.WithConfig(cfg)}, opts...)
	if cfg.Backend == "" {
		return Default(opts...)
	}
	return Open(cfg.Backend, opts...)
}

// Default opens the best available backend based on priority, then any
// other registered backend in name order.
func Default(opts ...rhi.Option) (*rhi.Device, error) {
	var errs []error
	tried := make(map[string]bool)
	for _, name := range append(slices.Clone(backendPriority), Available()...) {
		if tried[name] || !IsRegistered(name) {
			continue
		}
		tried[name] = true
		dev, err := Open(name, opts...)
		if err == nil {
			return dev, nil
		}
		rhi.Logger().Debug("backend: skipping", "backend", name, "err", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}
