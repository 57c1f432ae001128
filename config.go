package rhi

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ExecutorMode selects how a device executes entry lists.
type ExecutorMode uint8

const (
	// ExecutorAuto uses the replay worker for context-affine backends and
	// immediate execution otherwise.
	ExecutorAuto ExecutorMode = iota

	// ExecutorImmediate executes lists on the submitting goroutine.
	ExecutorImmediate

	// ExecutorDeferred executes lists on the replay worker.
	ExecutorDeferred
)

var executorModeNames = [...]string{
	ExecutorAuto:      "auto",
	ExecutorImmediate: "immediate",
	ExecutorDeferred:  "deferred",
}

// String returns the string representation of an ExecutorMode.
func (m ExecutorMode) String() string {
	if int(m) < len(executorModeNames) {
		return executorModeNames[m]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (m ExecutorMode) MarshalText() ([]byte, error) {
	if int(m) >= len(executorModeNames) {
		return nil, fmt.Errorf("rhi: unknown executor mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ExecutorMode) UnmarshalText(text []byte) error {
	for i, name := range executorModeNames {
		if string(text) == name {
			*m = ExecutorMode(i) //nolint:gosec // small table
			return nil
		}
	}
	return fmt.Errorf("rhi: unknown executor mode %q", text)
}

// Config configures a Device.
//
// Config can be decoded from TOML:
//
//	backend = "trace"
//	executor = "deferred"
//	max_resources = 4096
//	staging_capacity = 16777216
//	inline_update_limit = 256
type Config struct {
	// Backend names the registered backend to open. It is used by
	// backend.OpenConfig and ignored by NewDevice.
	Backend string `toml:"backend"`

	Executor ExecutorMode `toml:"executor"`

	// MaxResources bounds the resource table.
	MaxResources int `toml:"max_resources"`

	// StagingCapacity bounds the bytes held by staging blocks of lists that
	// have not completed.
	StagingCapacity int64 `toml:"staging_capacity"`

	// InlineUpdateLimit is the largest UpdateBuffer payload stored inline
	// in the entry list.
	InlineUpdateLimit int `toml:"inline_update_limit"`

	// PlanCacheSize bounds the number of cached slot binding plans.
	PlanCacheSize int `toml:"plan_cache_size"`

	// ShaderCacheSize bounds the number of memoized WGSL compilations.
	ShaderCacheSize int `toml:"shader_cache_size"`

	// Surface is the presentable surface, or nil for headless devices.
	Surface Surface `toml:"-"`
}

// Config errors.
var (
	// ErrInvalidConfig is returned by Validate.
	ErrInvalidConfig = errors.New("rhi: invalid config")
)

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		Executor:          ExecutorAuto,
		MaxResources:      1 << 16,
		StagingCapacity:   64 << 20,
		InlineUpdateLimit: 512,
		PlanCacheSize:     256,
		ShaderCacheSize:   128,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.MaxResources <= 0:
		return fmt.Errorf("%w: max_resources must be positive, got %d", ErrInvalidConfig, c.MaxResources)
	case c.StagingCapacity <= 0:
		return fmt.Errorf("%w: staging_capacity must be positive, got %d", ErrInvalidConfig, c.StagingCapacity)
	case c.InlineUpdateLimit < 0:
		return fmt.Errorf("%w: inline_update_limit must not be negative, got %d", ErrInvalidConfig, c.InlineUpdateLimit)
	case c.PlanCacheSize <= 0:
		return fmt.Errorf("%w: plan_cache_size must be positive, got %d", ErrInvalidConfig, c.PlanCacheSize)
	case c.ShaderCacheSize < 0:
		return fmt.Errorf("%w: shader_cache_size must not be negative, got %d", ErrInvalidConfig, c.ShaderCacheSize)
	case c.Executor > ExecutorDeferred:
		return fmt.Errorf("%w: unknown executor mode %d", ErrInvalidConfig, c.Executor)
	}
	return nil
}

// ParseConfig decodes a TOML document on top of DefaultConfig. Unknown
// keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("rhi: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and decodes a TOML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return Config{}, fmt.Errorf("rhi: load config: %w", err)
	}
	return ParseConfig(data)
}

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := rhi.NewDevice(native,
//	    rhi.WithDeferred(true),
//	    rhi.WithStagingCapacity(8<<20),
//	)
type Option func(*Config)

// WithConfig replaces the whole configuration. Later options still apply.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithMaxResources sets the resource table capacity.
func WithMaxResources(n int) Option {
	return func(c *Config) {
		c.MaxResources = n
	}
}

// WithStagingCapacity sets the staging pool budget in bytes.
func WithStagingCapacity(n int64) Option {
	return func(c *Config) {
		c.StagingCapacity = n
	}
}

// WithInlineUpdateLimit sets the largest payload stored inline.
func WithInlineUpdateLimit(n int) Option {
	return func(c *Config) {
		c.InlineUpdateLimit = n
	}
}

// WithDeferred forces the replay worker on or off, overriding the choice
// the backend's context affinity would make.
func WithDeferred(deferred bool) Option {
	return func(c *Config) {
		if deferred {
			c.Executor = ExecutorDeferred
		} else {
			c.Executor = ExecutorImmediate
		}
	}
}

// WithSurface attaches a presentable surface and creates the main
// framebuffer.
func WithSurface(s Surface) Option {
	return func(c *Config) {
		c.Surface = s
	}
}

// WithPlanCacheSize sets the number of cached slot binding plans.
func WithPlanCacheSize(n int) Option {
	return func(c *Config) {
		c.PlanCacheSize = n
	}
}

// WithShaderCacheSize sets the number of memoized WGSL compilations.
// Zero disables the limit.
func WithShaderCacheSize(n int) Option {
	return func(c *Config) {
		c.ShaderCacheSize = n
	}
}
