package rhi

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		check   func(t *testing.T, c Config)
		wantErr error
	}{
		{
			name: "empty keeps defaults",
			doc:  "",
			check: func(t *testing.T, c Config) {
				if c.MaxResources != DefaultConfig().MaxResources || c.Executor != ExecutorAuto {
					t.Errorf("config = %+v", c)
				}
			},
		},
		{
			name: "overrides",
			doc: `backend = "trace"
executor = "deferred"
max_resources = 128
inline_update_limit = 0`,
			check: func(t *testing.T, c Config) {
				if c.Backend != "trace" || c.Executor != ExecutorDeferred || c.MaxResources != 128 || c.InlineUpdateLimit != 0 {
					t.Errorf("config = %+v", c)
				}
				if c.StagingCapacity != DefaultConfig().StagingCapacity {
					t.Errorf("StagingCapacity = %d, want default", c.StagingCapacity)
				}
			},
		},
		{name: "unknown executor", doc: `executor = "lazy"`},
		{name: "unknown key", doc: `max_resourcez = 1`},
		{name: "invalid value", doc: `max_resources = 0`, wantErr: ErrInvalidConfig},
		{name: "negative limit", doc: `inline_update_limit = -1`, wantErr: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseConfig([]byte(tt.doc))
			if tt.check != nil {
				if err != nil {
					t.Fatalf("ParseConfig: %v", err)
				}
				tt.check(t, c)
				return
			}
			if err == nil {
				t.Fatal("ParseConfig succeeded")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseConfig = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rhi.toml")
	if err := os.WriteFile(path, []byte("executor = \"immediate\"\nplan_cache_size = 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Executor != ExecutorImmediate || c.PlanCacheSize != 8 {
		t.Errorf("config = %+v", c)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadConfig of a missing file succeeded")
	}
}

func TestOptions(t *testing.T) {
	c := DefaultConfig()
	for _, opt := range []Option{
		WithMaxResources(10),
		WithStagingCapacity(1 << 10),
		WithInlineUpdateLimit(64),
		WithDeferred(true),
		WithPlanCacheSize(4),
		WithShaderCacheSize(0),
	} {
		opt(&c)
	}
	want := Config{
		Executor:          ExecutorDeferred,
		MaxResources:      10,
		StagingCapacity:   1 << 10,
		InlineUpdateLimit: 64,
		PlanCacheSize:     4,
		ShaderCacheSize:   0,
	}
	if c != want {
		t.Errorf("config = %+v, want %+v", c, want)
	}
	WithDeferred(false)(&c)
	if c.Executor != ExecutorImmediate {
		t.Errorf("Executor = %v, want immediate", c.Executor)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestExecutorModeText(t *testing.T) {
	for _, m := range []ExecutorMode{ExecutorAuto, ExecutorImmediate, ExecutorDeferred} {
		text, err := m.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var got ExecutorMode
		if err := got.UnmarshalText(text); err != nil || got != m {
			t.Errorf("round trip of %v = %v, %v", m, got, err)
		}
	}
	if _, err := ExecutorMode(9).MarshalText(); err == nil {
		t.Error("MarshalText of unknown mode succeeded")
	}
}
