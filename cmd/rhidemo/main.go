// Command rhidemo opens an rhi backend and renders a few frames of a
// triangle and a quad into an offscreen target.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/render"

	// Register the trace, noop and vulkan backends.
	_ "github.com/gogpu/rhi/backend/halnative"
	_ "github.com/gogpu/rhi/backend/trace"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML device config")
		backendArg = flag.String("backend", "", "backend name, overrides the config")
		frames     = flag.Int("frames", 3, "number of frames to render")
		width      = flag.Uint("width", 640, "target width")
		height     = flag.Uint("height", 480, "target height")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := rhi.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = rhi.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *backendArg != "" {
		cfg.Backend = *backendArg
	}

	dev, err := backend.OpenConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to open backend (available: %v): %v", backend.Available(), err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	unsubscribe := dev.OnDiagnostic(func(d rhi.Diagnostic) {
		rhi.Logger().Warn("rhidemo: replay diagnostic", "diagnostic", d.String())
	})
	defer unsubscribe()

	if err := run(dev, uint32(*width), uint32(*height), *frames); err != nil { //nolint:gosec // flag values are small
		log.Fatalf("Demo failed: %v", err)
	}

	st := dev.Stats()
	log.Printf("Rendered %d frames on %s (live resources %d, pipeline cache hit rate %.2f)",
		*frames, dev.Info().Name, st.Table.Live, st.Pipelines.HitRate())
}

func run(dev *rhi.Device, width, height uint32, frames int) error {
	target, err := dev.CreateTexture(&rhi.TextureDescriptor{
		Label:  "offscreen",
		Width:  width,
		Height: height,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return err
	}
	defer dev.DestroyTexture(target)

	fb, err := dev.CreateFramebuffer(&rhi.FramebufferDescriptor{
		Label:        "offscreen",
		ColorTargets: []rhi.Texture{target},
	})
	if err != nil {
		return err
	}
	defer dev.DestroyFramebuffer(fb)

	list := render.NewList(dev, width, height)
	defer list.Close()

	tri := &render.Triangle{
		Label: "triangle",
		Animate: func(f render.FrameInfo) gputypes.Color {
			if f.Index%2 == 0 {
				return gputypes.Color{R: 1, G: 0.5, A: 1}
			}
			return gputypes.Color{R: 0.5, G: 1, A: 1}
		},
	}
	if err := list.Add(tri, 0); err != nil {
		return err
	}
	quad := render.NewMesh("quad",
		[]float32{-0.25, -0.25, 0.25, -0.25, 0.25, 0.25, -0.25, 0.25},
		[]uint16{0, 1, 2, 0, 2, 3},
		gputypes.Color{B: 1, A: 1})
	if err := list.Add(quad, 1); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clear := gputypes.Color{R: 0.1, G: 0.1, B: 0.1, A: 1}
	last := time.Now()
	for range frames {
		now := time.Now()
		frame, err := list.Frame(fb, &clear, now.Sub(last))
		if err != nil {
			return err
		}
		last = now
		if err := dev.Submit(frame); err != nil {
			return err
		}
	}
	return dev.WaitForIdle(ctx)
}
