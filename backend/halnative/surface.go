package halnative

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// Surface is an offscreen presentable surface. Its image is a backend
// texture that is kept across frames and recreated on Resize.
type Surface struct {
	b *Backend

	mu      sync.Mutex
	width   uint32
	height  uint32
	format  gputypes.TextureFormat
	image   *Texture
	frames  uint64
	pending bool
}

var _ rhi.Surface = (*Surface)(nil)

// NewSurface creates an offscreen surface of the given extent and format.
// TextureFormatUndefined selects SurfaceFormat.
func (b *Backend) NewSurface(width, height uint32, format gputypes.TextureFormat) *Surface {
	if format == gputypes.TextureFormatUndefined {
		format = b.surfaceFormat
	}
	return &Surface{b: b, width: width, height: height, format: format}
}

// AcquireNextImage implements rhi.Surface.
func (s *Surface) AcquireNextImage() (rhi.NativeObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.image == nil {
		obj, err := s.b.CreateTexture(&rhi.TextureDescriptor{
			Label:       "surface",
			Width:       s.width,
			Height:      s.height,
			Depth:       1,
			MipLevels:   1,
			ArrayLayers: 1,
			SampleCount: 1,
			Dimension:   gputypes.TextureDimension2D,
			Format:      s.format,
			Usage:       gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		})
		if err != nil {
			return nil, fmt.Errorf("surface image: %w", err)
		}
		s.image = obj.(*Texture)
	}
	s.pending = true
	return s.image, nil
}

// Present implements rhi.Surface.
func (s *Surface) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return errors.New("halnative: Present without acquired image")
	}
	s.pending = false
	s.frames++
	return nil
}

// Resize implements rhi.Surface.
func (s *Surface) Resize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropImage()
	s.width, s.height = width, height
	return nil
}

// Size implements rhi.Surface.
func (s *Surface) Size() (width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Format implements rhi.Surface.
func (s *Surface) Format() gputypes.TextureFormat { return s.format }

// Frames returns the number of presented frames.
func (s *Surface) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Destroy releases the surface image. The device using the surface must be
// idle.
func (s *Surface) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropImage()
}

func (s *Surface) dropImage() {
	if s.image != nil {
		s.b.Release(s.image)
		s.image = nil
	}
	s.pending = false
}
