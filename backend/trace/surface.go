package trace

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi"
)

// Surface is a presentable surface of a trace backend. Each acquired image
// is a fresh texture object owned by the surface.
type Surface struct {
	b *Backend

	mu        sync.Mutex
	width     uint32
	height    uint32
	format    gputypes.TextureFormat
	image     *Object
	acquired  int
	presented int
	resized   int
}

var _ rhi.Surface = (*Surface)(nil)

// NewSurface creates a surface of the given extent and format.
func (b *Backend) NewSurface(width, height uint32, format gputypes.TextureFormat) *Surface {
	return &Surface{b: b, width: width, height: height, format: format}
}

// AcquireNextImage implements rhi.Surface.
func (s *Surface) AcquireNextImage() (rhi.NativeObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.image != nil {
		return s.image, nil
	}

	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("AcquireNextImage"); err != nil {
		return nil, err
	}
	b.nextID++
	s.image = &Object{ID: b.nextID, Kind: "SurfaceImage", Label: fmt.Sprintf("frame %d", s.acquired), surface: true}
	b.objects[s.image] = struct{}{}
	s.acquired++
	b.record("AcquireNextImage", s.image)
	return s.image, nil
}

// Present implements rhi.Surface.
func (s *Surface) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Present"); err != nil {
		return err
	}
	if s.image == nil {
		return fmt.Errorf("%w: Present without acquired image", ErrState)
	}
	s.image.released = true
	delete(b.objects, s.image)
	b.record("Present", s.image)
	s.image = nil
	s.presented++
	return nil
}

// Resize implements rhi.Surface. A pending image is dropped.
func (s *Surface) Resize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.enter("Resize"); err != nil {
		return err
	}
	if s.image != nil {
		s.image.released = true
		delete(b.objects, s.image)
		s.image = nil
	}
	s.width, s.height = width, height
	s.resized++
	b.record("Resize", width, height)
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

// Counts returns how many images were acquired and presented and how many
// times the surface was resized.
func (s *Surface) Counts() (acquired, presented, resized int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired, s.presented, s.resized
}
