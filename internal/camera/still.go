package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
)

// StillSource replays a fixed list of frames.
// With Loop set it cycles forever, otherwise it returns ErrEndOfStream once
// every frame has been served.
type StillSource struct {
	mu     sync.Mutex
	frames []image.Image
	next   int
	Loop   bool
	closed bool
}

// NewStillSource creates a source over the given frames
func NewStillSource(frames ...image.Image) *StillSource {
	return &StillSource{frames: frames}
}

// StillOpener opens a looping source over an image file on disk.
// It is useful for demos and for exercising the pipeline without a device.
func StillOpener(path string) Opener {
	return func(ctx context.Context) (Source, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		defer f.Close()

		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
		}

		src := NewStillSource(img)
		src.Loop = true
		return src, nil
	}
}

// Read returns the next frame
func (s *StillSource) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(s.frames) == 0 {
		return nil, ErrEndOfStream
	}
	if s.next >= len(s.frames) {
		if !s.Loop {
			return nil, ErrEndOfStream
		}
		s.next = 0
	}

	img := s.frames[s.next]
	s.next++
	return img, nil
}

// Close closes the source
func (s *StillSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called
func (s *StillSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
