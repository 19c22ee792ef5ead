// Package camera defines the frame source contract used by the PPE pipeline
// and the pure-Go sources that satisfy it.
package camera

import (
	"context"
	"errors"
	"image"
)

// ErrClosed is returned when reading from a source that has been closed
var ErrClosed = errors.New("camera source closed")

// ErrEndOfStream is returned when a finite source has no more frames
var ErrEndOfStream = errors.New("end of stream")

// Source produces raw frames on demand.
// A Source is owned by a single goroutine and is not safe for concurrent use.
type Source interface {
	// Read returns the next frame
	Read() (image.Image, error)
	// Close releases the underlying device
	Close() error
}

// Opener opens a new Source, typically the configured camera device
type Opener func(ctx context.Context) (Source, error)
