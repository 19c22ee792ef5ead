// Package session owns the camera lifecycle, the streaming flag and the
// active detection filter.
//
// The camera handle lives on a single owner goroutine. Callers never touch
// the device directly: open, read and release are closures sent to the owner
// and executed in arrival order, so concurrent requests cannot race on the
// handle. The streaming flag, the filter and the camera-active flag sit
// behind a mutex outside the owner, so status, filter changes and the first
// half of Stop never wait behind a blocked read.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/Spatial-NVR/PPEGuard/internal/camera"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
)

var (
	// ErrCameraUnavailable is returned when the camera device cannot be opened
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCameraNotActive is returned when a frame is requested with no open camera
	ErrCameraNotActive = errors.New("camera not active")
	// ErrCaptureFailed is returned when the camera fails to produce a frame
	ErrCaptureFailed = errors.New("failed to capture frame")
	// ErrNotStreaming is returned by NextFrame once streaming has been stopped
	ErrNotStreaming = errors.New("not streaming")
	// ErrInvalidFilter is returned for an unknown filter mode
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("session closed")
)

// Status is a point-in-time view of the session
type Status struct {
	IsStreaming     bool                 `json:"is_streaming"`
	DetectionFilter detection.FilterMode `json:"detection_filter"`
	CameraActive    bool                 `json:"camera_active"`
}

// Frame is one frame read while streaming, with the filter active at read time
type Frame struct {
	Image  image.Image
	Filter detection.FilterMode
}

// state is only touched by the owner goroutine
type state struct {
	cam camera.Source
}

// flags is readable without going through the owner
type flags struct {
	mu           sync.RWMutex
	streaming    bool
	cameraActive bool
	filter       detection.FilterMode
}

// Session is the explicit replacement for process-wide camera globals
type Session struct {
	opener camera.Opener
	flags  flags
	cmds   chan func(*state)
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New creates a session and starts its owner goroutine
func New(opener camera.Opener) *Session {
	s := &Session{
		opener: opener,
		cmds:   make(chan func(*state)),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: slog.Default().With("component", "session"),
	}
	s.flags.filter = detection.FilterAll
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.exited)

	st := &state{}
	for {
		select {
		case cmd := <-s.cmds:
			cmd(st)
		case <-s.done:
			s.release(st)
			return
		}
	}
}

// do executes fn on the owner goroutine and waits for it to finish
func (s *Session) do(ctx context.Context, fn func(*state) error) error {
	result := make(chan error, 1)
	cmd := func(st *state) { result <- fn(st) }

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setStreaming(v bool) {
	s.flags.mu.Lock()
	s.flags.streaming = v
	s.flags.mu.Unlock()
}

func (s *Session) streaming() bool {
	s.flags.mu.RLock()
	defer s.flags.mu.RUnlock()
	return s.flags.streaming
}

func (s *Session) filter() detection.FilterMode {
	s.flags.mu.RLock()
	defer s.flags.mu.RUnlock()
	return s.flags.filter
}

func (s *Session) release(st *state) {
	s.flags.mu.Lock()
	s.flags.streaming = false
	s.flags.cameraActive = false
	s.flags.mu.Unlock()

	if st.cam == nil {
		return
	}
	if err := st.cam.Close(); err != nil {
		s.logger.Warn("Failed to release camera", "error", err)
	}
	st.cam = nil
	s.logger.Info("Camera released")
}

// Start opens the camera if it is not already open and enables streaming.
// Calling Start twice keeps the same camera handle.
func (s *Session) Start(ctx context.Context) error {
	return s.do(ctx, func(st *state) error {
		if st.cam == nil {
			cam, err := s.opener(ctx)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
			}
			st.cam = cam
			s.logger.Info("Camera opened")
		}
		s.flags.mu.Lock()
		s.flags.cameraActive = true
		s.flags.streaming = true
		s.flags.mu.Unlock()
		return nil
	})
}

// Stop disables streaming and releases the camera. It is a no-op when the
// camera was never started. Streaming is cleared before the release is
// queued, so open feeds end even while a read is still in flight.
func (s *Session) Stop(ctx context.Context) error {
	s.setStreaming(false)
	return s.do(ctx, func(st *state) error {
		s.release(st)
		return nil
	})
}

// NextFrame reads one frame for the live stream.
// It returns ErrNotStreaming once streaming has been turned off.
func (s *Session) NextFrame(ctx context.Context) (Frame, error) {
	if !s.streaming() {
		return Frame{}, ErrNotStreaming
	}

	var frame Frame
	err := s.do(ctx, func(st *state) error {
		if !s.streaming() || st.cam == nil {
			return ErrNotStreaming
		}
		img, err := st.cam.Read()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		frame = Frame{Image: img, Filter: s.filter()}
		return nil
	})
	return frame, err
}

// Read reads one frame for a snapshot. Only an open camera is required.
func (s *Session) Read(ctx context.Context) (image.Image, error) {
	var img image.Image
	err := s.do(ctx, func(st *state) error {
		if st.cam == nil {
			return ErrCameraNotActive
		}
		frame, err := st.cam.Read()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		img = frame
		return nil
	})
	return img, err
}

// SetFilter changes the active filter. Unknown modes leave it unchanged.
func (s *Session) SetFilter(ctx context.Context, mode string) error {
	parsed, err := detection.ParseFilterMode(mode)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFilter, mode)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.flags.mu.Lock()
	s.flags.filter = parsed
	s.flags.mu.Unlock()
	return nil
}

// Status returns the current session state without waiting on the camera
func (s *Session) Status(ctx context.Context) (Status, error) {
	select {
	case <-s.done:
		return Status{}, ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	s.flags.mu.RLock()
	defer s.flags.mu.RUnlock()
	return Status{
		IsStreaming:     s.flags.streaming,
		DetectionFilter: s.flags.filter,
		CameraActive:    s.flags.cameraActive,
	}, nil
}

// Close releases the camera and stops the owner goroutine
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	<-s.exited
	return nil
}
