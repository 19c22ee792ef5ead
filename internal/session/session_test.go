package session

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Spatial-NVR/PPEGuard/internal/camera"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
)

type fakeCamera struct {
	mu      sync.Mutex
	closed  bool
	readErr error
	reads   int
	block   chan struct{}
}

func (c *fakeCamera) Read() (image.Image, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	c.reads++
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeOpener struct {
	opens   atomic.Int32
	cams    []*fakeCamera
	mu      sync.Mutex
	openErr error
	readErr error
	block   chan struct{}
}

func (o *fakeOpener) open(ctx context.Context) (camera.Source, error) {
	o.opens.Add(1)
	if o.openErr != nil {
		return nil, o.openErr
	}
	cam := &fakeCamera{readErr: o.readErr, block: o.block}
	o.mu.Lock()
	o.cams = append(o.cams, cam)
	o.mu.Unlock()
	return cam, nil
}

func newTestSession(t *testing.T) (*Session, *fakeOpener) {
	t.Helper()
	o := &fakeOpener{}
	s := New(o.open)
	t.Cleanup(func() { _ = s.Close() })
	return s, o
}

func TestSession_InitialStatus(t *testing.T) {
	s, _ := newTestSession(t)

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	want := Status{IsStreaming: false, DetectionFilter: detection.FilterAll, CameraActive: false}
	if status != want {
		t.Errorf("Expected %+v, got %+v", want, status)
	}
}

func TestSession_StartIsIdempotent(t *testing.T) {
	s, o := newTestSession(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
	}

	if n := o.opens.Load(); n != 1 {
		t.Errorf("Expected camera to be opened once, got %d", n)
	}

	status, _ := s.Status(ctx)
	if !status.IsStreaming || !status.CameraActive {
		t.Errorf("Expected streaming with active camera, got %+v", status)
	}
}

func TestSession_ConcurrentStartOpensOnce(t *testing.T) {
	s, o := newTestSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Start(context.Background())
		}()
	}
	wg.Wait()

	if n := o.opens.Load(); n != 1 {
		t.Errorf("Expected camera to be opened once, got %d", n)
	}
}

func TestSession_StopWithoutStart(t *testing.T) {
	s, _ := newTestSession(t)

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop without start should not error: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Second stop should not error: %v", err)
	}
}

func TestSession_StopReleasesCamera(t *testing.T) {
	s, o := newTestSession(t)
	ctx := context.Background()

	_ = s.Start(ctx)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !o.cams[0].isClosed() {
		t.Error("Expected camera to be closed after stop")
	}

	status, _ := s.Status(ctx)
	if status.IsStreaming || status.CameraActive {
		t.Errorf("Expected idle session, got %+v", status)
	}

	// a restart opens a fresh handle
	_ = s.Start(ctx)
	if n := o.opens.Load(); n != 2 {
		t.Errorf("Expected second open after restart, got %d", n)
	}
}

func TestSession_StartFailure(t *testing.T) {
	o := &fakeOpener{openErr: errors.New("no device")}
	s := New(o.open)
	defer s.Close()

	err := s.Start(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Errorf("Expected ErrCameraUnavailable, got %v", err)
	}

	status, _ := s.Status(context.Background())
	if status.IsStreaming {
		t.Error("Session should not be streaming after a failed start")
	}
}

func TestSession_NextFrame(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if _, err := s.NextFrame(ctx); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Expected ErrNotStreaming before start, got %v", err)
	}

	_ = s.Start(ctx)
	_ = s.SetFilter(ctx, "no-mask")

	frame, err := s.NextFrame(ctx)
	if err != nil {
		t.Fatalf("NextFrame failed: %v", err)
	}
	if frame.Image == nil {
		t.Error("Expected a frame image")
	}
	if frame.Filter != detection.FilterNoMask {
		t.Errorf("Expected filter no-mask, got %s", frame.Filter)
	}

	_ = s.Stop(ctx)
	if _, err := s.NextFrame(ctx); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Expected ErrNotStreaming after stop, got %v", err)
	}
}

func TestSession_ReadErrors(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if _, err := s.Read(ctx); !errors.Is(err, ErrCameraNotActive) {
		t.Errorf("Expected ErrCameraNotActive, got %v", err)
	}

	o := &fakeOpener{readErr: errors.New("device gone")}
	failing := New(o.open)
	defer failing.Close()

	_ = failing.Start(ctx)
	if _, err := failing.Read(ctx); !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed, got %v", err)
	}
	if _, err := failing.NextFrame(ctx); !errors.Is(err, ErrCaptureFailed) {
		t.Errorf("Expected ErrCaptureFailed from NextFrame, got %v", err)
	}
}

func TestSession_SetFilter(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if err := s.SetFilter(ctx, "helmet"); err != nil {
		t.Fatalf("SetFilter failed: %v", err)
	}

	err := s.SetFilter(ctx, "bogus")
	if !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Expected ErrInvalidFilter, got %v", err)
	}

	status, _ := s.Status(ctx)
	if status.DetectionFilter != detection.FilterHelmet {
		t.Errorf("Invalid filter should leave previous filter, got %s", status.DetectionFilter)
	}
}

func TestSession_StalledReadDoesNotBlockStatus(t *testing.T) {
	o := &fakeOpener{block: make(chan struct{})}
	s := New(o.open)
	defer s.Close()
	unblock := sync.OnceFunc(func() { close(o.block) })
	defer unblock()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	readDone := make(chan error, 1)
	go func() {
		_, err := s.NextFrame(ctx)
		readDone <- err
	}()
	// Let the read reach the camera
	time.Sleep(50 * time.Millisecond)

	stopDone := make(chan error, 1)
	go func() { stopDone <- s.Stop(ctx) }()

	statusCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	deadline := time.Now().Add(time.Second)
	for {
		status, err := s.Status(statusCtx)
		if err != nil {
			t.Fatalf("Status blocked behind the read: %v", err)
		}
		if !status.IsStreaming {
			if !status.CameraActive {
				t.Error("Camera should stay active until the read returns")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Stop did not clear streaming while a read was in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.SetFilter(statusCtx, "vest"); err != nil {
		t.Errorf("SetFilter blocked behind the read: %v", err)
	}

	unblock()

	select {
	case err := <-stopDone:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not finish after the read returned")
	}
	<-readDone

	status, _ := s.Status(ctx)
	if status.CameraActive || status.DetectionFilter != detection.FilterVest {
		t.Errorf("Expected released camera with vest filter, got %+v", status)
	}
}

func TestSession_Close(t *testing.T) {
	o := &fakeOpener{}
	s := New(o.open)

	_ = s.Start(context.Background())
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if !o.cams[0].isClosed() {
		t.Error("Expected camera to be released on close")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}
