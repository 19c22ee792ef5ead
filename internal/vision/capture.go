// Package vision binds OpenCV through gocv: camera/video capture and an ONNX
// YOLOv8 detector. It requires the OpenCV shared libraries at build time.
package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"github.com/Spatial-NVR/PPEGuard/internal/camera"
)

// Capture wraps a gocv.VideoCapture as a camera.Source
type Capture struct {
	source string
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	logger *slog.Logger
}

// OpenCapture opens a device index ("0"), a video file or a stream URL
func OpenCapture(source string) (*Capture, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)

	if idx, convErr := strconv.Atoi(source); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else if strings.Contains(source, "://") {
		vc, err = gocv.OpenVideoCapture(source)
	} else {
		vc, err = gocv.VideoCaptureFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %s: %w", source, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("video source %s is not opened", source)
	}

	logger := slog.Default().With("component", "capture")
	logger.Info("Video source opened",
		"source", source,
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight),
		"fps", vc.Get(gocv.VideoCaptureFPS))

	return &Capture{
		source: source,
		vc:     vc,
		mat:    gocv.NewMat(),
		logger: logger,
	}, nil
}

// Opener returns a camera.Opener for the given source
func Opener(source string) camera.Opener {
	return func(ctx context.Context) (camera.Source, error) {
		return OpenCapture(source)
	}
}

// Read grabs the next frame and converts it to an image.Image
func (c *Capture) Read() (image.Image, error) {
	if c.vc == nil {
		return nil, camera.ErrClosed
	}
	if ok := c.vc.Read(&c.mat); !ok {
		return nil, camera.ErrEndOfStream
	}
	if c.mat.Empty() {
		return nil, fmt.Errorf("empty frame from %s", c.source)
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the device
func (c *Capture) Close() error {
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	_ = c.mat.Close()
	c.vc = nil
	c.logger.Info("Video source released", "source", c.source)
	return err
}
