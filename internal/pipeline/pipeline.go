// Package pipeline ties the session, detector, annotator and log store
// together into the live video feed and the snapshot capture operation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Spatial-NVR/PPEGuard/internal/annotate"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/events"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/metrics"
	"github.com/Spatial-NVR/PPEGuard/internal/session"
)

// StatusCaptured is the status string of a successful capture
const StatusCaptured = "Snapshot captured"

// Boundary separates parts of the MJPEG response
const Boundary = "frame"

// ContentType is the MJPEG response content type
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

// Config wires a Pipeline. Publisher and Metrics are optional.
type Config struct {
	Session     *session.Session
	Detector    detection.Detector
	Store       logstore.Store
	SnapshotDir string
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	JPEGQuality int
	Annotate    annotate.Options
	Logger      *slog.Logger
}

// Pipeline runs detection over session frames
type Pipeline struct {
	session     *session.Session
	detector    detection.Detector
	store       logstore.Store
	snapshotDir string
	publisher   events.Publisher
	metrics     *metrics.Metrics
	quality     int
	opts        annotate.Options
	logger      *slog.Logger

	now  func() time.Time
	draw func(image.Image, []detection.Detection, annotate.Options) image.Image
}

// CapturedDetection is one detection in a capture result
type CapturedDetection struct {
	Class      string        `json:"class"`
	Confidence float64       `json:"confidence"`
	Box        detection.Box `json:"box"`
}

// CaptureResult is returned by Capture
type CaptureResult struct {
	Status     string              `json:"status"`
	Timestamp  string              `json:"timestamp"`
	Path       string              `json:"path"`
	Detections []CapturedDetection `json:"detections"`
}

// New creates a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("detector is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("log store is required")
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = "snapshots"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Annotate == (annotate.Options{}) {
		cfg.Annotate = annotate.DefaultOptions()
	}

	return &Pipeline{
		session:     cfg.Session,
		detector:    cfg.Detector,
		store:       cfg.Store,
		snapshotDir: cfg.SnapshotDir,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		quality:     cfg.JPEGQuality,
		opts:        cfg.Annotate,
		logger:      cfg.Logger.With("component", "pipeline"),
		now:         time.Now,
		draw:        annotate.Draw,
	}, nil
}

// SnapshotDir returns the directory snapshots are written to
func (p *Pipeline) SnapshotDir() string {
	return p.snapshotDir
}

// StartCamera opens the camera and enables streaming
func (p *Pipeline) StartCamera(ctx context.Context) error {
	if err := p.session.Start(ctx); err != nil {
		p.metrics.Error("camera_open")
		return err
	}
	p.metrics.SetCameraActive(true)
	p.emit(events.New(events.EventCameraStarted))
	return nil
}

// StopCamera stops streaming and releases the camera
func (p *Pipeline) StopCamera(ctx context.Context) error {
	if err := p.session.Stop(ctx); err != nil {
		return err
	}
	p.metrics.SetCameraActive(false)
	p.emit(events.New(events.EventCameraStopped))
	return nil
}

// SetFilter changes the live-stream filter
func (p *Pipeline) SetFilter(ctx context.Context, mode string) error {
	if err := p.session.SetFilter(ctx, mode); err != nil {
		return err
	}
	ev := events.New(events.EventFilterChanged)
	ev.Filter = mode
	p.emit(ev)
	return nil
}

// Status returns the session status
func (p *Pipeline) Status(ctx context.Context) (session.Status, error) {
	return p.session.Status(ctx)
}

// detect runs inference and records its latency
func (p *Pipeline) detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	start := time.Now()
	dets, err := p.detector.Detect(ctx, img)
	p.metrics.ObserveInference(time.Since(start))
	if err != nil {
		p.metrics.Error("detect")
		return nil, err
	}
	return dets, nil
}

// Stream writes annotated frames as MJPEG parts until streaming stops,
// a read or detection fails, or ctx is cancelled. flush is called after
// every part. Stopping the camera ends the stream with a nil error.
func (p *Pipeline) Stream(ctx context.Context, w io.Writer, flush func()) error {
	done := p.metrics.StreamClientConnected()
	defer done()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		frame, err := p.session.NextFrame(ctx)
		if err != nil {
			if errors.Is(err, session.ErrNotStreaming) || ctx.Err() != nil {
				return nil
			}
			p.metrics.Error("read")
			return err
		}

		dets, err := p.detect(ctx, frame.Image)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to detect: %w", err)
		}
		if frame.Filter != detection.FilterAll {
			dets = detection.Apply(dets, frame.Filter)
		}

		data, err := annotate.EncodeJPEG(p.draw(frame.Image, dets, p.opts), p.quality)
		if err != nil {
			p.metrics.Error("encode")
			return err
		}

		if err := writePart(w, data); err != nil {
			// Client disconnected
			p.logger.Debug("Stream client gone", "error", err)
			return nil
		}
		if flush != nil {
			flush()
		}
		p.metrics.FrameStreamed()
	}
}

func writePart(w io.Writer, jpegData []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// Capture reads one frame, detects on it unfiltered, writes the annotated
// snapshot and appends one log record per detection.
func (p *Pipeline) Capture(ctx context.Context) (*CaptureResult, error) {
	img, err := p.session.Read(ctx)
	if err != nil {
		return nil, err
	}

	dets, err := p.detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to detect: %w", err)
	}

	data, err := annotate.EncodeJPEG(p.draw(img, dets, p.opts), p.quality)
	if err != nil {
		p.metrics.Error("encode")
		return nil, err
	}

	ts := p.now().Format(logstore.TimestampLayout)
	path := filepath.Join(p.snapshotDir, "frame_"+ts+".jpg")

	if err := os.MkdirAll(p.snapshotDir, 0755); err != nil {
		p.metrics.Error("snapshot")
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		p.metrics.Error("snapshot")
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	result := &CaptureResult{
		Status:     StatusCaptured,
		Timestamp:  ts,
		Path:       path,
		Detections: make([]CapturedDetection, 0, len(dets)),
	}
	records := make([]logstore.Record, 0, len(dets))
	evDets := make([]events.Detection, 0, len(dets))
	violations := 0

	for _, d := range dets {
		conf := round3(d.Confidence)
		result.Detections = append(result.Detections, CapturedDetection{Class: d.ClassName, Confidence: conf, Box: d.Box})
		records = append(records, logstore.Record{Timestamp: ts, Snapshot: path, Class: d.ClassName, Confidence: conf})
		evDets = append(evDets, events.Detection{Class: d.ClassName, Confidence: conf})

		violation := detection.IsViolation(d.ClassName)
		if violation {
			violations++
		}
		p.metrics.DetectionLogged(d.ClassName, violation)
	}

	if len(records) > 0 {
		if err := p.store.Append(ctx, records...); err != nil {
			p.metrics.Error("log")
			return nil, fmt.Errorf("failed to append log: %w", err)
		}
	}
	p.metrics.SnapshotCaptured()

	p.logger.Info("Snapshot captured", "path", path, "detections", len(dets), "violations", violations)

	ev := events.New(events.EventSnapshot)
	ev.Snapshot = path
	ev.Detections = evDets
	ev.Violations = violations
	p.emit(ev)

	if violations > 0 {
		vev := events.New(events.EventViolation)
		vev.Snapshot = path
		vev.Detections = evDets
		vev.Violations = violations
		p.emit(vev)
	}

	return result, nil
}

func (p *Pipeline) emit(ev events.Event) {
	if err := events.Emit(p.publisher, ev); err != nil {
		p.logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
