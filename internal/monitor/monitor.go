// Package monitor runs unattended PPE detection over a video source.
//
// Unlike the HTTP pipeline it has no session or filter: it reads a device,
// file or stream until it ends and logs every confident detection.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Spatial-NVR/PPEGuard/internal/annotate"
	"github.com/Spatial-NVR/PPEGuard/internal/camera"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/events"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/metrics"
)

// DefaultThreshold is the confidence a detection must exceed to be logged
const DefaultThreshold = 0.6

// Config configures a Monitor
type Config struct {
	// Source names the video source in logs and events
	Source    string
	Opener    camera.Opener
	Detector  detection.Detector
	Store     logstore.Store
	Publisher events.Publisher
	Metrics   *metrics.Metrics

	// Threshold is exclusive: confidence must be strictly greater
	Threshold float64
	// Interval runs detection on every Nth frame
	Interval int

	SaveSnapshots bool
	SnapshotDir   string
	JPEGQuality   int
	Logger        *slog.Logger
}

// Stats summarizes one run
type Stats struct {
	Frames     int `json:"frames"`
	Processed  int `json:"processed"`
	Logged     int `json:"logged"`
	Violations int `json:"violations"`
	Snapshots  int `json:"snapshots"`
}

// Monitor reads frames from one source and logs detections
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a monitor
func New(cfg Config) (*Monitor, error) {
	if cfg.Opener == nil {
		return nil, errors.New("video source is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("detector is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("log store is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}
	if cfg.SaveSnapshots && cfg.SnapshotDir == "" {
		cfg.SnapshotDir = "snapshots"
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = annotate.DefaultJPEGQuality
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "monitor", "source", cfg.Source),
		now:    time.Now,
	}, nil
}

// Run processes frames until the source ends or ctx is cancelled.
// End of stream and cancellation are not errors.
func (m *Monitor) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	src, err := m.cfg.Opener(ctx)
	if err != nil {
		m.cfg.Metrics.Error("monitor_open")
		return stats, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	m.cfg.Metrics.SetCameraActive(true)
	defer m.cfg.Metrics.SetCameraActive(false)

	m.logger.Info("Monitor started", "threshold", m.cfg.Threshold, "interval", m.cfg.Interval)
	defer func() {
		m.logger.Info("Monitor stopped",
			"frames", stats.Frames,
			"processed", stats.Processed,
			"logged", stats.Logged,
			"violations", stats.Violations)
	}()

	for {
		select {
		case <-ctx.Done():
			return stats, nil
		default:
		}

		img, err := src.Read()
		if errors.Is(err, camera.ErrEndOfStream) {
			return stats, nil
		}
		if err != nil {
			m.cfg.Metrics.Error("monitor_read")
			return stats, fmt.Errorf("failed to read frame: %w", err)
		}
		stats.Frames++
		if (stats.Frames-1)%m.cfg.Interval != 0 {
			continue
		}

		start := time.Now()
		dets, err := m.cfg.Detector.Detect(ctx, img)
		m.cfg.Metrics.ObserveInference(time.Since(start))
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			// One bad frame does not end an unattended run
			m.cfg.Metrics.Error("monitor_detect")
			m.logger.Warn("Detection failed", "frame", stats.Frames, "error", err)
			continue
		}
		stats.Processed++

		kept := m.confident(dets)
		if len(kept) == 0 {
			continue
		}

		snapshot := ""
		if m.cfg.SaveSnapshots {
			snapshot, err = m.saveSnapshot(img, kept, stats.Frames)
			if err != nil {
				m.cfg.Metrics.Error("monitor_snapshot")
				m.logger.Warn("Failed to save snapshot", "error", err)
			} else {
				stats.Snapshots++
			}
		}

		violations, err := m.log(ctx, snapshot, kept)
		if err != nil {
			m.cfg.Metrics.Error("monitor_log")
			return stats, err
		}
		stats.Logged += len(kept)
		stats.Violations += violations
	}
}

func (m *Monitor) confident(dets []detection.Detection) []detection.Detection {
	var kept []detection.Detection
	for _, d := range dets {
		if d.Confidence > m.cfg.Threshold {
			kept = append(kept, d)
		}
	}
	return kept
}

func (m *Monitor) saveSnapshot(img image.Image, dets []detection.Detection, frame int) (string, error) {
	if err := os.MkdirAll(m.cfg.SnapshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := annotate.EncodeJPEG(annotate.Draw(img, dets, annotate.DefaultOptions()), m.cfg.JPEGQuality)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("monitor_%s_%06d.jpg", m.now().Format(logstore.TimestampLayout), frame)
	path := filepath.Join(m.cfg.SnapshotDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// log appends one record per detection and returns the violation count
func (m *Monitor) log(ctx context.Context, snapshot string, dets []detection.Detection) (int, error) {
	ts := m.now().Format(logstore.TimestampLayout)
	records := make([]logstore.Record, 0, len(dets))
	evDets := make([]events.Detection, 0, len(dets))
	violations := 0

	for _, d := range dets {
		conf := math.Round(d.Confidence*1000) / 1000
		violation := detection.IsViolation(d.ClassName)
		if violation {
			violations++
		}
		records = append(records, logstore.Record{
			Timestamp:  ts,
			Snapshot:   snapshot,
			Class:      d.ClassName,
			Confidence: conf,
		})
		evDets = append(evDets, events.Detection{Class: d.ClassName, Confidence: conf})
		m.cfg.Metrics.DetectionLogged(d.ClassName, violation)
	}

	if err := m.cfg.Store.Append(ctx, records...); err != nil {
		return 0, fmt.Errorf("failed to append detections: %w", err)
	}

	if violations > 0 {
		ev := events.New(events.EventViolation)
		ev.Source = m.cfg.Source
		ev.Snapshot = snapshot
		ev.Detections = evDets
		ev.Violations = violations
		if err := events.Emit(m.cfg.Publisher, ev); err != nil {
			m.logger.Warn("Failed to publish violation", "error", err)
		}
		m.logger.Info("Violation detected", "violations", violations, "snapshot", snapshot)
	}
	return violations, nil
}
