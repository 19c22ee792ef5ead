// Package core builds the shared PPEGuard components from configuration.
// Every binary goes through it so the server, the monitor and the detector
// agree on how a camera, a detector or the event bus is constructed.
package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Spatial-NVR/PPEGuard/internal/camera"
	"github.com/Spatial-NVR/PPEGuard/internal/config"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/events"
	"github.com/Spatial-NVR/PPEGuard/internal/models"
	"github.com/Spatial-NVR/PPEGuard/internal/vision"
)

// HealthCheck reports whether a component is usable
type HealthCheck func(ctx context.Context) error

// Detector bundles a detector with its health check and cleanup
type Detector struct {
	detection.Detector
	Health HealthCheck
	closer io.Closer
}

// Close releases the detector's resources
func (d *Detector) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// CameraOpener returns the opener for the configured driver
func CameraOpener(cfg config.CameraConfig) (camera.Opener, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("camera source is required")
	}

	switch cfg.Driver {
	case "", config.DriverOpenCV:
		return vision.Opener(cfg.Source), nil
	case config.DriverHTTP:
		return camera.HTTPOpener(camera.HTTPSourceConfig{
			URL:     cfg.Source,
			Timeout: cfg.Timeout,
		}), nil
	case config.DriverStill:
		return camera.StillOpener(cfg.Source), nil
	default:
		return nil, fmt.Errorf("unknown camera driver: %q", cfg.Driver)
	}
}

// NewDetector builds the configured detection backend. The HTTP backend
// calls a remote ppedetect; the ONNX backend runs the model in process.
func NewDetector(ctx context.Context, cfg config.DetectorConfig) (*Detector, error) {
	switch cfg.Backend {
	case "", config.BackendHTTP:
		client, err := detection.NewClient(detection.ClientConfig{
			Address:       cfg.URL,
			CameraID:      "ppeguard",
			Timeout:       cfg.Timeout,
			MinConfidence: cfg.MinConfidence,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create detector client: %w", err)
		}
		return &Detector{Detector: client, Health: client.Health}, nil

	case config.BackendONNX:
		yolo, err := NewYOLO(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Detector{
			Detector: yolo,
			Health:   func(context.Context) error { return nil },
			closer:   yolo,
		}, nil

	default:
		return nil, fmt.Errorf("unknown detector backend: %q", cfg.Backend)
	}
}

// NewYOLO loads the in-process ONNX model, fetching it first when the
// model path is a URL
func NewYOLO(ctx context.Context, cfg config.DetectorConfig) (*vision.YOLO, error) {
	modelPath, err := models.NewFetcher(cfg.ModelDir).Resolve(ctx, cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	yolo, err := vision.NewYOLO(vision.YOLOConfig{
		ModelPath:     modelPath,
		LabelsPath:    cfg.LabelsPath,
		InputSize:     cfg.InputSize,
		MinConfidence: cfg.MinConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return yolo, nil
}

// StartEventBus starts the embedded bus, or returns nil when it is disabled
func StartEventBus(cfg config.EventsConfig) (*events.Bus, error) {
	if cfg.Disabled {
		slog.Default().With("component", "core").Info("Event bus disabled")
		return nil, nil
	}
	bus, err := events.NewBus(events.BusConfig{Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to start event bus: %w", err)
	}
	return bus, nil
}

// JoinEventBus connects to the bus embedded by the server so events from
// another process reach the server's subscribers. It returns nil when the bus
// is disabled or has no fixed address.
func JoinEventBus(cfg config.EventsConfig) (*events.Bus, error) {
	logger := slog.Default().With("component", "core")
	if cfg.Disabled {
		logger.Info("Event bus disabled")
		return nil, nil
	}
	url := cfg.ClientURL()
	if url == "" {
		logger.Info("Event bus has no fixed address, events will not be published")
		return nil, nil
	}
	bus, err := events.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to join event bus: %w", err)
	}
	return bus, nil
}

// Publisher converts a possibly nil bus into a Publisher. A typed nil
// pointer inside the interface would defeat the nil check in events.Emit.
func Publisher(bus *events.Bus) events.Publisher {
	if bus == nil {
		return nil
	}
	return bus
}
