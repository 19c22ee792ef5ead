// Package main is the PPEGuard server: camera session, MJPEG feed, snapshot
// capture and the detection log behind one HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Spatial-NVR/PPEGuard/internal/api"
	"github.com/Spatial-NVR/PPEGuard/internal/config"
	"github.com/Spatial-NVR/PPEGuard/internal/core"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/events"
	"github.com/Spatial-NVR/PPEGuard/internal/logging"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/metrics"
	"github.com/Spatial-NVR/PPEGuard/internal/pipeline"
	"github.com/Spatial-NVR/PPEGuard/internal/session"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $PPE_CONFIG or ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("PPEGuard failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logs := logging.NewRingBuffer(cfg.Logging.BufferSize)
	logger, level := logging.Setup(os.Stdout, cfg.Logging.Format, cfg.Logging.Level, logs)

	logger.Info("Starting PPEGuard",
		"version", version,
		"config", configPath,
		"camera_driver", cfg.Camera.Driver,
		"camera_source", api.SanitizeSourceURL(cfg.Camera.Source),
		"detector", cfg.Detector.Backend,
		"log_backend", cfg.Storage.LogBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := core.StartEventBus(cfg.Events)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Stop()
	}

	m := metrics.New()

	store, err := logstore.Open(ctx, logstore.Config{
		Backend: logstore.Backend(cfg.Storage.LogBackend),
		DataDir: cfg.Storage.DataPath,
	})
	if err != nil {
		return fmt.Errorf("failed to open detection log: %w", err)
	}
	defer store.Close()

	opener, err := core.CameraOpener(cfg.Camera)
	if err != nil {
		return err
	}
	sess := session.New(opener)
	defer sess.Close()

	det, err := core.NewDetector(ctx, cfg.Detector)
	if err != nil {
		return err
	}
	defer det.Close()

	pipe, err := pipeline.New(pipeline.Config{
		Session:     sess,
		Detector:    det,
		Store:       store,
		SnapshotDir: cfg.SnapshotPath(),
		Publisher:   core.Publisher(bus),
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	// Log level and detector threshold follow the config file
	cfg.OnChange(func(c *config.Config) {
		snap := c.Copy()
		level.Set(logging.ParseLevel(snap.Logging.Level))
		if client, ok := det.Detector.(*detection.Client); ok {
			client.SetMinConfidence(snap.Detector.MinConfidence)
		}
	})
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := cfg.Watch(stopWatch); err != nil {
		logger.Warn("Config hot reload disabled", "error", err)
	}

	hub := api.NewHub()
	go hub.Run(ctx)
	go hub.ForwardLogs(ctx, logs)
	if bus != nil {
		if _, err := bus.SubscribeEvents(events.SubjectAll, hub.BroadcastEvent); err != nil {
			return err
		}
	}

	checks := map[string]api.HealthCheck{
		"detector": api.HealthCheck(det.Health),
		"log":      store.Health,
	}
	if bus != nil {
		checks["events"] = bus.HealthCheck
	}

	server, err := api.NewServer(api.Config{
		Address:     fmt.Sprintf(":%d", cfg.Server.Port),
		Pipeline:    pipe,
		Store:       store,
		Hub:         hub,
		Logs:        logs,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins,
		Checks:      checks,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stopping the camera ends every open video feed
	if err := pipe.StopCamera(shutdownCtx); err != nil {
		logger.Error("Failed to stop camera", "error", err)
	}
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if client, ok := det.Detector.(*detection.Client); ok {
		requests, failures, avgLatency := client.Stats()
		logger.Info("Detector client stats",
			"requests", requests,
			"errors", failures,
			"avg_latency_ms", avgLatency.Milliseconds())
	}

	logger.Info("Server stopped")
	return nil
}
