// Package main is ppewatch, the headless PPE monitor. It runs detection over
// a camera, video file or stream and appends confident detections to the
// same log the server reads.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Spatial-NVR/PPEGuard/internal/api"
	"github.com/Spatial-NVR/PPEGuard/internal/config"
	"github.com/Spatial-NVR/PPEGuard/internal/core"
	"github.com/Spatial-NVR/PPEGuard/internal/logging"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/monitor"
)

const (
	flagConfig        = "config"
	flagSource        = "source"
	flagDriver        = "driver"
	flagThreshold     = "threshold"
	flagInterval      = "interval"
	flagSaveSnapshots = "save-snapshots"
	flagDetectorURL   = "detector-url"
	flagBackend       = "backend"
	flagModel         = "model"
	flagLabels        = "labels"
	flagEventsURL     = "events-url"
	flagDebug         = "debug"
)

func main() {
	app := &cli.App{
		Name:  "ppewatch",
		Usage: "log PPE detections from a camera, video file or stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"PPE_CONFIG"},
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:    flagSource,
				Aliases: []string{"s"},
				Usage:   "device index, video file or RTSP/HTTP URL (overrides camera.source)",
			},
			&cli.StringFlag{
				Name:  flagDriver,
				Usage: "camera driver: opencv, http or still",
			},
			&cli.Float64Flag{
				Name:    flagThreshold,
				Aliases: []string{"t"},
				Usage:   "log detections with confidence above this value",
			},
			&cli.IntFlag{
				Name:    flagInterval,
				Aliases: []string{"n"},
				Usage:   "run detection on every Nth frame",
			},
			&cli.BoolFlag{
				Name:  flagSaveSnapshots,
				Usage: "save an annotated frame for every logged detection",
			},
			&cli.StringFlag{
				Name:  flagBackend,
				Usage: "detector backend: http or onnx",
			},
			&cli.StringFlag{
				Name:  flagDetectorURL,
				Usage: "detector service URL for the http backend",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "YOLOv8 ONNX model for the onnx backend",
			},
			&cli.StringFlag{
				Name:  flagLabels,
				Usage: "class labels file, one per line",
			},
			&cli.StringFlag{
				Name:    flagEventsURL,
				Usage:   "NATS `URL` of the PPEGuard server's event bus",
				EnvVars: []string{"EVENTS_URL"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: watch,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ppewatch: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command line overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}

	if c.IsSet(flagSource) {
		cfg.Camera.Source = c.String(flagSource)
	}
	if c.IsSet(flagDriver) {
		cfg.Camera.Driver = c.String(flagDriver)
	}
	if c.IsSet(flagThreshold) {
		cfg.Monitor.Threshold = c.Float64(flagThreshold)
	}
	if c.IsSet(flagInterval) {
		cfg.Monitor.Interval = c.Int(flagInterval)
	}
	if c.IsSet(flagSaveSnapshots) {
		cfg.Monitor.SaveSnapshots = c.Bool(flagSaveSnapshots)
	}
	if c.IsSet(flagBackend) {
		cfg.Detector.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagDetectorURL) {
		cfg.Detector.URL = c.String(flagDetectorURL)
	}
	if c.IsSet(flagModel) {
		cfg.Detector.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagLabels) {
		cfg.Detector.LabelsPath = c.String(flagLabels)
	}
	if c.IsSet(flagEventsURL) {
		cfg.Events.URL = c.String(flagEventsURL)
	}
	if c.Bool(flagDebug) {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func watch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, _ := logging.Setup(os.Stderr, cfg.Logging.Format, cfg.Logging.Level, logging.NewRingBuffer(cfg.Logging.BufferSize))

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opener, err := core.CameraOpener(cfg.Camera)
	if err != nil {
		return err
	}
	det, err := core.NewDetector(ctx, cfg.Detector)
	if err != nil {
		return err
	}
	defer det.Close()

	store, err := logstore.Open(ctx, logstore.Config{
		Backend: logstore.Backend(cfg.Storage.LogBackend),
		DataDir: cfg.Storage.DataPath,
	})
	if err != nil {
		return fmt.Errorf("failed to open detection log: %w", err)
	}
	defer store.Close()

	// Violations go to the server's bus; without it they are only logged
	bus, err := core.JoinEventBus(cfg.Events)
	if err != nil {
		logger.Warn("Event bus unavailable, violations will not be published", "error", err)
	}
	if bus != nil {
		defer bus.Stop()
	}

	mon, err := monitor.New(monitor.Config{
		Source:        api.SanitizeSourceURL(cfg.Camera.Source),
		Opener:        opener,
		Detector:      det,
		Store:         store,
		Publisher:     core.Publisher(bus),
		Threshold:     cfg.Monitor.Threshold,
		Interval:      cfg.Monitor.Interval,
		SaveSnapshots: cfg.Monitor.SaveSnapshots,
		SnapshotDir:   cfg.SnapshotPath(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	stats, err := mon.Run(ctx)
	if err != nil {
		return err
	}

	// Summary on stdout so it can be piped
	return json.NewEncoder(os.Stdout).Encode(stats)
}
