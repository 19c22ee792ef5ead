// Package main is ppedetect, a standalone detector service. It loads a
// YOLOv8 ONNX model through OpenCV and serves POST /detect for the
// PPEGuard server and ppewatch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Spatial-NVR/PPEGuard/internal/config"
	"github.com/Spatial-NVR/PPEGuard/internal/core"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "ppedetect",
		Usage: "serve a YOLOv8 ONNX PPE model over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"PPE_CONFIG"},
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				EnvVars: []string{"DETECTOR_ADDR"},
				Value:   ":5100",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "YOLOv8 ONNX `FILE` or URL (overrides detector.model_path)",
			},
			&cli.StringFlag{
				Name:  "labels",
				Usage: "class labels `FILE`, one per line",
			},
			&cli.IntFlag{
				Name:  "input-size",
				Usage: "model input size in pixels",
			},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ppedetect: %v\n", err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("model") {
		cfg.Detector.ModelPath = c.String("model")
	}
	if c.IsSet("labels") {
		cfg.Detector.LabelsPath = c.String("labels")
	}
	if c.IsSet("input-size") {
		cfg.Detector.InputSize = c.Int("input-size")
	}
	if cfg.Detector.ModelPath == "" {
		return fmt.Errorf("a model is required: pass --model or set detector.model_path")
	}

	logger, _ := logging.Setup(os.Stdout, cfg.Logging.Format, cfg.Logging.Level, logging.NewRingBuffer(cfg.Logging.BufferSize))

	yolo, err := core.NewYOLO(c.Context, cfg.Detector)
	if err != nil {
		return err
	}
	defer yolo.Close()

	modelID := strings.TrimSuffix(path.Base(cfg.Detector.ModelPath), path.Ext(cfg.Detector.ModelPath))
	server := detection.NewServer(detection.ServerConfig{
		Address:  c.String("addr"),
		Detector: yolo,
		ModelID:  modelID,
		Logger:   logger,
	})
	if err := server.Start(c.Context); err != nil {
		return err
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down detector...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Detector shutdown error", "error", err)
	}

	logger.Info("Detector stopped")
	return nil
}
