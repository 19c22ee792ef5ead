package vision

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Spatial-NVR/PPEGuard/internal/detection"
)

// YOLOConfig holds ONNX model configuration
type YOLOConfig struct {
	ModelPath     string
	LabelsPath    string
	Labels        []string
	InputSize     int
	MinConfidence float64
	IoUThreshold  float64
}

// YOLO runs a YOLOv8 ONNX export through OpenCV's DNN module
type YOLO struct {
	mu     sync.Mutex
	net    gocv.Net
	cfg    YOLOConfig
	logger *slog.Logger
}

// NewYOLO loads the model
func NewYOLO(cfg YOLOConfig) (*YOLO, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = 640
	}
	if cfg.LabelsPath != "" && len(cfg.Labels) == 0 {
		labels, err := readLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		cfg.Labels = labels
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set target: %w", err)
	}

	logger := slog.Default().With("component", "yolo")
	logger.Info("Detection network initialized", "model", cfg.ModelPath, "classes", len(cfg.Labels))

	return &YOLO{net: net, cfg: cfg, logger: logger}, nil
}

// Detect runs inference on one frame.
// gocv.Net is not safe for concurrent use, so calls are serialized.
func (y *YOLO) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	size := image.Pt(y.cfg.InputSize, y.cfg.InputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	out := y.net.Forward("")
	y.mu.Unlock()
	defer out.Close()

	// output shape is [1, 4+nc, anchors]
	dims := out.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	bounds := img.Bounds()
	return detection.DecodeYOLOv8(detection.YOLOOutput{
		Data:       data,
		NumClasses: dims[1] - 4,
		NumAnchors: dims[2],
	}, detection.DecodeOptions{
		Classes:       y.cfg.Labels,
		MinConfidence: y.cfg.MinConfidence,
		IoUThreshold:  y.cfg.IoUThreshold,
		ScaleX:        float64(bounds.Dx()) / float64(y.cfg.InputSize),
		ScaleY:        float64(bounds.Dy()) / float64(y.cfg.InputSize),
	})
}

// Close frees the network
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}

func readLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return labels, nil
}
