package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client is an HTTP client for an external detection service.
// It speaks the contract served by Server: POST /detect with a base64 JPEG.
type Client struct {
	mu            sync.RWMutex
	httpClient    *http.Client
	baseURL       string
	cameraID      string
	minConfidence float64
	jpegQuality   int
	logger        *slog.Logger

	// Stats
	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// ClientConfig holds client configuration
type ClientConfig struct {
	Address       string
	CameraID      string
	Timeout       time.Duration
	MinConfidence float64
	JPEGQuality   int
}

// detectRequest is the wire format of POST /detect
type detectRequest struct {
	CameraID      string  `json:"camera_id"`
	ImageData     string  `json:"image_data"`
	MinConfidence float64 `json:"min_confidence"`
}

// wireDetection is one detection as encoded on the wire
type wireDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       Box     `json:"bbox"`
}

// detectResponse is the wire format returned by /detect
type detectResponse struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	CameraID      string          `json:"camera_id"`
	Detections    []wireDetection `json:"detections"`
	ProcessTimeMs float64         `json:"process_time_ms"`
	ModelID       string          `json:"model_id,omitempty"`
}

// NewClient creates a new detection service client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("detector address is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	if cfg.CameraID == "" {
		cfg.CameraID = "default"
	}

	baseURL := strings.TrimRight(cfg.Address, "/")
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:       baseURL,
		cameraID:      cfg.CameraID,
		minConfidence: cfg.MinConfidence,
		jpegQuality:   cfg.JPEGQuality,
		logger:        slog.Default().With("component", "detection_client"),
	}, nil
}

// Detect sends a frame to the detection service
func (c *Client) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	c.mu.Lock()
	c.requestCount++
	minConfidence := c.minConfidence
	c.mu.Unlock()

	start := time.Now()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.jpegQuality}); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body, err := json.Marshal(detectRequest{
		CameraID:      c.cameraID,
		ImageData:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		MinConfidence: minConfidence,
	})
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.totalLatency += time.Since(start)
	c.mu.Unlock()

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.recordError()
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || (!result.Success && result.Error != "") {
		c.recordError()
		return nil, fmt.Errorf("detection failed: status %d: %s", resp.StatusCode, result.Error)
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		detections = append(detections, Detection{
			ClassName:  d.Label,
			Confidence: d.Confidence,
			Box:        d.BBox,
		})
	}

	c.logger.Debug("Detection completed",
		"detections", len(detections),
		"process_time_ms", result.ProcessTimeMs,
		"latency", time.Since(start))

	return ScoreFilter(detections, minConfidence), nil
}

// Health checks that the detection service is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// SetMinConfidence updates the threshold sent with each request
func (c *Client) SetMinConfidence(v float64) {
	if v <= 0 {
		return
	}
	c.mu.Lock()
	c.minConfidence = v
	c.mu.Unlock()
}

// Stats returns client statistics
func (c *Client) Stats() (requests int64, errors int64, avgLatency time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	requests = c.requestCount
	errors = c.errorCount
	if requests > 0 {
		avgLatency = c.totalLatency / time.Duration(requests)
	}
	return
}

func (c *Client) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}
