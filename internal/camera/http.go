package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPSource reads frames from a still-image endpoint such as an IP camera's
// snapshot URL or go2rtc's /api/frame.jpeg
type HTTPSource struct {
	mu         sync.Mutex
	url        string
	httpClient *http.Client
	closed     bool
	frames     int64
	logger     *slog.Logger
}

// HTTPSourceConfig holds HTTP source configuration
type HTTPSourceConfig struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPSource creates a source polling the given snapshot URL
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("snapshot URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTPSource{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: slog.Default().With("component", "http_source"),
	}, nil
}

// HTTPOpener returns an Opener that probes the snapshot URL before handing
// out the source, so an unreachable camera fails at open time
func HTTPOpener(cfg HTTPSourceConfig) Opener {
	return func(ctx context.Context) (Source, error) {
		src, err := NewHTTPSource(cfg)
		if err != nil {
			return nil, err
		}
		if _, err := src.grab(ctx); err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.URL, err)
		}
		return src, nil
	}
}

// Read fetches and decodes one frame
func (s *HTTPSource) Read() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	return s.grab(context.Background())
}

func (s *HTTPSource) grab(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	s.mu.Lock()
	s.frames++
	s.mu.Unlock()

	return img, nil
}

// Frames returns the number of frames read so far
func (s *HTTPSource) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close marks the source closed
func (s *HTTPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.logger.Debug("HTTP source closed", "url", s.url, "frames", s.frames)
	}
	return nil
}
