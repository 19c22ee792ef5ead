package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes a local Detector over the HTTP contract spoken by Client
type Server struct {
	mu       sync.RWMutex
	detector Detector
	modelID  string
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	addr     string

	// Stats
	startTime      time.Time
	processedCount int64
	errorCount     int64
	totalLatency   time.Duration
}

// ServerConfig holds detector server configuration
type ServerConfig struct {
	Address  string
	Detector Detector
	ModelID  string
	Logger   *slog.Logger
}

// NewServer creates a new detector server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":5100"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		detector:  cfg.Detector,
		modelID:   cfg.ModelID,
		addr:      cfg.Address,
		logger:    cfg.Logger.With("component", "detector-server"),
		startTime: time.Now(),
	}
}

// Handler returns the HTTP handler serving the detection contract
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/detect", s.handleDetect)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	return r
}

// Start starts serving in the background
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startTime = time.Now()
	s.logger.Info("Detector server starting", "address", s.addr, "model", s.modelID)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Detector server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Address returns the address the server is listening on
func (s *Server) Address() string {
	return s.addr
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil || len(data) == 0 {
		s.respondError(w, http.StatusBadRequest, "Invalid image data")
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to decode image")
		return
	}

	dets, err := s.detector.Detect(r.Context(), img)
	if err != nil {
		s.logger.Error("Detection failed", "camera", req.CameraID, "error", err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	minConfidence := req.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	dets = ScoreFilter(dets, minConfidence)

	elapsed := time.Since(start)
	s.mu.Lock()
	s.processedCount++
	s.totalLatency += elapsed
	s.mu.Unlock()

	wire := make([]wireDetection, 0, len(dets))
	for _, d := range dets {
		wire = append(wire, wireDetection{Label: d.ClassName, Confidence: d.Confidence, BBox: d.Box})
	}

	s.respondJSON(w, http.StatusOK, detectResponse{
		Success:       true,
		CameraID:      req.CameraID,
		Detections:    wire,
		ProcessTimeMs: float64(elapsed.Microseconds()) / 1000,
		ModelID:       s.modelID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	processed := s.processedCount
	errors := s.errorCount
	latency := s.totalLatency
	s.mu.RUnlock()

	avgLatency := 0.0
	if processed > 0 {
		avgLatency = float64((latency / time.Duration(processed)).Microseconds()) / 1000
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"model_id":        s.modelID,
		"processed_count": processed,
		"error_count":     errors,
		"avg_latency_ms":  avgLatency,
		"uptime":          time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()

	s.respondJSON(w, status, detectResponse{Success: false, Error: message})
}
