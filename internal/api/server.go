package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Spatial-NVR/PPEGuard/internal/logging"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/metrics"
	"github.com/Spatial-NVR/PPEGuard/internal/pipeline"
)

// HealthCheck reports the health of one dependency
type HealthCheck func(ctx context.Context) error

// Config wires the HTTP surface. Hub, Logs, Metrics and Checks are optional.
type Config struct {
	Address     string
	Pipeline    *pipeline.Pipeline
	Store       logstore.Store
	Hub         *Hub
	Logs        *logging.RingBuffer
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Checks      map[string]HealthCheck
	Logger      *slog.Logger
}

// Server serves the PPEGuard HTTP API
type Server struct {
	cfg    Config
	server *http.Server
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates a server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("log store is required")
	}
	if cfg.Address == "" {
		cfg.Address = ":5000"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "api"),
		now:    time.Now,
	}, nil
}

// Router builds the chi router with every route
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}

	r.Get("/snapshots/{file}", s.handleSnapshot)

	r.Route("/api", func(r chi.Router) {
		// Long-lived responses: no timeout
		r.Get("/video-feed", s.handleVideoFeed)
		if s.cfg.Hub != nil {
			r.Get("/ws", s.cfg.Hub.HandleWebSocket)
		}
		if s.cfg.Logs != nil {
			r.Get("/system/logs/stream", s.handleLogStream)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/start-camera", s.handleStartCamera)
			r.Post("/stop-camera", s.handleStopCamera)
			r.Post("/set-filter", s.handleSetFilter)
			r.Post("/capture-snapshot", s.handleCaptureSnapshot)
			r.Get("/get-logs", s.handleGetLogs)
			r.Get("/status", s.handleStatus)
			r.Get("/export-excel", s.recoverJSON(s.handleExportExcel))
			r.Get("/analytics", s.recoverJSON(s.handleAnalytics))
			r.Get("/system/logs", s.handleSystemLogs)
		})
	})

	return r
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}

	s.server = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the video feed is an unbounded response
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		s.logger.Info("Server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
