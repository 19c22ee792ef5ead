package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Spatial-NVR/PPEGuard/internal/analytics"
	"github.com/Spatial-NVR/PPEGuard/internal/export"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/pipeline"
	"github.com/Spatial-NVR/PPEGuard/internal/session"
)

// RecentLogLimit is the number of records returned by /api/get-logs
const RecentLogLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := make(map[string]string, len(s.cfg.Checks))
	for name, check := range s.cfg.Checks {
		if err := check(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleStartCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.StartCamera(r.Context()); err != nil {
		s.logger.Error("Failed to start camera", "error", err)
		Error(w, http.StatusInternalServerError, "CAMERA_UNAVAILABLE", "Failed to open camera")
		return
	}
	Status(w, "Camera started")
}

func (s *Server) handleStopCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.StopCamera(r.Context()); err != nil {
		s.logger.Error("Failed to stop camera", "error", err)
		InternalError(w, err.Error())
		return
	}
	Status(w, "Camera stopped")
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", pipeline.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if err := s.cfg.Pipeline.Stream(r.Context(), w, flusher.Flush); err != nil {
		s.logger.Warn("Video feed ended", "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	mode, errs := DecodeFilterRequest(r.Body)
	if errs.HasErrors() {
		ValidationErrorResponse(w, "Invalid filter", errs)
		return
	}

	if err := s.cfg.Pipeline.SetFilter(r.Context(), mode); err != nil {
		if errors.Is(err, session.ErrInvalidFilter) {
			BadRequest(w, "Invalid filter")
			return
		}
		InternalError(w, err.Error())
		return
	}
	Status(w, fmt.Sprintf("Filter set to %s", mode))
}

func (s *Server) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Pipeline.Capture(r.Context())
	switch {
	case err == nil:
		OK(w, result)
	case errors.Is(err, session.ErrCameraNotActive):
		Error(w, http.StatusBadRequest, "CAMERA_NOT_ACTIVE", "Camera not active")
	case errors.Is(err, session.ErrCaptureFailed):
		s.logger.Error("Snapshot read failed", "error", err)
		Error(w, http.StatusInternalServerError, "CAPTURE_FAILED", "Failed to capture frame")
	default:
		s.logger.Error("Snapshot failed", "error", err)
		InternalError(w, err.Error())
	}
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	records, err := s.cfg.Store.Tail(r.Context(), RecentLogLimit)
	if errors.Is(err, logstore.ErrNoLog) {
		OK(w, []logstore.Record{})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read logs", "error", err)
		InternalError(w, err.Error())
		return
	}
	OK(w, records)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.cfg.Pipeline.Status(r.Context())
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, status)
}

func (s *Server) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	records, err := s.cfg.Store.All(r.Context())
	if errors.Is(err, logstore.ErrNoLog) {
		NotFound(w, "No logs available")
		return
	}
	if err != nil {
		s.logger.Error("Failed to read logs for export", "error", err)
		InternalError(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, records); err != nil {
		s.logger.Error("Failed to build workbook", "error", err)
		InternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(s.now())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	records, err := s.cfg.Store.All(r.Context())
	if errors.Is(err, logstore.ErrNoLog) {
		OK(w, analytics.Empty())
		return
	}
	if err != nil {
		s.logger.Error("Analytics failed", "error", err)
		InternalError(w, err.Error())
		return
	}
	OK(w, analytics.Aggregate(records))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if err := ValidateSnapshotName(name); err != nil {
		NotFound(w, "Snapshot not found")
		return
	}

	path := filepath.Join(s.cfg.Pipeline.SnapshotDir(), name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		NotFound(w, "Snapshot not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Logs == nil {
		OK(w, []interface{}{})
		return
	}
	limit, err := ParseLimit(r.URL.Query().Get("limit"), 100, 1000)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	OK(w, s.cfg.Logs.Recent(limit))
}

// handleLogStream pushes new log entries as server-sent events
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalError(w, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.cfg.Logs.Subscribe()
	defer s.cfg.Logs.Unsubscribe(ch)

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// recoverJSON turns a panic in an aggregation handler into a 500 with the
// panic text, logging the stack.
func (s *Server) recoverJSON(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("Handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				InternalError(w, fmt.Sprint(rec))
			}
		}()
		next(w, r)
	}
}
