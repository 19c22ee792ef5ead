package api

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/Spatial-NVR/PPEGuard/internal/camera"
	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/events"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
	"github.com/Spatial-NVR/PPEGuard/internal/metrics"
	"github.com/Spatial-NVR/PPEGuard/internal/pipeline"
	"github.com/Spatial-NVR/PPEGuard/internal/session"
)

// TestEndToEnd wires the real components together: a detector server behind
// the HTTP client, the SQLite log, the embedded bus and the websocket hub.
func TestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	store, err := logstore.Open(ctx, logstore.Config{Backend: logstore.BackendSQLite, DataDir: dir})
	if err != nil {
		t.Fatalf("Failed to open SQLite store: %v", err)
	}
	defer store.Close()

	bus, err := events.NewBus(events.BusConfig{})
	if err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	defer bus.Stop()

	detServer := detection.NewServer(detection.ServerConfig{
		Address: "127.0.0.1:0",
		ModelID: "fake",
		Detector: detection.DetectorFunc(func(ctx context.Context, img image.Image) ([]detection.Detection, error) {
			return []detection.Detection{
				{ClassName: "Hardhat", Confidence: 0.88, Box: detection.Box{X1: 1, Y1: 1, X2: 20, Y2: 20}},
				{ClassName: "NO-Mask", Confidence: 0.77, Box: detection.Box{X1: 30, Y1: 5, X2: 60, Y2: 40}},
				{ClassName: "vest", Confidence: 0.2},
			}, nil
		}),
	})
	if err := detServer.Start(ctx); err != nil {
		t.Fatalf("Failed to start detector server: %v", err)
	}
	defer detServer.Stop(context.Background())

	client, err := detection.NewClient(detection.ClientConfig{Address: detServer.Address()})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	src := camera.NewStillSource(solidFrame())
	src.Loop = true
	sess := session.New(func(ctx context.Context) (camera.Source, error) { return src, nil })
	defer sess.Close()

	p, err := pipeline.New(pipeline.Config{
		Session:     sess,
		Detector:    client,
		Store:       store,
		SnapshotDir: filepath.Join(dir, "snapshots"),
		Publisher:   bus,
	})
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}

	hub := NewHub()
	go hub.Run(ctx)
	if _, err := bus.SubscribeEvents(events.SubjectAll, hub.BroadcastEvent); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	srv, err := NewServer(Config{
		Pipeline: p,
		Store:    store,
		Hub:      hub,
		Metrics:  metrics.New(),
		Checks: map[string]HealthCheck{
			"detector": client.Health,
			"events":   bus.HealthCheck,
			"log":      store.Health,
		},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	post := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		return resp
	}

	resp := post("/api/start-camera")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected start-camera 200, got %d", resp.StatusCode)
	}

	resp = post("/api/capture-snapshot")
	var result pipeline.CaptureResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode capture result: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected capture 200, got %d", resp.StatusCode)
	}
	if len(result.Detections) != 2 {
		t.Fatalf("Expected 2 detections above the client threshold, got %+v", result.Detections)
	}

	var subjects []string
	for len(subjects) < 3 {
		msg := readMessage(t, conn)
		subjects = append(subjects, msg.Subject)
	}
	wantSubjects := []string{
		events.SubjectCameraStarted,
		events.SubjectSnapshotCaptured,
		events.SubjectViolationDetected,
	}
	if diff := cmp.Diff(wantSubjects, subjects); diff != "" {
		t.Errorf("Event subjects mismatch (-want +got):\n%s", diff)
	}

	resp, err = http.Get(ts.URL + "/api/get-logs")
	if err != nil {
		t.Fatalf("GET get-logs failed: %v", err)
	}
	var records []logstore.Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode logs: %v", err)
	}
	resp.Body.Close()

	var classes []string
	for _, r := range records {
		classes = append(classes, r.Class)
		if r.Snapshot != result.Path {
			t.Errorf("Expected snapshot %s, got %s", result.Path, r.Snapshot)
		}
	}
	if diff := cmp.Diff([]string{"Hardhat", "NO-Mask"}, classes); diff != "" {
		t.Errorf("Logged classes mismatch (-want +got):\n%s", diff)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy service, got %d", resp.StatusCode)
	}
}
