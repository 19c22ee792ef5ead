package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.SnapshotCaptured()
	m.DetectionLogged("helmet", false)
	m.DetectionLogged("no-mask", true)
	m.DetectionLogged("no-mask", true)
	m.FrameStreamed()
	m.Error("detect")

	if got := testutil.ToFloat64(m.snapshots); got != 1 {
		t.Errorf("Expected 1 snapshot, got %v", got)
	}
	if got := testutil.ToFloat64(m.detections.WithLabelValues("no-mask")); got != 2 {
		t.Errorf("Expected 2 no-mask detections, got %v", got)
	}
	if got := testutil.ToFloat64(m.violations); got != 2 {
		t.Errorf("Expected 2 violations, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("detect")); got != 1 {
		t.Errorf("Expected 1 detect error, got %v", got)
	}
}

func TestMetrics_StreamClients(t *testing.T) {
	m := New()

	done1 := m.StreamClientConnected()
	done2 := m.StreamClientConnected()
	if got := testutil.ToFloat64(m.streamClients); got != 2 {
		t.Errorf("Expected 2 clients, got %v", got)
	}

	done1()
	done2()
	if got := testutil.ToFloat64(m.streamClients); got != 0 {
		t.Errorf("Expected 0 clients, got %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	m.SnapshotCaptured()
	m.DetectionLogged("helmet", false)
	m.ObserveInference(time.Millisecond)
	m.SetCameraActive(true)
	m.Error("read")
	m.FrameStreamed()
	m.StreamClientConnected()()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetCameraActive(true)
	m.ObserveInference(30 * time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{"ppeguard_camera_active 1", "ppeguard_inference_duration_seconds_count 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}
