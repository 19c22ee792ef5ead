// Package metrics exposes pipeline counters in the Prometheus format.
// All methods are safe on a nil *Metrics so callers may run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ppeguard"

// Metrics holds all application collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	framesStreamed prometheus.Counter
	snapshots      prometheus.Counter
	detections     *prometheus.CounterVec
	violations     prometheus.Counter
	inference      prometheus.Histogram
	streamClients  prometheus.Gauge
	cameraActive   prometheus.Gauge
	errors         *prometheus.CounterVec
}

// New creates the collectors and registers them
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_streamed_total",
			Help:      "Annotated frames written to live stream clients",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshots captured and persisted",
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_logged_total",
			Help:      "Detections appended to the log, by class",
		}, []string{"class"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_logged_total",
			Help:      "Logged detections matching a missing-PPE keyword",
		}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Detector latency per frame",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected live stream clients",
		}),
		cameraActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "camera_active",
			Help:      "Camera open (0=closed, 1=open)",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Pipeline errors, by stage",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesStreamed,
		m.snapshots,
		m.detections,
		m.violations,
		m.inference,
		m.streamClients,
		m.cameraActive,
		m.errors,
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FrameStreamed counts one frame written to a stream client
func (m *Metrics) FrameStreamed() {
	if m == nil {
		return
	}
	m.framesStreamed.Inc()
}

// SnapshotCaptured counts one persisted snapshot
func (m *Metrics) SnapshotCaptured() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// DetectionLogged counts one logged detection
func (m *Metrics) DetectionLogged(class string, violation bool) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(class).Inc()
	if violation {
		m.violations.Inc()
	}
}

// ObserveInference records detector latency
func (m *Metrics) ObserveInference(d time.Duration) {
	if m == nil {
		return
	}
	m.inference.Observe(d.Seconds())
}

// StreamClientConnected tracks a live stream client; call the returned func on disconnect
func (m *Metrics) StreamClientConnected() func() {
	if m == nil {
		return func() {}
	}
	m.streamClients.Inc()
	return m.streamClients.Dec
}

// SetCameraActive records whether the camera is open
func (m *Metrics) SetCameraActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.cameraActive.Set(1)
	} else {
		m.cameraActive.Set(0)
	}
}

// Error counts one failure at the given stage ("read", "detect", "encode", "store")
func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}
