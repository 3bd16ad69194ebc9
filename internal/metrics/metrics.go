// Package metrics exposes capture and upload counters plus live orchestrator
// state in Prometheus format.
package metrics

import (
	"log/slog"
	"net/http"

	"camera2url/internal/capture"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "camera2url"

// StatusSource is satisfied by *capture.Orchestrator.
type StatusSource interface {
	Snapshot() capture.Status
}

// Metrics owns a private registry so tests and multiple daemons don't clash.
type Metrics struct {
	Registry *prometheus.Registry

	captures *prometheus.CounterVec
	uploads  *prometheus.CounterVec
	dropped  *prometheus.CounterVec
	camera   prometheus.Counter
}

// New registers the counters and a collector reading src on every scrape.
func New(src StatusSource) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_requested_total",
			Help:      "Capture requests issued to the camera.",
		}, []string{"origin"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by origin and result.",
		}, []string{"origin", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_not_uploaded_total",
			Help:      "Timer captures skipped or dropped before upload.",
		}, []string{"reason"}),
		camera: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_errors_total",
			Help:      "Camera preparation and capture failures.",
		}),
	}
	m.Registry.MustRegister(m.captures, m.uploads, m.dropped, m.camera)
	m.Registry.MustRegister(collectors.NewGoCollector())
	if src != nil {
		m.Registry.MustRegister(&stateCollector{src: src})
	}
	return m
}

// Observe updates the counters from an orchestrator event.
func (m *Metrics) Observe(e capture.Event) {
	switch e.Kind {
	case capture.EventCaptureRequested:
		m.captures.WithLabelValues(string(e.Origin)).Inc()
	case capture.EventUploadFinished:
		result := "failure"
		if e.Record != nil && e.Record.Success {
			result = "success"
		}
		m.uploads.WithLabelValues(string(e.Origin), result).Inc()
	case capture.EventCaptureSkipped:
		m.dropped.WithLabelValues("camera_not_ready").Inc()
	case capture.EventCaptureDropped:
		m.dropped.WithLabelValues("unreadable_image").Inc()
	case capture.EventCameraError:
		m.camera.Inc()
	}
}

// Handler serves the registry.
func (m *Metrics) Handler(logger *slog.Logger) http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	})
}

var (
	timerActiveDesc = prometheus.NewDesc(
		namespace+"_timer_active", "1 while timer mode is running.", nil, nil,
	)
	timerIntervalDesc = prometheus.NewDesc(
		namespace+"_timer_interval_seconds", "Configured timer interval.", nil, nil,
	)
	cameraReadyDesc = prometheus.NewDesc(
		namespace+"_camera_ready", "1 when the camera is prepared.", nil, nil,
	)
	historyDesc = prometheus.NewDesc(
		namespace+"_history_records", "Outcomes in the rolling history window by result.", []string{"result"}, nil,
	)
	captureNumberDesc = prometheus.NewDesc(
		namespace+"_capture_number", "Last allocated capture number.", nil, nil,
	)
)

// stateCollector reads a fresh snapshot on every scrape.
type stateCollector struct {
	src StatusSource
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- timerActiveDesc
	ch <- timerIntervalDesc
	ch <- cameraReadyDesc
	ch <- historyDesc
	ch <- captureNumberDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	ch <- prometheus.MustNewConstMetric(timerActiveDesc, prometheus.GaugeValue, boolValue(s.TimerActive))
	ch <- prometheus.MustNewConstMetric(timerIntervalDesc, prometheus.GaugeValue, float64(s.TimerPolicy.IntervalSeconds()))
	ch <- prometheus.MustNewConstMetric(cameraReadyDesc, prometheus.GaugeValue, boolValue(s.CameraReady))
	ch <- prometheus.MustNewConstMetric(historyDesc, prometheus.GaugeValue, float64(s.SuccessCount), "success")
	ch <- prometheus.MustNewConstMetric(historyDesc, prometheus.GaugeValue, float64(s.FailureCount), "failure")
	ch <- prometheus.MustNewConstMetric(captureNumberDesc, prometheus.CounterValue, float64(s.CaptureCount))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
