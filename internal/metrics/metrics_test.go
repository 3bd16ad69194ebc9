package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"camera2url/internal/capture"
	"camera2url/internal/history"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{ status capture.Status }

func (s staticSource) Snapshot() capture.Status { return s.status }

func TestObserveCountsEvents(t *testing.T) {
	m := New(nil)

	m.Observe(capture.Event{Kind: capture.EventCaptureRequested, Origin: history.OriginTimer})
	m.Observe(capture.Event{Kind: capture.EventCaptureRequested, Origin: history.OriginTimer})
	m.Observe(capture.Event{Kind: capture.EventCaptureRequested, Origin: history.OriginManual})
	m.Observe(capture.Event{Kind: capture.EventUploadFinished, Origin: history.OriginTimer, Record: &history.Record{Success: true}})
	m.Observe(capture.Event{Kind: capture.EventUploadFinished, Origin: history.OriginManual, Record: &history.Record{}})
	m.Observe(capture.Event{Kind: capture.EventCaptureDropped, Origin: history.OriginTimer})
	m.Observe(capture.Event{Kind: capture.EventCameraError})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.captures.WithLabelValues("timer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("timer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("manual", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("unreadable_image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.camera))
}

func TestHandlerExposesState(t *testing.T) {
	src := staticSource{status: capture.Status{
		TimerActive:  true,
		TimerPolicy:  capture.NewTimerPolicy(2, capture.Minutes),
		CameraReady:  true,
		SuccessCount: 4,
		FailureCount: 1,
		CaptureCount: 5,
	}}
	m := New(src)

	rec := httptest.NewRecorder()
	m.Handler(slog.New(slog.NewTextHandler(io.Discard, nil))).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		"camera2url_timer_active 1",
		"camera2url_timer_interval_seconds 120",
		"camera2url_camera_ready 1",
		`camera2url_history_records{result="success"} 4`,
		`camera2url_history_records{result="failure"} 1`,
		"camera2url_capture_number 5",
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
