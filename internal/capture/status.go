package capture

import (
	"time"

	"camera2url/internal/api"
	"camera2url/internal/camera"
	"camera2url/internal/history"
)

// State is the lifecycle of the most recent manual capture.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateUploading State = "uploading"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ManualStatus is the transient status of the manual capture flow.
// Exchange is set only in StateSucceeded, Report only in StateFailed.
type ManualStatus struct {
	State    State                  `json:"state" yaml:"state"`
	Exchange *api.UploadExchange    `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	Report   *api.UploadErrorReport `json:"error,omitempty" yaml:"error,omitempty"`
}

func idle() ManualStatus { return ManualStatus{State: StateIdle} }

func succeeded(e api.UploadExchange) ManualStatus {
	return ManualStatus{State: StateSucceeded, Exchange: &e}
}

func failed(r *api.UploadErrorReport) ManualStatus {
	return ManualStatus{State: StateFailed, Report: r}
}

// Busy reports whether a manual capture is in progress.
func (s ManualStatus) Busy() bool {
	return s.State == StateCapturing || s.State == StateUploading
}

// Status is a point-in-time copy of everything the orchestrator exposes.
type Status struct {
	Target        *api.TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`
	Manual        ManualStatus      `json:"manual" yaml:"manual"`
	CameraReady   bool              `json:"camera_ready" yaml:"camera_ready"`
	CameraError   string            `json:"camera_error,omitempty" yaml:"camera_error,omitempty"`
	Devices       []camera.Device   `json:"devices" yaml:"devices"`
	CurrentDevice *camera.Device    `json:"current_device,omitempty" yaml:"current_device,omitempty"`

	TimerActive        bool        `json:"timer_active" yaml:"timer_active"`
	TimerPolicy        TimerPolicy `json:"timer_policy" yaml:"timer_policy"`
	TimerCaptureCount  int         `json:"timer_capture_count" yaml:"timer_capture_count"`
	CaptureCount       int         `json:"capture_count" yaml:"capture_count"`
	NextCaptureAt      *time.Time  `json:"next_capture_at,omitempty" yaml:"next_capture_at,omitempty"`
	LastTimerCaptureAt *time.Time  `json:"last_timer_capture_at,omitempty" yaml:"last_timer_capture_at,omitempty"`

	HistorySize  int `json:"history_size" yaml:"history_size"`
	SuccessCount int `json:"success_count" yaml:"success_count"`
	FailureCount int `json:"failure_count" yaml:"failure_count"`
}

// EventKind names an orchestrator notification.
type EventKind string

const (
	EventStateChanged     EventKind = "state_changed"
	EventConfigRequired   EventKind = "config_required"
	EventCameraPrepared   EventKind = "camera_prepared"
	EventCameraError      EventKind = "camera_error"
	EventDevicesChanged   EventKind = "devices_changed"
	EventTimerStarted     EventKind = "timer_started"
	EventTimerStopped     EventKind = "timer_stopped"
	EventCaptureRequested EventKind = "capture_requested"
	EventCaptureSkipped   EventKind = "capture_skipped"
	EventCaptureDropped   EventKind = "capture_dropped"
	EventUploadRecorded   EventKind = "upload_recorded"
	EventUploadFinished   EventKind = "upload_finished"
)

// Event is delivered to subscribers outside the orchestrator lock.
// Record and TargetID (the target the upload went to) are set for
// EventUploadRecorded and EventUploadFinished; Err for EventCameraError.
type Event struct {
	Kind     EventKind
	Origin   history.Origin
	Record   *history.Record
	TargetID string
	Err      error
}
