// Package capture arbitrates between manual and timer captures, routes each
// photo through the upload client and keeps the outcome history.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"sync"
	"time"

	"camera2url/internal/api"
	"camera2url/internal/camera"
	"camera2url/internal/history"
)

var (
	// ErrNoTarget is returned when no upload target is configured.
	ErrNoTarget = errors.New("no upload target configured")
	// ErrCameraNotReady is returned when the camera has not been prepared.
	// Preparation is started in the background.
	ErrCameraNotReady = errors.New("camera not ready")
)

// Uploader delivers one photo to a target. Errors are *api.UploadErrorReport.
type Uploader interface {
	Upload(ctx context.Context, photo []byte, target api.TargetConfig) (api.UploadExchange, error)
}

// Options configures an Orchestrator.
type Options struct {
	Camera   camera.Camera
	Uploader Uploader
	History  *history.Store
	Logger   *slog.Logger
	Policy   TimerPolicy
	Target   *api.TargetConfig
	// Context bounds the orchestrator's uploads and background work.
	Context context.Context
	// RecordManual appends manual outcomes to the history as well.
	RecordManual bool
	Now          func() time.Time
}

// Orchestrator is the capture state machine. All methods are safe for
// concurrent use.
type Orchestrator struct {
	cam      camera.Camera
	uploader Uploader
	history  *history.Store
	logger   *slog.Logger
	now      func() time.Time

	// captureMu serializes capture issuance with StopTimer.
	captureMu sync.Mutex

	mu             sync.Mutex
	target         *api.TargetConfig
	manual         ManualStatus
	recordManual   bool
	cameraReady    bool
	cameraErr      error
	preparing      bool
	devices        []camera.Device
	current        *camera.Device
	timerActive    bool
	timerCancel    context.CancelFunc
	timerCount     int
	captureCount   int
	nextRequest    camera.RequestID
	pending        map[camera.RequestID]request
	lastTimerPhoto []byte
	lastTimerAt    time.Time
	lastPhoto      []byte
	lastOrigin     history.Origin
	nextCaptureAt  time.Time
	policy         TimerPolicy

	subMu       sync.RWMutex
	subscribers map[int]func(Event)
	nextSubID   int

	ctx     context.Context
	cancel  context.CancelFunc
	uploads sync.WaitGroup
	workers sync.WaitGroup
}

// request is an issued capture awaiting its camera result.
type request struct {
	origin history.Origin
	// number is fixed at trigger time for timer captures; manual captures
	// allocate theirs when the photo arrives.
	number int
	target api.TargetConfig
}

// New creates an orchestrator and registers it as the camera delegate.
func New(opts Options) *Orchestrator {
	if opts.History == nil {
		opts.History = history.NewStore(history.MaxRecords)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy.Unit == "" {
		opts.Policy = DefaultTimerPolicy()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	ctx, cancel := context.WithCancel(opts.Context)

	o := &Orchestrator{
		cam:          opts.Camera,
		uploader:     opts.Uploader,
		history:      opts.History,
		logger:       opts.Logger,
		now:          opts.Now,
		target:       opts.Target,
		manual:       idle(),
		recordManual: opts.RecordManual,
		policy:       NewTimerPolicy(opts.Policy.Value, opts.Policy.Unit),
		pending:      make(map[camera.RequestID]request),
		subscribers:  make(map[int]func(Event)),
		ctx:          ctx,
		cancel:       cancel,
	}
	o.cam.SetDelegate(delegate{o})
	return o
}

// Subscribe registers fn for every event and returns a function removing it.
// fn runs on the goroutine that caused the event and must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.subMu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	o.subMu.Unlock()

	return func() {
		o.subMu.Lock()
		delete(o.subscribers, id)
		o.subMu.Unlock()
	}
}

func (o *Orchestrator) emit(e Event) {
	o.subMu.RLock()
	fns := make([]func(Event), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		fns = append(fns, fn)
	}
	o.subMu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
}

// History returns the outcome store.
func (o *Orchestrator) History() *history.Store {
	return o.history
}

// SetTarget replaces the upload target. nil clears it.
func (o *Orchestrator) SetTarget(target *api.TargetConfig) {
	o.mu.Lock()
	if target != nil {
		t := *target
		target = &t
	}
	o.target = target
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})
}

// Target returns a copy of the current target.
func (o *Orchestrator) Target() (api.TargetConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil {
		return api.TargetConfig{}, false
	}
	return *o.target, true
}

// SetTimerPolicy changes the interval. A running timer picks it up on its
// next cycle.
func (o *Orchestrator) SetTimerPolicy(p TimerPolicy) {
	o.mu.Lock()
	o.policy = NewTimerPolicy(p.Value, p.Unit)
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})
}

func (o *Orchestrator) TimerPolicy() TimerPolicy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.policy
}

// SetRecordManual toggles whether manual outcomes enter the history.
func (o *Orchestrator) SetRecordManual(on bool) {
	o.mu.Lock()
	o.recordManual = on
	o.mu.Unlock()
}

// ResetManualStatus returns the manual status to idle.
func (o *Orchestrator) ResetManualStatus() {
	o.mu.Lock()
	o.manual = idle()
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})
}

// ClearHistory empties the outcome history.
func (o *Orchestrator) ClearHistory() {
	o.history.Clear()
	o.emit(Event{Kind: EventStateChanged})
}

// PrepareCamera prepares and starts the camera. Concurrent calls while a
// preparation is running return immediately.
func (o *Orchestrator) PrepareCamera(ctx context.Context) error {
	o.mu.Lock()
	if o.preparing {
		o.mu.Unlock()
		return nil
	}
	o.preparing = true
	o.mu.Unlock()

	err := o.cam.Prepare(ctx)
	if err == nil {
		err = o.cam.Start()
	}

	o.mu.Lock()
	o.preparing = false
	o.cameraReady = err == nil
	o.cameraErr = err
	o.refreshDevicesLocked()
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("Camera preparation failed", "error", err)
		o.emit(Event{Kind: EventCameraError, Err: err})
		return fmt.Errorf("failed to prepare camera: %w", err)
	}
	o.logger.Info("Camera ready")
	o.emit(Event{Kind: EventCameraPrepared})
	return nil
}

func (o *Orchestrator) prepareInBackground() {
	o.workers.Add(1)
	go func() {
		defer o.workers.Done()
		_ = o.PrepareCamera(o.ctx)
	}()
}

// StopCamera stops the camera. Timer ticks are skipped until it is prepared
// again.
func (o *Orchestrator) StopCamera() error {
	err := o.cam.Stop()
	o.mu.Lock()
	o.cameraReady = false
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})
	if err != nil {
		return fmt.Errorf("failed to stop camera: %w", err)
	}
	return nil
}

// SwitchCamera selects another device.
func (o *Orchestrator) SwitchCamera(id string) error {
	if err := o.cam.Switch(id); err != nil {
		return fmt.Errorf("failed to switch camera: %w", err)
	}
	o.mu.Lock()
	o.refreshDevicesLocked()
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})
	return nil
}

func (o *Orchestrator) refreshDevicesLocked() {
	o.devices = o.cam.Devices()
	o.current = nil
	if d, ok := o.cam.Current(); ok {
		o.current = &d
	}
}

// checkReadyLocked returns the precondition error for a capture, or nil.
// Must be called with mu held.
func (o *Orchestrator) checkReadyLocked() error {
	if o.target == nil {
		return ErrNoTarget
	}
	if !o.cameraReady {
		return ErrCameraNotReady
	}
	return nil
}

func (o *Orchestrator) fallback(err error) error {
	switch {
	case errors.Is(err, ErrNoTarget):
		o.emit(Event{Kind: EventConfigRequired})
	case errors.Is(err, ErrCameraNotReady):
		o.prepareInBackground()
	}
	return err
}

// TakeAndSendPhoto requests one manual capture. The outcome is reported
// through the manual status and events.
func (o *Orchestrator) TakeAndSendPhoto() error {
	o.captureMu.Lock()
	defer o.captureMu.Unlock()

	o.mu.Lock()
	if err := o.checkReadyLocked(); err != nil {
		o.mu.Unlock()
		return o.fallback(err)
	}
	o.manual = ManualStatus{State: StateCapturing}
	id := o.issueLocked(request{origin: history.OriginManual, target: *o.target})
	o.mu.Unlock()

	o.emit(Event{Kind: EventStateChanged})
	o.emit(Event{Kind: EventCaptureRequested, Origin: history.OriginManual})
	o.cam.Capture(id)
	return nil
}

// StartTimer starts repeating captures. The first capture is requested
// before StartTimer returns. Starting an active timer is a no-op.
func (o *Orchestrator) StartTimer(policy TimerPolicy) error {
	o.captureMu.Lock()
	defer o.captureMu.Unlock()

	o.mu.Lock()
	if o.timerActive {
		o.mu.Unlock()
		return nil
	}
	if err := o.checkReadyLocked(); err != nil {
		o.mu.Unlock()
		return o.fallback(err)
	}
	if policy.Unit != "" {
		o.policy = NewTimerPolicy(policy.Value, policy.Unit)
	}
	ctx, cancel := context.WithCancel(o.ctx)
	o.timerActive = true
	o.timerCancel = cancel
	o.timerCount = 0
	o.lastTimerPhoto = nil
	o.lastTimerAt = time.Time{}
	p := o.policy
	o.mu.Unlock()

	o.logger.Info("Timer started", "interval", p.String())
	o.emit(Event{Kind: EventTimerStarted})

	o.issueTimerCaptureLocked(ctx)

	o.workers.Add(1)
	go o.runTimer(ctx)
	return nil
}

// StopTimer cancels timer mode. No capture is requested after it returns;
// uploads already in flight still complete and are recorded.
func (o *Orchestrator) StopTimer() {
	o.captureMu.Lock()
	defer o.captureMu.Unlock()

	o.mu.Lock()
	if !o.timerActive {
		o.mu.Unlock()
		return
	}
	o.timerActive = false
	cancel := o.timerCancel
	o.timerCancel = nil
	o.nextCaptureAt = time.Time{}
	o.mu.Unlock()

	cancel()
	o.logger.Info("Timer stopped")
	o.emit(Event{Kind: EventTimerStopped})
}

func (o *Orchestrator) runTimer(ctx context.Context) {
	defer o.workers.Done()
	for {
		o.mu.Lock()
		interval := o.policy.Interval()
		o.nextCaptureAt = o.now().Add(interval)
		o.mu.Unlock()
		o.emit(Event{Kind: EventStateChanged})

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		o.captureMu.Lock()
		ok := o.issueTimerCaptureLocked(ctx)
		o.captureMu.Unlock()
		if !ok {
			return
		}
	}
}

// issueTimerCaptureLocked requests one timer capture. It reports false once
// the timer is gone. captureMu must be held.
func (o *Orchestrator) issueTimerCaptureLocked(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	o.mu.Lock()
	if !o.timerActive {
		o.mu.Unlock()
		return false
	}
	if !o.cameraReady {
		o.mu.Unlock()
		o.logger.Warn("Skipping timer capture, camera not ready")
		o.emit(Event{Kind: EventCaptureSkipped, Origin: history.OriginTimer})
		return true
	}
	if o.target == nil {
		o.mu.Unlock()
		o.logger.Warn("Skipping timer capture, no upload target")
		o.emit(Event{Kind: EventConfigRequired})
		o.emit(Event{Kind: EventCaptureSkipped, Origin: history.OriginTimer})
		return true
	}
	o.captureCount++
	id := o.issueLocked(request{origin: history.OriginTimer, number: o.captureCount, target: *o.target})
	o.mu.Unlock()

	o.emit(Event{Kind: EventCaptureRequested, Origin: history.OriginTimer})
	o.cam.Capture(id)
	return true
}

// issueLocked registers r and returns the id its camera result will carry.
func (o *Orchestrator) issueLocked(r request) camera.RequestID {
	o.nextRequest++
	o.pending[o.nextRequest] = r
	return o.nextRequest
}

// takeLocked consumes the request id answers. A result nobody asked for
// counts as manual.
func (o *Orchestrator) takeLocked(id camera.RequestID) (request, bool) {
	r, ok := o.pending[id]
	if !ok {
		return request{origin: history.OriginManual}, false
	}
	delete(o.pending, id)
	return r, true
}

// OnPhotoCaptured handles the photo answering capture request id.
func (o *Orchestrator) OnPhotoCaptured(id camera.RequestID, data []byte) {
	o.mu.Lock()
	req, requested := o.takeLocked(id)
	origin := req.origin

	if !decodable(data) {
		if origin == history.OriginTimer {
			o.mu.Unlock()
			o.logger.Warn("Dropping unreadable timer capture", "bytes", len(data))
			o.emit(Event{Kind: EventCaptureDropped, Origin: origin})
			return
		}
		response := "Camera produced unreadable data."
		o.manual = failed(api.NewErrorReport("Failed to read captured image.", "No request sent.", &response))
		o.mu.Unlock()
		o.emit(Event{Kind: EventStateChanged})
		return
	}

	if !requested {
		if o.target == nil {
			o.manual = failed(api.NewErrorReport("No upload target configured.", "No request sent.", nil))
			o.mu.Unlock()
			o.emit(Event{Kind: EventConfigRequired})
			return
		}
		req.target = *o.target
	}
	target := req.target

	number := req.number
	if number == 0 {
		o.captureCount++
		number = o.captureCount
	}
	o.lastPhoto = data
	o.lastOrigin = origin
	if origin == history.OriginTimer {
		o.lastTimerPhoto = data
		o.lastTimerAt = o.now()
		o.timerCount++
	} else {
		o.manual = ManualStatus{State: StateUploading}
	}
	o.mu.Unlock()
	o.emit(Event{Kind: EventStateChanged})

	o.uploads.Add(1)
	go func() {
		defer o.uploads.Done()
		exchange, err := o.uploader.Upload(o.ctx, data, target)
		o.finishUpload(number, origin, target.ID, exchange, err)
	}()
}

func (o *Orchestrator) finishUpload(number int, origin history.Origin, targetID string, exchange api.UploadExchange, err error) {
	var rec history.Record
	if err == nil {
		rec = history.SuccessRecord(number, o.now(), exchange, origin)
	} else {
		rec = history.FailureRecord(number, o.now(), api.AsErrorReport(err), origin)
	}

	o.mu.Lock()
	if origin == history.OriginManual {
		if err == nil {
			o.manual = succeeded(exchange)
		} else {
			o.manual = failed(api.AsErrorReport(err))
		}
	}
	record := origin == history.OriginTimer || o.recordManual
	o.mu.Unlock()

	if record {
		o.history.Append(rec)
	}

	o.logger.Info("Upload finished",
		"capture", number,
		"origin", string(origin),
		"success", rec.Success,
		"status", rec.DisplayStatus(),
	)

	o.emit(Event{Kind: EventUploadFinished, Origin: origin, Record: &rec, TargetID: targetID})
	if record {
		o.emit(Event{Kind: EventUploadRecorded, Origin: origin, Record: &rec, TargetID: targetID})
	}
	o.emit(Event{Kind: EventStateChanged})
}

// OnCameraError handles the failure of capture request id.
func (o *Orchestrator) OnCameraError(id camera.RequestID, err error) {
	o.mu.Lock()
	req, requested := o.takeLocked(id)
	origin := req.origin
	o.cameraErr = err
	if requested && origin == history.OriginManual {
		o.manual = failed(api.NewErrorReport("Camera error: "+err.Error(), "No request sent.", nil))
	}
	o.mu.Unlock()

	if !requested {
		origin = ""
	}
	o.logger.Warn("Camera error", "request", uint64(id), "origin", string(origin), "error", err)
	o.emit(Event{Kind: EventCameraError, Origin: origin, Err: err})
	o.emit(Event{Kind: EventStateChanged})
}

// OnDevicesChanged refreshes the exposed device list.
func (o *Orchestrator) OnDevicesChanged() {
	o.mu.Lock()
	o.refreshDevicesLocked()
	o.mu.Unlock()
	o.emit(Event{Kind: EventDevicesChanged})
}

// LastPhoto returns the most recently captured photo of any origin.
func (o *Orchestrator) LastPhoto() ([]byte, history.Origin, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPhoto, o.lastOrigin, o.lastPhoto != nil
}

// LastTimerPhoto returns the last timer photo and when it was captured.
func (o *Orchestrator) LastTimerPhoto() ([]byte, time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTimerPhoto, o.lastTimerAt, o.lastTimerPhoto != nil
}

// Snapshot returns a copy of the observable state.
func (o *Orchestrator) Snapshot() Status {
	success, failure := o.history.Counts()

	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Manual:            o.manual,
		CameraReady:       o.cameraReady,
		Devices:           append([]camera.Device(nil), o.devices...),
		TimerActive:       o.timerActive,
		TimerPolicy:       o.policy,
		TimerCaptureCount: o.timerCount,
		CaptureCount:      o.captureCount,
		HistorySize:       o.history.Len(),
		SuccessCount:      success,
		FailureCount:      failure,
	}
	if o.target != nil {
		t := *o.target
		s.Target = &t
	}
	if o.cameraErr != nil {
		s.CameraError = o.cameraErr.Error()
	}
	if o.current != nil {
		d := *o.current
		s.CurrentDevice = &d
	}
	if o.timerActive && !o.nextCaptureAt.IsZero() {
		t := o.nextCaptureAt
		s.NextCaptureAt = &t
	}
	if !o.lastTimerAt.IsZero() {
		t := o.lastTimerAt
		s.LastTimerCaptureAt = &t
	}
	return s
}

// Wait blocks until every in-flight upload has been recorded.
func (o *Orchestrator) Wait() {
	o.uploads.Wait()
}

// Close stops the timer, waits for uploads and stops the camera.
func (o *Orchestrator) Close() error {
	o.StopTimer()
	o.uploads.Wait()
	o.cancel()
	o.workers.Wait()
	return o.cam.Stop()
}

// decodable reports whether data is a JPEG, PNG or GIF image.
func decodable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err == nil
}

// delegate adapts the orchestrator to camera.Delegate.
type delegate struct{ o *Orchestrator }

func (d delegate) PhotoCaptured(id camera.RequestID, data []byte) { d.o.OnPhotoCaptured(id, data) }
func (d delegate) CaptureFailed(id camera.RequestID, err error)   { d.o.OnCameraError(id, err) }
func (d delegate) DevicesChanged()                                { d.o.OnDevicesChanged() }
