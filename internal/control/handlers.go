package control

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"camera2url/internal/api"
	"camera2url/internal/capture"
	"camera2url/internal/history"
	"camera2url/internal/store"
	"camera2url/internal/sysinfo"
)

// Orchestrator is the capture surface the handlers drive.
type Orchestrator interface {
	Snapshot() capture.Status
	TakeAndSendPhoto() error
	StartTimer(policy capture.TimerPolicy) error
	StopTimer()
	TimerPolicy() capture.TimerPolicy
	SetTarget(target *api.TargetConfig)
	History() *history.Store
	ClearHistory()
	LastPhoto() ([]byte, history.Origin, bool)
}

// Targets is the saved-target store.
type Targets interface {
	ListTargets() ([]api.TargetConfig, error)
	UpsertTarget(verb api.Verb, url, note string) (api.TargetConfig, error)
	SelectTarget(id string) (api.TargetConfig, error)
	CurrentTarget() (api.TargetConfig, bool, error)
	DeleteAllTargets() error
}

// Handlers holds dependencies for the control API handlers.
type Handlers struct {
	orch     Orchestrator
	targets  Targets
	deviceID string
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(orch Orchestrator, targets Targets, deviceID string, logger *slog.Logger) *Handlers {
	return &Handlers{orch: orch, targets: targets, deviceID: deviceID, logger: logger}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	DeviceID string         `json:"device_id" yaml:"device_id"`
	Host     sysinfo.Info   `json:"host" yaml:"host"`
	Capture  capture.Status `json:"capture" yaml:"capture"`
}

// HistoryResponse is the body of GET /history.
type HistoryResponse struct {
	Success int              `json:"success" yaml:"success"`
	Failure int              `json:"failure" yaml:"failure"`
	Records []history.Record `json:"records" yaml:"records"`
}

// TimerRequest is the optional body of POST /timer/start. A nil Value keeps
// the current interval value.
type TimerRequest struct {
	Value *int   `json:"value,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

// TargetRequest is the body of POST /targets.
type TargetRequest struct {
	Verb string `json:"verb"`
	URL  string `json:"url"`
	Note string `json:"note"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// captureError maps orchestrator precondition errors to HTTP statuses.
func (h *Handlers) captureError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrNoTarget):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, capture.ErrCameraNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Control request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// Status handles GET /status.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		DeviceID: h.deviceID,
		Host:     sysinfo.Collect(),
		Capture:  h.orch.Snapshot(),
	})
}

// History handles GET /history?limit=n.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	records := h.orch.History().Records()
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v >= 0 && v < len(records) {
			records = records[:v]
		}
	}
	success, failure := h.orch.History().Counts()
	writeJSON(w, http.StatusOK, HistoryResponse{Success: success, Failure: failure, Records: records})
}

// ClearHistory handles DELETE /history.
func (h *Handlers) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.orch.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// Capture handles POST /capture.
func (h *Handlers) Capture(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.TakeAndSendPhoto(); err != nil {
		h.captureError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.orch.Snapshot())
}

// StartTimer handles POST /timer/start with an optional TimerRequest body.
func (h *Handlers) StartTimer(w http.ResponseWriter, r *http.Request) {
	policy := h.orch.TimerPolicy()

	var req TimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Unit != "" {
		unit, err := capture.ParseUnit(req.Unit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		policy.Unit = unit
	}
	if req.Value != nil {
		policy.SetValue(*req.Value)
	}

	if err := h.orch.StartTimer(policy); err != nil {
		h.captureError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Snapshot())
}

// StopTimer handles POST /timer/stop.
func (h *Handlers) StopTimer(w http.ResponseWriter, r *http.Request) {
	h.orch.StopTimer()
	writeJSON(w, http.StatusOK, h.orch.Snapshot())
}

// LastPhoto handles GET /photo/last.
func (h *Handlers) LastPhoto(w http.ResponseWriter, r *http.Request) {
	data, origin, ok := h.orch.LastPhoto()
	if !ok {
		writeError(w, http.StatusNotFound, "no photo captured yet")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("X-Capture-Origin", string(origin))
	w.Write(data)
}

// ListTargets handles GET /targets.
func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.targets.ListTargets()
	if err != nil {
		h.logger.Error("List targets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if targets == nil {
		targets = []api.TargetConfig{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// SaveTarget handles POST /targets: the target is saved, moved to the front
// and becomes the active target.
func (h *Handlers) SaveTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	verb, err := api.ParseVerb(req.Verb)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := api.ParseTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := h.targets.UpsertTarget(verb, req.URL, req.Note)
	if err != nil {
		h.logger.Error("Save target failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.orch.SetTarget(&target)
	writeJSON(w, http.StatusOK, target)
}

// SelectTarget handles POST /targets/{id}/select.
func (h *Handlers) SelectTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.targets.SelectTarget(r.PathValue("id"))
	if errors.Is(err, store.ErrTargetNotFound) {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	if err != nil {
		h.logger.Error("Select target failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.orch.SetTarget(&target)
	writeJSON(w, http.StatusOK, target)
}

// ClearTargets handles DELETE /targets.
func (h *Handlers) ClearTargets(w http.ResponseWriter, r *http.Request) {
	if err := h.targets.DeleteAllTargets(); err != nil {
		h.logger.Error("Clear targets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.orch.SetTarget(nil)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadTarget handles POST /targets/reload: the orchestrator adopts the
// store's current target. Used after the CLI edits the store directly.
func (h *Handlers) ReloadTarget(w http.ResponseWriter, r *http.Request) {
	target, ok, err := h.targets.CurrentTarget()
	if err != nil {
		h.logger.Error("Reload target failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !ok {
		h.orch.SetTarget(nil)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.orch.SetTarget(&target)
	writeJSON(w, http.StatusOK, target)
}
