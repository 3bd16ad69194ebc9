package control

import (
	"log/slog"
	"net/http"
)

// NewRouter creates a new HTTP router for the control API.
func NewRouter(orch Orchestrator, targets Targets, deviceID string, metrics http.Handler, logger *slog.Logger) http.Handler {
	h := NewHandlers(orch, targets, deviceID, logger)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /history", h.History)
	mux.HandleFunc("DELETE /history", h.ClearHistory)
	mux.HandleFunc("POST /capture", h.Capture)
	mux.HandleFunc("POST /timer/start", h.StartTimer)
	mux.HandleFunc("POST /timer/stop", h.StopTimer)
	mux.HandleFunc("GET /photo/last", h.LastPhoto)

	mux.HandleFunc("GET /targets", h.ListTargets)
	mux.HandleFunc("POST /targets", h.SaveTarget)
	mux.HandleFunc("DELETE /targets", h.ClearTargets)
	mux.HandleFunc("POST /targets/reload", h.ReloadTarget)
	mux.HandleFunc("POST /targets/{id}/select", h.SelectTarget)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return mux
}
