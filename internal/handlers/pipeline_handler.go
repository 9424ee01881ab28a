package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
)

// defaultHistoryDays matches the dashboard's trend window
const defaultHistoryDays = 7

// PipelineHandler serves the dashboard summaries and the live count
type PipelineHandler struct {
	controller interfaces.ScraperController
	logger     arbor.ILogger
}

// NewPipelineHandler creates a new PipelineHandler
func NewPipelineHandler(controller interfaces.ScraperController, logger arbor.ILogger) *PipelineHandler {
	return &PipelineHandler{controller: controller, logger: logger}
}

// StatsHandler handles GET /api/stats
func (h *PipelineHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.controller.Stats(r.Context())
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ActivityHandler handles GET /api/activity?limit=
func (h *PipelineHandler) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, err := QueryInt(r, "limit", 20)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	entries, err := h.controller.Activity(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

// LiveCountHandler handles GET /api/live-count
func (h *PipelineHandler) LiveCountHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.controller.LiveCount())
}

// LiveCountHistoryHandler handles GET /api/live-count/history?days=
func (h *PipelineHandler) LiveCountHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	days, err := QueryInt(r, "days", defaultHistoryDays)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	history, err := h.controller.LiveCountHistory(r.Context(), days)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, history)
}

// RefreshHandler handles POST /api/live-count/refresh. The refresh runs in the background.
func (h *PipelineHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	message := "External count refresh started"
	if !h.controller.RefreshExternalCount() {
		message = "External count refresh already in progress"
	}
	WriteAccepted(w, message, map[string]interface{}{
		"live_count": h.controller.LiveCount(),
	})
}
