package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
)

// ScraperHandler serves scraper control, job listing and settings
type ScraperHandler struct {
	controller interfaces.ScraperController
	validate   *validator.Validate
	logger     arbor.ILogger
}

// NewScraperHandler creates a new ScraperHandler
func NewScraperHandler(controller interfaces.ScraperController, logger arbor.ILogger) *ScraperHandler {
	return &ScraperHandler{
		controller: controller,
		validate:   validator.New(),
		logger:     logger,
	}
}

type controlRequest struct {
	Mode      string `json:"mode"`
	Workers   int    `json:"workers" validate:"min=0,max=64"`
	ErrorType string `json:"error_type"`
}

type seedRequest struct {
	From int `json:"from" validate:"min=1"`
	To   int `json:"to" validate:"gtefield=From"`
}

func (h *ScraperHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := DecodeJSON(r, v); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// StartHandler handles POST /api/scraper/start
func (h *ScraperHandler) StartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}
	phase, err := ParseMode(req.Mode)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	if err := h.controller.Start(phase, req.Workers); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteSuccess(w, fmt.Sprintf("%s scraper running", phase), map[string]interface{}{
		"pools": h.controller.Pools(),
	})
}

// PauseHandler handles POST /api/scraper/pause. Without a mode every phase is paused.
func (h *ScraperHandler) PauseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}

	var paused bool
	if req.Mode == "" {
		paused = h.controller.PauseAll()
	} else {
		phase, err := models.ParsePhase(req.Mode)
		if err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
		if paused, err = h.controller.Pause(phase); err != nil {
			WriteServiceError(w, h.logger, err)
			return
		}
	}

	message := "Scraper paused, in-flight jobs are finishing"
	if !paused {
		message = "Scraper was not running"
	}
	WriteSuccess(w, message, map[string]interface{}{
		"paused": paused,
		"pools":  h.controller.Pools(),
	})
}

// RetryFailedHandler handles POST /api/scraper/retry-failed and POST /api/jobs/retry
func (h *ScraperHandler) RetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req controlRequest
	if !h.decode(w, r, &req) {
		return
	}
	phase, err := ParseMode(req.Mode)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	kind, err := ParseErrorType(req.ErrorType)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	summary, err := h.controller.RetryFailed(r.Context(), phase, kind)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteSuccess(w, fmt.Sprintf("Requeued %s failed jobs", models.FormatCount(int64(summary.Requeued))), map[string]interface{}{
		"mode":     summary.Phase,
		"requeued": summary.Requeued,
	})
}

// SeedHandler handles POST /api/scraper/seed
func (h *ScraperHandler) SeedHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req seedRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.controller.Seed(r.Context(), req.From, req.To)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	WriteSuccess(w, fmt.Sprintf("Seeded %s index pages", models.FormatCount(int64(created))), map[string]interface{}{
		"created": created,
	})
}

// JobsHandler handles GET /api/jobs
func (h *ScraperHandler) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	phase, err := ParseMode(query.Get("mode"))
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	opts := models.JobListOptions{Phase: phase}
	if status := query.Get("status"); status != "" && status != "all" {
		if opts.Status, err = models.ParseJobStatus(status); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if opts.ErrorKind, err = ParseErrorType(query.Get("error_type")); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if opts.Page, err = QueryInt(r, "page", 1); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if opts.PageSize, err = QueryInt(r, "page_size", 0); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	page, err := h.controller.Jobs(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// GetSettingsHandler handles GET /api/settings
func (h *ScraperHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.controller.Settings())
}

// UpdateSettingsHandler handles POST and PUT /api/settings. The body is merged over the current settings.
func (h *ScraperHandler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	next := h.controller.Settings()
	if err := DecodeJSON(r, &next); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.controller.UpdateSettings(r.Context(), next)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, updated)
}
