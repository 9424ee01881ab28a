package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
)

// CaseHandler serves case browsing
type CaseHandler struct {
	controller interfaces.ScraperController
	logger     arbor.ILogger
}

// NewCaseHandler creates a new CaseHandler
func NewCaseHandler(controller interfaces.ScraperController, logger arbor.ILogger) *CaseHandler {
	return &CaseHandler{controller: controller, logger: logger}
}

// ListHandler handles GET /api/cases
func (h *CaseHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	opts := models.CaseListOptions{
		Query:    strings.TrimSpace(query.Get("q")),
		Court:    query.Get("court"),
		Disposal: query.Get("disposal"),
		From:     query.Get("from"),
		To:       query.Get("to"),
	}

	var err error
	if opts.Page, err = QueryInt(r, "page", 1); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	if opts.PageSize, err = QueryInt(r, "limit", 0); err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}

	page, err := h.controller.Cases(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// GetHandler handles GET /api/cases/{cnr}
func (h *CaseHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	cnr := strings.TrimPrefix(r.URL.Path, "/api/cases/")
	if cnr == "" || strings.Contains(cnr, "/") {
		WriteError(w, http.StatusBadRequest, "case number is required")
		return
	}

	record, err := h.controller.Case(r.Context(), cnr)
	if err != nil {
		WriteServiceError(w, h.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}
