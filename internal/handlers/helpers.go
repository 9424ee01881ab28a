package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/models"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response with extra fields merged in.
func WriteSuccess(w http.ResponseWriter, message string, fields map[string]interface{}) error {
	body := map[string]interface{}{
		"success": true,
		"message": message,
	}
	for k, v := range fields {
		body[k] = v
	}
	return WriteJSON(w, http.StatusOK, body)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// WriteAccepted writes a 202 response for work that continues in the background.
func WriteAccepted(w http.ResponseWriter, message string, fields map[string]interface{}) error {
	body := map[string]interface{}{
		"success": true,
		"status":  "in_progress",
		"message": message,
	}
	for k, v := range fields {
		body[k] = v
	}
	return WriteJSON(w, http.StatusAccepted, body)
}

// WriteServiceError maps controller errors onto HTTP status codes
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidPhase), errors.Is(err, models.ErrInvalidArgument):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrInvariantViolation):
		logger.Error().Err(err).Msg("Invariant violation")
		WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// DecodeJSON decodes an optional JSON body into v. An empty body leaves v unchanged.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// QueryInt reads an integer query parameter, returning fallback when absent
func QueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidArgument, name)
	}
	return n, nil
}

// ParseMode reads a phase name, defaulting to the index phase when empty
func ParseMode(mode string) (models.Phase, error) {
	if mode == "" {
		return models.PhaseIndex, nil
	}
	return models.ParsePhase(mode)
}

// ParseErrorType reads an optional error kind; empty and "all" match every kind
func ParseErrorType(value string) (models.ErrorKind, error) {
	if value == "" || value == "all" {
		return "", nil
	}
	kind, err := models.ParseErrorKind(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidArgument, err)
	}
	return kind, nil
}
