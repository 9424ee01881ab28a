package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/app"
	"github.com/ternarybob/docket/internal/handlers"
)

func newBareServer() *Server {
	return &Server{app: &app.App{Logger: arbor.NewLogger()}}
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	s := newBareServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("nil case record")
	})
	mux.HandleFunc("/api/half", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		panic("after write")
	})
	handler := s.withMiddleware(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")

	// A response already on the wire is left alone
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/half", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Internal server error")
}

func TestMiddlewareCORS(t *testing.T) {
	s := newBareServer()
	called := false
	handler := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/scraper/start", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.False(t, called, "preflight never reaches the route")

	// Stream routes get the headers and the raw writer
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodRouter(t *testing.T) {
	router := MethodRouter{
		http.MethodGet:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		http.MethodPost: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) },
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/settings", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/settings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, OPTIONS, POST", rec.Header().Get("Allow"))
}

func TestResponseWriterRecordsStatusAndSize(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("listed"))
	rw.WriteHeader(http.StatusTeapot)
	rw.Flush()

	assert.Equal(t, http.StatusOK, rw.statusCode, "first status wins")
	assert.Equal(t, 6, rw.written)
	assert.True(t, rec.Flushed)
}
