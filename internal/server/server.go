package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/docket/internal/app"
)

// Server serves the dashboard API, the activity websocket and MCP
type Server struct {
	app    *app.App
	server *http.Server
}

// New builds the server for an opened app. The write timeout stays zero because
// /ws and /mcp hold their connections for the life of the client.
func New(application *app.App) *Server {
	s := &Server{app: application}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(application.Config.Server.Host, strconv.Itoa(application.Config.Server.Port)),
		Handler:           s.withMiddleware(s.setupRoutes()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr is the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Str("stats", fmt.Sprintf("http://%s/api/stats", s.server.Addr)).
		Bool("websocket", s.app.WSHandler != nil).
		Bool("mcp", s.app.MCPHandler != nil).
		Msg("HTTP server listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for API requests to finish.
// Hijacked websocket connections are closed by the app, not here.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
