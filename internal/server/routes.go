package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Live feed
	if s.app.WSHandler != nil {
		mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	}

	// MCP (Model Context Protocol) endpoints
	if s.app.MCPHandler != nil {
		mux.Handle("/mcp", s.app.MCPHandler)
		mux.HandleFunc("/mcp/info", s.app.MCPHandler.InfoHandler)
	}

	// API routes - Dashboard summaries
	mux.HandleFunc("/api/stats", s.app.PipelineHandler.StatsHandler)
	mux.HandleFunc("/api/activity", s.app.PipelineHandler.ActivityHandler)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.app.ScraperHandler.JobsHandler)
	mux.HandleFunc("/api/jobs/retry", s.app.ScraperHandler.RetryFailedHandler)

	// API routes - Scraper control
	mux.HandleFunc("/api/scraper/start", s.app.ScraperHandler.StartHandler)
	mux.HandleFunc("/api/scraper/pause", s.app.ScraperHandler.PauseHandler)
	mux.HandleFunc("/api/scraper/retry-failed", s.app.ScraperHandler.RetryFailedHandler)
	mux.HandleFunc("/api/scraper/seed", s.app.ScraperHandler.SeedHandler)

	// API routes - Live count reconciliation
	mux.HandleFunc("/api/live-count", s.app.PipelineHandler.LiveCountHandler)
	mux.HandleFunc("/api/live-count/history", s.app.PipelineHandler.LiveCountHistoryHandler)
	mux.HandleFunc("/api/live-count/refresh", s.app.PipelineHandler.RefreshHandler)

	// API routes - Case browsing
	mux.HandleFunc("/api/cases", s.app.CaseHandler.ListHandler)
	mux.HandleFunc("/api/cases/", s.app.CaseHandler.GetHandler) // GET /api/cases/{cnr}

	// API routes - Settings
	mux.Handle("/api/settings", MethodRouter{
		http.MethodGet:  s.app.ScraperHandler.GetSettingsHandler,
		http.MethodPost: s.app.ScraperHandler.UpdateSettingsHandler,
		http.MethodPut:  s.app.ScraperHandler.UpdateSettingsHandler,
	})

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
