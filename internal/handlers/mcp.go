package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
)

// MCPHandler exposes read-only scraper state as MCP tools over streamable HTTP
type MCPHandler struct {
	controller interfaces.ScraperController
	server     *server.MCPServer
	http       http.Handler
	logger     arbor.ILogger
}

// NewMCPHandler creates the MCP server and registers its tools
func NewMCPHandler(controller interfaces.ScraperController, logger arbor.ILogger) *MCPHandler {
	h := &MCPHandler{
		controller: controller,
		logger:     logger,
	}

	h.server = server.NewMCPServer(
		"docket",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	h.server.AddTool(createGetStatsTool(), h.handleGetStats)
	h.server.AddTool(createGetLiveCountTool(), h.handleGetLiveCount)
	h.server.AddTool(createListJobsTool(), h.handleListJobs)
	h.server.AddTool(createGetActivityTool(), h.handleGetActivity)

	h.http = server.NewStreamableHTTPServer(h.server)
	return h
}

// ServeHTTP serves the MCP streamable HTTP transport
func (h *MCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.http.ServeHTTP(w, r)
}

// Server returns the underlying MCP server
func (h *MCPHandler) Server() *server.MCPServer {
	return h.server
}

func createGetStatsTool() mcp.Tool {
	return mcp.NewTool("get_stats",
		mcp.WithDescription("Scrape progress for the index and detail phases, worker state and the per-court breakdown"),
	)
}

func createGetLiveCountTool() mcp.Tool {
	return mcp.NewTool("get_live_count",
		mcp.WithDescription("Portal total versus the five pipeline stage counts, with freshness of the portal total"),
	)
}

func createListJobsTool() mcp.Tool {
	return mcp.NewTool("list_jobs",
		mcp.WithDescription("List scrape jobs of one phase with the failure breakdown"),
		mcp.WithString("mode",
			mcp.Description("Phase: index or details (default: index)"),
		),
		mcp.WithString("status",
			mcp.Description("Filter: pending, running, done, failed"),
		),
		mcp.WithString("error_type",
			mcp.Description("Filter: captcha, timeout, other"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max jobs (default: 20)"),
		),
	)
}

func createGetActivityTool() mcp.Tool {
	return mcp.NewTool("get_activity",
		mcp.WithDescription("Most recent activity feed entries, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Max entries (default: 20)"),
		),
	)
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func toolError(format string, args ...interface{}) *mcp.CallToolResult {
	result := toolText(fmt.Sprintf(format, args...))
	result.IsError = true
	return result
}

func (h *MCPHandler) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.controller.Stats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("MCP get_stats failed")
		return toolError("Stats error: %v", err), nil
	}
	return toolText(formatStats(stats)), nil
}

func (h *MCPHandler) handleGetLiveCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolText(formatLiveCount(h.controller.LiveCount())), nil
}

func (h *MCPHandler) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phase, err := ParseMode(request.GetString("mode", ""))
	if err != nil {
		return toolError("Error: %v", err), nil
	}
	opts := models.JobListOptions{Phase: phase, Page: 1, PageSize: request.GetInt("limit", 20)}
	if status := request.GetString("status", ""); status != "" {
		if opts.Status, err = models.ParseJobStatus(status); err != nil {
			return toolError("Error: %v", err), nil
		}
	}
	if opts.ErrorKind, err = ParseErrorType(request.GetString("error_type", "")); err != nil {
		return toolError("Error: %v", err), nil
	}

	page, err := h.controller.Jobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("MCP list_jobs failed")
		return toolError("List error: %v", err), nil
	}
	return toolText(formatJobs(page)), nil
}

func (h *MCPHandler) handleGetActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.controller.Activity(ctx, request.GetInt("limit", 20))
	if err != nil {
		h.logger.Error().Err(err).Msg("MCP get_activity failed")
		return toolError("Activity error: %v", err), nil
	}
	return toolText(formatActivity(entries)), nil
}

func formatStats(stats *models.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Scraper: %s (%d workers)\n\n", stats.ScraperStatus, stats.ActiveWorkers)

	fmt.Fprintf(&b, "## Index\n\n")
	fmt.Fprintf(&b, "- Listed: %s", models.FormatCount(stats.Index.Listed))
	if stats.Index.TotalEstimated != nil {
		fmt.Fprintf(&b, " of %s", models.FormatCount(*stats.Index.TotalEstimated))
	}
	fmt.Fprintf(&b, " (%.1f%%)\n", stats.Index.PctComplete)
	fmt.Fprintf(&b, "- Pending: %d, running: %d, failed: %d\n", stats.Index.Pending, stats.Index.Running, stats.Index.Failed)
	fmt.Fprintf(&b, "- Speed: %.1f pages/min, ETA %.1f h\n\n", stats.Index.SpeedPerMin, stats.Index.EtaHours)

	fmt.Fprintf(&b, "## Details\n\n")
	fmt.Fprintf(&b, "- Fetched: %s (%.1f%%)\n", models.FormatCount(stats.Details.Fetched), stats.Details.PctComplete)
	fmt.Fprintf(&b, "- Pending: %d, running: %d, failed: %d\n", stats.Details.Pending, stats.Details.Running, stats.Details.Failed)

	if len(stats.Courts) > 0 {
		fmt.Fprintf(&b, "\n## Courts\n\n| Court | Listed | Details |\n|---|---|---|\n")
		for _, court := range stats.Courts {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", court.Name, models.FormatCount(court.Listed), models.FormatCount(court.DetailsFetched))
		}
	}
	return b.String()
}

func formatLiveCount(live models.LiveCount) string {
	var b strings.Builder
	if live.ExternalTotal != nil {
		fmt.Fprintf(&b, "Portal total: %s (%s, checked %s)\n", models.FormatCount(*live.ExternalTotal), live.Freshness, live.LastChecked.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(&b, "Portal total: unknown (%s)\n", live.Freshness)
	}
	if live.Error != "" {
		fmt.Fprintf(&b, "Last refresh error: %s\n", live.Error)
	}
	for _, stage := range models.Stages {
		fmt.Fprintf(&b, "- %s: %s\n", stage, models.FormatCount(live.Pipeline.Get(stage)))
	}
	return b.String()
}

func formatJobs(page *models.JobPage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s jobs\n\n", page.Total, page.Phase)
	for _, job := range page.Jobs {
		fmt.Fprintf(&b, "- %s: %s, attempts %d", job.Label(), job.Status, job.Attempts)
		if job.ErrorKind != "" {
			fmt.Fprintf(&b, ", %s: %s", job.ErrorKind, job.ErrorMessage)
		}
		b.WriteString("\n")
	}
	if len(page.ErrorSummary) > 0 {
		b.WriteString("\nFailures:\n")
		for _, row := range page.ErrorSummary {
			fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", row.Label, row.Count, row.Pct)
		}
	}
	return b.String()
}

func formatActivity(entries []models.ActivityEntry) string {
	if len(entries) == 0 {
		return "No activity"
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s [%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Type, entry.Message)
	}
	return b.String()
}

// InfoHandler returns MCP server information
func (h *MCPHandler) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	info := map[string]interface{}{
		"name":    "docket",
		"version": common.GetVersion(),
		"tools":   []string{"get_stats", "get_live_count", "list_jobs", "get_activity"},
		"endpoints": map[string]string{
			"rpc":  "/mcp",
			"info": "/mcp/info",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
