package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/models"
)

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestMCPGetStats(t *testing.T) {
	controller := &mockController{}
	h := NewMCPHandler(controller, arbor.NewLogger())

	total := int64(45231)
	controller.On("Stats").Return(&models.Stats{
		ScraperStatus: models.ScraperStatusRunning,
		ActiveWorkers: 4,
		Index:         models.IndexStats{Listed: 1200, TotalEstimated: &total, PctComplete: 2.7},
		Courts:        []models.CourtStat{{Name: "District Court", Listed: 1200, DetailsFetched: 300}},
	}, nil).Once()

	result, err := h.handleGetStats(context.Background(), callTool("get_stats", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "running (4 workers)")
	assert.Contains(t, text, "1,200 of 45,231")
	assert.Contains(t, text, "| District Court | 1,200 | 300 |")

	controller.On("Stats").Return(nil, errors.New("store closed")).Once()
	result, err = h.handleGetStats(context.Background(), callTool("get_stats", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "store closed")
	controller.AssertExpectations(t)
}

func TestMCPGetLiveCount(t *testing.T) {
	controller := &mockController{}
	h := NewMCPHandler(controller, arbor.NewLogger())

	controller.On("LiveCount").Return(models.LiveCount{
		Freshness: models.FreshnessStale,
		Error:     "portal unreachable",
		Pipeline:  models.StageCounts{Listed: 10, Scraped: 4},
	}).Once()

	result, err := h.handleGetLiveCount(context.Background(), callTool("get_live_count", nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Portal total: unknown (stale)")
	assert.Contains(t, text, "Last refresh error: portal unreachable")
	assert.Contains(t, text, "- listed: 10")
	assert.Contains(t, text, "- scraped: 4")
}

func TestMCPListJobs(t *testing.T) {
	controller := &mockController{}
	h := NewMCPHandler(controller, arbor.NewLogger())

	expected := models.JobListOptions{
		Phase:     models.PhaseDetail,
		Status:    models.JobStatusFailed,
		ErrorKind: models.ErrorKindCaptcha,
		Page:      1,
		PageSize:  5,
	}
	controller.On("Jobs", expected).Return(&models.JobPage{
		Phase: models.PhaseDetail,
		Total: 1,
		Jobs: []models.Job{{
			Phase:        models.PhaseDetail,
			CNR:          "DLHC010001232024",
			Status:       models.JobStatusFailed,
			Attempts:     3,
			ErrorKind:    models.ErrorKindCaptcha,
			ErrorMessage: "captcha challenge",
		}},
		ErrorSummary: []models.ErrorSummary{{Kind: models.ErrorKindCaptcha, Label: "CAPTCHA failed", Count: 1, Pct: 100}},
	}, nil).Once()

	result, err := h.handleListJobs(context.Background(), callTool("list_jobs", map[string]interface{}{
		"mode":       "details",
		"status":     "failed",
		"error_type": "captcha",
		"limit":      float64(5),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "1 detail jobs")
	assert.Contains(t, text, "DLHC010001232024: failed, attempts 3, captcha: captcha challenge")
	assert.Contains(t, text, "CAPTCHA failed: 1 (100.0%)")
	controller.AssertExpectations(t)
}

func TestMCPListJobsRejectsBadArguments(t *testing.T) {
	controller := &mockController{}
	h := NewMCPHandler(controller, arbor.NewLogger())

	for _, args := range []map[string]interface{}{
		{"mode": "archive"},
		{"status": "stuck"},
		{"error_type": "flood"},
	} {
		result, err := h.handleListJobs(context.Background(), callTool("list_jobs", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "args %v", args)
	}
	controller.AssertNotCalled(t, "Jobs")
}

func TestMCPGetActivity(t *testing.T) {
	controller := &mockController{}
	h := NewMCPHandler(controller, arbor.NewLogger())

	controller.On("Activity", 20).Return([]models.ActivityEntry{}, nil).Once()
	result, err := h.handleGetActivity(context.Background(), callTool("get_activity", nil))
	require.NoError(t, err)
	assert.Equal(t, "No activity", resultText(t, result))

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	controller.On("Activity", 2).Return([]models.ActivityEntry{
		{Timestamp: at, Type: models.ActivityListed, Message: "page 12: 10 cases listed"},
	}, nil).Once()
	result, err = h.handleGetActivity(context.Background(), callTool("get_activity", map[string]interface{}{"limit": float64(2)}))
	require.NoError(t, err)
	assert.Equal(t, "09:30:00 [listed] page 12: 10 cases listed\n", resultText(t, result))
	controller.AssertExpectations(t)
}

func TestMCPInfoHandler(t *testing.T) {
	h := NewMCPHandler(&mockController{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.InfoHandler(rec, httptest.NewRequest(http.MethodGet, "/mcp/info", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"list_jobs"`)

	rec = httptest.NewRecorder()
	h.InfoHandler(rec, httptest.NewRequest(http.MethodPost, "/mcp/info", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
