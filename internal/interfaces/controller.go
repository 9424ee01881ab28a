package interfaces

import (
	"context"

	"github.com/ternarybob/docket/internal/models"
)

// ScraperController is the façade the HTTP, websocket and MCP surfaces talk to
type ScraperController interface {
	Start(phase models.Phase, workers int) error
	Pause(phase models.Phase) (bool, error)
	PauseAll() bool
	RetryFailed(ctx context.Context, phase models.Phase, kind models.ErrorKind) (models.RequeueSummary, error)
	Seed(ctx context.Context, from, to int) (int, error)
	RefreshExternalCount() bool

	Stats(ctx context.Context) (*models.Stats, error)
	Activity(ctx context.Context, limit int) ([]models.ActivityEntry, error)
	Jobs(ctx context.Context, opts models.JobListOptions) (*models.JobPage, error)
	LiveCount() models.LiveCount
	LiveCountHistory(ctx context.Context, days int) ([]models.HistoryPoint, error)
	Cases(ctx context.Context, opts models.CaseListOptions) (*models.CasePage, error)
	Case(ctx context.Context, cnr string) (*models.CaseRecord, error)

	Settings() models.ScraperSettings
	UpdateSettings(ctx context.Context, next models.ScraperSettings) (models.ScraperSettings, error)

	Pools() []models.PoolStatus
	ScheduledTasks() []models.ScheduledTask
}
