package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/ternarybob/docket/internal/models"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) Start(phase models.Phase, workers int) error {
	return m.Called(phase, workers).Error(0)
}

func (m *mockController) Pause(phase models.Phase) (bool, error) {
	args := m.Called(phase)
	return args.Bool(0), args.Error(1)
}

func (m *mockController) PauseAll() bool {
	return m.Called().Bool(0)
}

func (m *mockController) RetryFailed(ctx context.Context, phase models.Phase, kind models.ErrorKind) (models.RequeueSummary, error) {
	args := m.Called(phase, kind)
	return args.Get(0).(models.RequeueSummary), args.Error(1)
}

func (m *mockController) Seed(ctx context.Context, from, to int) (int, error) {
	args := m.Called(from, to)
	return args.Int(0), args.Error(1)
}

func (m *mockController) RefreshExternalCount() bool {
	return m.Called().Bool(0)
}

func (m *mockController) Stats(ctx context.Context) (*models.Stats, error) {
	args := m.Called()
	stats, _ := args.Get(0).(*models.Stats)
	return stats, args.Error(1)
}

func (m *mockController) Activity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	args := m.Called(limit)
	entries, _ := args.Get(0).([]models.ActivityEntry)
	return entries, args.Error(1)
}

func (m *mockController) Jobs(ctx context.Context, opts models.JobListOptions) (*models.JobPage, error) {
	args := m.Called(opts)
	page, _ := args.Get(0).(*models.JobPage)
	return page, args.Error(1)
}

func (m *mockController) LiveCount() models.LiveCount {
	return m.Called().Get(0).(models.LiveCount)
}

func (m *mockController) LiveCountHistory(ctx context.Context, days int) ([]models.HistoryPoint, error) {
	args := m.Called(days)
	points, _ := args.Get(0).([]models.HistoryPoint)
	return points, args.Error(1)
}

func (m *mockController) Cases(ctx context.Context, opts models.CaseListOptions) (*models.CasePage, error) {
	args := m.Called(opts)
	page, _ := args.Get(0).(*models.CasePage)
	return page, args.Error(1)
}

func (m *mockController) Case(ctx context.Context, cnr string) (*models.CaseRecord, error) {
	args := m.Called(cnr)
	record, _ := args.Get(0).(*models.CaseRecord)
	return record, args.Error(1)
}

func (m *mockController) Settings() models.ScraperSettings {
	return m.Called().Get(0).(models.ScraperSettings)
}

func (m *mockController) UpdateSettings(ctx context.Context, next models.ScraperSettings) (models.ScraperSettings, error) {
	args := m.Called(next)
	return args.Get(0).(models.ScraperSettings), args.Error(1)
}

func (m *mockController) Pools() []models.PoolStatus {
	pools, _ := m.Called().Get(0).([]models.PoolStatus)
	return pools
}

func (m *mockController) ScheduledTasks() []models.ScheduledTask {
	tasks, _ := m.Called().Get(0).([]models.ScheduledTask)
	return tasks
}
