package scheduler

import (
	"context"
	"fmt"
	"math"

	"github.com/ternarybob/docket/internal/models"
)

func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	pct := float64(part) / float64(whole) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

// Stats aggregates both phases for the dashboard summary
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	jobs := s.storage.JobStorage()
	cases := s.storage.CaseStorage()

	indexCounts, err := jobs.CountByStatus(ctx, models.PhaseIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to count index jobs: %w", err)
	}
	detailCounts, err := jobs.CountByStatus(ctx, models.PhaseDetail)
	if err != nil {
		return nil, fmt.Errorf("failed to count detail jobs: %w", err)
	}
	listed, err := cases.CountCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}
	fetched, err := cases.CountDetailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count detailed cases: %w", err)
	}
	courts, err := cases.CourtBreakdown(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load court breakdown: %w", err)
	}
	if courts == nil {
		courts = []models.CourtStat{}
	}

	indexStatus := s.pools[models.PhaseIndex].Status()
	detailStatus := s.pools[models.PhaseDetail].Status()

	stats := &models.Stats{
		Index: models.IndexStats{
			Listed:      listed,
			Pages:       indexCounts.Total(),
			Pending:     indexCounts.Pending,
			Running:     indexCounts.Running,
			Done:        indexCounts.Done,
			Failed:      indexCounts.Failed,
			PctComplete: percent(int64(indexCounts.Done), int64(indexCounts.Total())),
			SpeedPerMin: math.Round(s.throughput.PerMinute()*10) / 10,
			EtaHours:    math.Round(s.throughput.EtaHours(indexCounts.Pending+indexCounts.Running)*10) / 10,
			Workers:     indexStatus.Workers,
		},
		Details: models.DetailStats{
			Fetched:          fetched,
			ListedNotFetched: listed - fetched,
			Pending:          detailCounts.Pending,
			Running:          detailCounts.Running,
			Failed:           detailCounts.Failed,
			PctComplete:      percent(fetched, listed),
			Workers:          detailStatus.Workers,
		},
		Courts:        courts,
		ScraperStatus: scraperStatus(indexStatus, detailStatus),
		ActiveWorkers: indexStatus.Workers + detailStatus.Workers,
	}

	// With a known external total, index progress is measured against it
	if total, ok := s.funnel.ExternalTotal(); ok {
		stats.Index.TotalEstimated = &total
		if total > 0 {
			stats.Index.PctComplete = percent(listed, total)
		}
	}
	return stats, nil
}

func scraperStatus(pools ...models.PoolStatus) string {
	status := models.ScraperStatusIdle
	for _, pool := range pools {
		switch pool.State {
		case models.PoolStateRunning:
			return models.ScraperStatusRunning
		case models.PoolStatePaused:
			status = models.ScraperStatusPaused
		}
	}
	return status
}
