package source

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/models"
	"github.com/ternarybob/docket/internal/services/scraper"
)

// Source is the upstream case portal
type Source interface {
	// FetchIndex returns the cases listed on one index page. Past the last page it returns none.
	FetchIndex(ctx context.Context, page int) ([]models.CaseRecord, error)
	// FetchDetail returns the detail page of one case
	FetchDetail(ctx context.Context, cnr string) (*models.CaseDetail, error)
	// Total returns the portal's own record count
	Total(ctx context.Context) (int64, error)
	Close() error
}

// New builds the source selected by config.Mode
func New(config *common.SourceConfig, logger arbor.ILogger) (Source, error) {
	switch config.Mode {
	case "mock":
		logger.Info().
			Int("cases_per_page", config.MockCasesPerPage).
			Float64("failure_rate", config.MockFailureRate).
			Msg("Using mock case source")
		return NewMockSource(config), nil
	case "http":
		src, err := NewHTTPSource(config, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().
			Str("base_url", config.BaseURL).
			Bool("headless", config.Headless).
			Msg("Using HTTP case source")
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source mode %q", config.Mode)
	}
}

// Fetcher adapts a source to the worker pool, dispatching on the job's phase
func Fetcher(src Source) scraper.Fetcher {
	return scraper.FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		switch job.Phase {
		case models.PhaseIndex:
			cases, err := src.FetchIndex(ctx, job.PageNumber)
			if err != nil {
				return nil, err
			}
			return &models.JobResult{Cases: cases}, nil
		case models.PhaseDetail:
			detail, err := src.FetchDetail(ctx, job.CNR)
			if err != nil {
				return nil, err
			}
			return &models.JobResult{Detail: detail}, nil
		default:
			return nil, fmt.Errorf("%w: %q", models.ErrInvalidPhase, job.Phase)
		}
	})
}
