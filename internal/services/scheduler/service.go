package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/ternarybob/docket/internal/services/pipeline"
	"github.com/ternarybob/docket/internal/services/scraper"
)

const (
	maxWorkers        = 64
	defaultPageSize   = 50
	maxPageSize       = 500
	defaultActivity   = 50
	maxActivity       = 500
	maxHistoryDays    = 365
	taskRefreshTotal  = "refresh_external_total"
	taskTrimActivity  = "trim_activity"
	maintenanceWindow = 5 * time.Minute
)

// Service is the controller over the job store, both worker pools and the pipeline funnel.
// It is the only component the HTTP, websocket and MCP surfaces talk to.
type Service struct {
	config     *common.Config
	storage    interfaces.StorageManager
	pools      map[models.Phase]*scraper.Pool
	funnel     *pipeline.Funnel
	settings   *Settings
	throughput *ThroughputTracker
	events     interfaces.EventService
	tasks      *tasks
	logger     arbor.ILogger
}

var _ interfaces.ScraperController = (*Service)(nil)

// NewService creates the controller. pools must hold one pool per phase.
func NewService(
	config *common.Config,
	storage interfaces.StorageManager,
	pools []*scraper.Pool,
	funnel *pipeline.Funnel,
	settings *Settings,
	events interfaces.EventService,
	logger arbor.ILogger,
) (*Service, error) {
	byPhase := make(map[models.Phase]*scraper.Pool, len(pools))
	for _, pool := range pools {
		byPhase[pool.Phase()] = pool
	}
	for _, phase := range models.Phases {
		if byPhase[phase] == nil {
			return nil, fmt.Errorf("no worker pool for phase %s", phase)
		}
	}

	s := &Service{
		config:     config,
		storage:    storage,
		pools:      byPhase,
		funnel:     funnel,
		settings:   settings,
		throughput: NewThroughputTracker(common.ParseDuration(config.Scraper.ThroughputWindow, 10*time.Minute)),
		events:     events,
		tasks:      newTasks(logger),
		logger:     logger,
	}

	if err := events.Subscribe(interfaces.EventJobCompleted, s.recordThroughput); err != nil {
		return nil, fmt.Errorf("failed to subscribe throughput tracker: %w", err)
	}
	return s, nil
}

func (s *Service) recordThroughput(ctx context.Context, event interfaces.Event) error {
	job, ok := event.Payload.(*models.Job)
	if !ok || job.Phase != models.PhaseIndex {
		return nil
	}
	at := time.Now()
	if job.FinishedAt != nil {
		at = *job.FinishedAt
	}
	s.throughput.Record(at)
	return nil
}

// Open restores state left by the previous process and starts scheduled maintenance.
// With scraper.auto_start both phases start with the current settings.
func (s *Service) Open(ctx context.Context) error {
	if err := s.settings.Load(ctx); err != nil {
		return err
	}

	recovered, err := s.storage.JobStorage().RecoverRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover running jobs: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn().Int("count", recovered).Msg("Recovered jobs left running by previous shutdown")
	}

	counts, err := s.storageStageCounts(ctx)
	if err != nil {
		return err
	}
	if err := s.funnel.Seed(ctx, counts); err != nil {
		return err
	}
	if err := s.funnel.Subscribe(s.events); err != nil {
		return fmt.Errorf("failed to subscribe pipeline funnel: %w", err)
	}

	if err := s.tasks.register(taskRefreshTotal, s.config.Pipeline.RefreshSchedule, s.refreshTask); err != nil {
		return err
	}
	if err := s.tasks.register(taskTrimActivity, s.config.Scraper.ActivityTrimSchedule, s.trimTask); err != nil {
		return err
	}
	s.tasks.start()

	if s.config.Scraper.AutoStart {
		for _, phase := range models.Phases {
			if err := s.Start(phase, 0); err != nil {
				return fmt.Errorf("auto start %s: %w", phase, err)
			}
		}
	}

	s.logger.Info().Bool("auto_start", s.config.Scraper.AutoStart).Msg("Scheduler opened")
	return nil
}

func (s *Service) storageStageCounts(ctx context.Context) (models.StageCounts, error) {
	listed, err := s.storage.CaseStorage().CountCases(ctx)
	if err != nil {
		return models.StageCounts{}, fmt.Errorf("failed to count cases: %w", err)
	}
	fetched, err := s.storage.CaseStorage().CountDetailed(ctx)
	if err != nil {
		return models.StageCounts{}, fmt.Errorf("failed to count detailed cases: %w", err)
	}
	return models.StageCounts{Listed: listed, Scraped: fetched}, nil
}

func (s *Service) refreshTask() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceWindow)
	defer cancel()
	_, err := s.funnel.RefreshExternalTotal(ctx)
	return err
}

func (s *Service) trimTask() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceWindow)
	defer cancel()
	removed, err := s.storage.ActivityStorage().Trim(ctx, s.config.Scraper.ActivityRetention)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Int("kept", s.config.Scraper.ActivityRetention).Msg("Activity feed trimmed")
	}
	return nil
}

func (s *Service) pool(phase models.Phase) (*scraper.Pool, error) {
	pool, ok := s.pools[phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidPhase, phase)
	}
	return pool, nil
}

func (s *Service) phaseConfig(phase models.Phase) common.PhaseConfig {
	if phase == models.PhaseDetail {
		return s.config.Scraper.Detail
	}
	return s.config.Scraper.Index
}

// Start runs a phase with workers workers; zero uses the current settings.
// Starting a phase already running with the same configuration is a no-op.
func (s *Service) Start(phase models.Phase, workers int) error {
	pool, err := s.pool(phase)
	if err != nil {
		return err
	}

	settings := s.settings.Get()
	if workers <= 0 {
		workers = settings.WorkersFor(phase)
	}
	if workers > maxWorkers {
		return fmt.Errorf("%w: workers must be between 1 and %d, got %d", models.ErrInvalidArgument, maxWorkers, workers)
	}

	return pool.Start(scraper.RunConfig{
		Workers:      workers,
		Delay:        settings.DelayFor(phase),
		Timeout:      common.ParseDuration(s.phaseConfig(phase).Timeout, 60*time.Second),
		MaxRetries:   settings.MaxRetries,
		GlobalPacing: s.config.Scraper.GlobalPacing,
	})
}

// Pause stops claiming on a phase. Pausing a phase that is not running is a no-op.
func (s *Service) Pause(phase models.Phase) (bool, error) {
	pool, err := s.pool(phase)
	if err != nil {
		return false, err
	}
	return pool.Pause(), nil
}

// PauseAll pauses every phase and reports whether any was running
func (s *Service) PauseAll() bool {
	paused := false
	for _, phase := range models.Phases {
		if s.pools[phase].Pause() {
			paused = true
		}
	}
	return paused
}

// RetryFailed requeues failed jobs of a phase, optionally only those of one error kind
func (s *Service) RetryFailed(ctx context.Context, phase models.Phase, kind models.ErrorKind) (models.RequeueSummary, error) {
	if _, err := s.pool(phase); err != nil {
		return models.RequeueSummary{}, err
	}

	requeued, err := s.storage.JobStorage().RetryFailed(ctx, phase, kind, s.config.Scraper.ResetAttemptsOnRetry)
	if err != nil {
		return models.RequeueSummary{}, err
	}

	summary := models.RequeueSummary{Phase: phase, ErrorKind: kind, Requeued: requeued}
	s.logger.Info().
		Str("phase", string(phase)).
		Str("error_kind", string(kind)).
		Int("requeued", requeued).
		Msg("Failed jobs requeued")

	if requeued > 0 {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobsRequeued, Payload: summary}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish requeue event")
		}
	}
	return summary, nil
}

// Seed enqueues index jobs for pages from..to
func (s *Service) Seed(ctx context.Context, from, to int) (int, error) {
	if from < 1 || to < from {
		return 0, fmt.Errorf("%w: invalid page range %d..%d", models.ErrInvalidArgument, from, to)
	}
	created, err := s.storage.JobStorage().EnqueuePages(ctx, from, to)
	if err != nil {
		return created, err
	}
	s.logger.Info().Int("from", from).Int("to", to).Int("created", created).Msg("Index pages seeded")
	return created, nil
}

// RefreshExternalCount starts a background reconciliation. False means one is already running.
func (s *Service) RefreshExternalCount() bool {
	return s.funnel.TriggerRefresh()
}

// LiveCount is the current reconciliation view
func (s *Service) LiveCount() models.LiveCount {
	return s.funnel.LiveCount()
}

// LiveCountHistory returns one point per day over the last days days
func (s *Service) LiveCountHistory(ctx context.Context, days int) ([]models.HistoryPoint, error) {
	if days <= 0 {
		days = s.config.Pipeline.HistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	return s.funnel.History(ctx, days)
}

// Activity returns the most recent feed entries, newest first
func (s *Service) Activity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = defaultActivity
	}
	if limit > maxActivity {
		limit = maxActivity
	}
	return s.storage.ActivityStorage().Recent(ctx, limit)
}

func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// Jobs lists one page of a phase's jobs with the phase failure breakdown
func (s *Service) Jobs(ctx context.Context, opts models.JobListOptions) (*models.JobPage, error) {
	if _, err := s.pool(opts.Phase); err != nil {
		return nil, err
	}
	opts.Page, opts.PageSize = pageBounds(opts.Page, opts.PageSize)

	jobs, total, err := s.storage.JobStorage().ListJobs(ctx, opts)
	if err != nil {
		return nil, err
	}
	summary, err := s.storage.JobStorage().ErrorSummary(ctx, opts.Phase)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	return &models.JobPage{
		Phase:        opts.Phase,
		Total:        total,
		Page:         opts.Page,
		PageSize:     opts.PageSize,
		Jobs:         jobs,
		ErrorSummary: summary,
	}, nil
}

// Cases browses case records
func (s *Service) Cases(ctx context.Context, opts models.CaseListOptions) (*models.CasePage, error) {
	opts.Page, opts.PageSize = pageBounds(opts.Page, opts.PageSize)

	cases, total, err := s.storage.CaseStorage().ListCases(ctx, opts)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []models.CaseRecord{}
	}

	return &models.CasePage{
		Total: total,
		Page:  opts.Page,
		Pages: (total + opts.PageSize - 1) / opts.PageSize,
		Limit: opts.PageSize,
		Cases: cases,
	}, nil
}

// Case returns one case record
func (s *Service) Case(ctx context.Context, cnr string) (*models.CaseRecord, error) {
	return s.storage.CaseStorage().GetCase(ctx, cnr)
}

// Settings returns the current scraper settings
func (s *Service) Settings() models.ScraperSettings {
	return s.settings.Get()
}

// UpdateSettings replaces the scraper settings. Running phases keep the settings
// they started with; the next Start picks up the new value.
func (s *Service) UpdateSettings(ctx context.Context, next models.ScraperSettings) (models.ScraperSettings, error) {
	return s.settings.Update(ctx, next)
}

// Pools reports the state of each phase's pool
func (s *Service) Pools() []models.PoolStatus {
	out := make([]models.PoolStatus, 0, len(models.Phases))
	for _, phase := range models.Phases {
		out = append(out, s.pools[phase].Status())
	}
	return out
}

// ScheduledTasks reports the maintenance tasks
func (s *Service) ScheduledTasks() []models.ScheduledTask {
	return s.tasks.status()
}

// Close stops maintenance and drains both pools within the shutdown timeout
func (s *Service) Close(ctx context.Context) error {
	s.tasks.stop()

	timeout := common.ParseDuration(s.config.Scraper.ShutdownTimeout, 30*time.Second)
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, phase := range models.Phases {
		pool := s.pools[phase]
		common.SafeGoGroup(&wg, s.logger, "drain:"+string(phase), func() {
			if err := pool.Close(drainCtx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s pool: %w", pool.Phase(), err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduler closed with undrained work")
		return err
	}
	s.logger.Info().Msg("Scheduler closed")
	return nil
}
