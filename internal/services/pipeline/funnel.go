package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
)

// TotalSource reports the external authoritative record count
type TotalSource interface {
	Total(ctx context.Context) (int64, error)
}

// TotalSourceFunc adapts a function to TotalSource
type TotalSourceFunc func(ctx context.Context) (int64, error)

func (f TotalSourceFunc) Total(ctx context.Context) (int64, error) {
	return f(ctx)
}

// Funnel tracks the five-stage pipeline counters and reconciles the first
// stage against the external total. Counters only move forward.
type Funnel struct {
	counters  [5]atomic.Int64
	source    TotalSource
	snapshots interfaces.SnapshotStorage
	events    interfaces.EventService
	logger    arbor.ILogger
	timeout   time.Duration
	now       func() time.Time

	refreshMu  sync.Mutex // serialises refresh cycles
	refreshing atomic.Bool

	mu            sync.RWMutex
	externalTotal int64
	hasTotal      bool
	checkedAt     time.Time
	stale         bool
	lastError     string
}

// NewFunnel creates a funnel with zeroed counters and no known external total
func NewFunnel(source TotalSource, snapshots interfaces.SnapshotStorage, events interfaces.EventService, timeout time.Duration, logger arbor.ILogger) *Funnel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Funnel{
		source:    source,
		snapshots: snapshots,
		events:    events,
		logger:    logger,
		timeout:   timeout,
		now:       time.Now,
		stale:     true,
	}
}

func stageIndex(stage models.Stage) (int, error) {
	for i, known := range models.Stages {
		if known == stage {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid pipeline stage: %q", stage)
}

// Seed restores the view from the latest snapshot and raises counters to the given values
func (f *Funnel) Seed(ctx context.Context, counts models.StageCounts) error {
	latest, err := f.snapshots.Latest(ctx)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to seed pipeline funnel: %w", err)
	}

	if latest != nil {
		f.mu.Lock()
		f.externalTotal = latest.ExternalTotal
		f.hasTotal = latest.HasTotal
		f.checkedAt = latest.CheckedAt
		f.stale = latest.Stale || !latest.HasTotal
		f.lastError = latest.Error
		f.mu.Unlock()

		for _, stage := range models.Stages {
			_ = f.RecordStageCount(stage, latest.Stages.Get(stage))
		}
	}
	for _, stage := range models.Stages {
		_ = f.RecordStageCount(stage, counts.Get(stage))
	}

	current := f.Counts()
	f.logger.Info().
		Int64("listed", current.Listed).
		Int64("scraped", current.Scraped).
		Bool("has_external_total", latest != nil && latest.HasTotal).
		Msg("Pipeline funnel seeded")
	return nil
}

// Subscribe feeds the funnel from job completion events
func (f *Funnel) Subscribe(events interfaces.EventService) error {
	return events.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, event interfaces.Event) error {
		job, ok := event.Payload.(*models.Job)
		if !ok || job.Status != models.JobStatusDone {
			return nil
		}
		switch job.Phase {
		case models.PhaseIndex:
			return f.Increment(models.StageListed, int64(job.ResultCount))
		case models.PhaseDetail:
			return f.Increment(models.StageScraped, 1)
		}
		return nil
	})
}

// RecordStageCount raises a stage to count. Lower values are ignored.
func (f *Funnel) RecordStageCount(stage models.Stage, count int64) error {
	i, err := stageIndex(stage)
	if err != nil {
		return err
	}
	counter := &f.counters[i]
	for {
		current := counter.Load()
		if count <= current {
			return nil
		}
		if counter.CompareAndSwap(current, count) {
			return nil
		}
	}
}

// Increment adds delta to a stage. Negative deltas are rejected.
func (f *Funnel) Increment(stage models.Stage, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("pipeline counters are monotonic: negative delta %d for %s", delta, stage)
	}
	i, err := stageIndex(stage)
	if err != nil {
		return err
	}
	f.counters[i].Add(delta)
	return nil
}

// Counts returns the current stage counters
func (f *Funnel) Counts() models.StageCounts {
	var counts models.StageCounts
	for i, stage := range models.Stages {
		counts = counts.With(stage, f.counters[i].Load())
	}
	return counts
}

// RefreshExternalTotal runs one reconciliation cycle and appends its snapshot.
// A failed cycle keeps the last good total and marks the view stale.
func (f *Funnel) RefreshExternalTotal(ctx context.Context) (*models.PipelineSnapshot, error) {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	refreshCtx, cancel := context.WithTimeout(ctx, f.timeout)
	total, err := f.source.Total(refreshCtx)
	cancel()
	if err == nil && total < 0 {
		err = fmt.Errorf("negative total %d", total)
	}

	now := f.now()
	counts := f.Counts()

	f.mu.Lock()
	if err != nil {
		f.stale = true
		f.lastError = err.Error()
	} else {
		f.externalTotal = total
		f.hasTotal = true
		f.checkedAt = now
		f.stale = false
		f.lastError = ""
	}
	snapshot := &models.PipelineSnapshot{
		ID:            common.NewSnapshotID(),
		Date:          now.UTC().Format("2006-01-02"),
		RecordedAt:    now,
		CheckedAt:     f.checkedAt,
		ExternalTotal: f.externalTotal,
		HasTotal:      f.hasTotal,
		Stages:        counts,
		Stale:         f.stale,
		Error:         f.lastError,
	}
	f.mu.Unlock()

	if appendErr := f.snapshots.Append(ctx, snapshot); appendErr != nil {
		f.logger.Error().Err(appendErr).Msg("Failed to persist pipeline snapshot")
	}

	if f.events != nil {
		_ = f.events.Publish(ctx, interfaces.Event{Type: interfaces.EventLiveCountRefreshed, Payload: snapshot})
	}

	if err != nil {
		f.logger.Warn().Err(err).Int64("last_good_total", snapshot.ExternalTotal).Msg("External total refresh failed, serving stale count")
		return snapshot, fmt.Errorf("%w: %v", models.ErrRefreshFailed, err)
	}

	f.logger.Info().
		Int64("external_total", total).
		Int64("listed", counts.Listed).
		Msg("External total refreshed")
	return snapshot, nil
}

// TriggerRefresh starts a refresh in the background. It returns false when one is already running.
func (f *Funnel) TriggerRefresh() bool {
	if !f.refreshing.CompareAndSwap(false, true) {
		return false
	}
	common.SafeGo(f.logger, "refreshExternalTotal", func() {
		defer f.refreshing.Store(false)
		_, _ = f.RefreshExternalTotal(context.Background())
	})
	return true
}

// Refreshing reports whether a background refresh is running
func (f *Funnel) Refreshing() bool {
	return f.refreshing.Load()
}

// LiveCount is the current reconciliation view
func (f *Funnel) LiveCount() models.LiveCount {
	f.mu.RLock()
	defer f.mu.RUnlock()

	live := models.LiveCount{
		Pipeline:   f.Counts(),
		Freshness:  models.FreshnessFresh,
		Error:      f.lastError,
		Refreshing: f.refreshing.Load(),
	}
	if f.stale {
		live.Freshness = models.FreshnessStale
	}
	if f.hasTotal {
		total := f.externalTotal
		checked := f.checkedAt
		live.ExternalTotal = &total
		live.LastChecked = &checked
	}
	return live
}

// ExternalTotal returns the last good external total, if any
func (f *Funnel) ExternalTotal() (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.externalTotal, f.hasTotal
}

// History returns the last snapshot of each of the most recent days dates, oldest first.
// Days without a known external total are skipped.
func (f *Funnel) History(ctx context.Context, days int) ([]models.HistoryPoint, error) {
	if days < 1 {
		days = 1
	}
	since := f.now().UTC().AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	snapshots, err := f.snapshots.Since(ctx, since)
	if err != nil {
		return nil, err
	}

	points := make([]models.HistoryPoint, 0, days)
	index := make(map[string]int)
	for _, snapshot := range snapshots {
		if !snapshot.HasTotal {
			continue
		}
		point := models.HistoryPoint{
			Date:          snapshot.Date,
			ExternalTotal: snapshot.ExternalTotal,
			Listed:        snapshot.Stages.Listed,
		}
		if i, ok := index[snapshot.Date]; ok {
			points[i] = point
			continue
		}
		index[snapshot.Date] = len(points)
		points = append(points, point)
	}
	return points, nil
}
