package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/docket/internal/models"
)

// JobStorage is the durable table of scrape jobs. It is the single source of truth
// mutated concurrently by workers; every transition appends an activity entry.
type JobStorage interface {
	// Enqueue creates a pending job if none exists for (phase, key). created is false for an existing job.
	Enqueue(ctx context.Context, job *models.Job) (existing *models.Job, created bool, err error)
	// EnqueuePages creates pending index jobs for pages from..to inclusive, skipping existing ones
	EnqueuePages(ctx context.Context, from, to int) (int, error)
	// Claim atomically moves up to max eligible pending jobs to running and returns them
	Claim(ctx context.Context, phase models.Phase, max int) ([]*models.Job, error)
	// Complete moves a running job to done and persists what the fetch produced
	Complete(ctx context.Context, id string, result *models.JobResult, duration time.Duration) (*models.Job, error)
	// Fail moves a running job to pending or failed per the retry verdict
	Fail(ctx context.Context, id string, failure models.JobFailure, duration time.Duration) (*models.Job, error)
	// RetryFailed moves failed jobs of a phase (optionally one error kind) back to pending
	RetryFailed(ctx context.Context, phase models.Phase, kind models.ErrorKind, resetAttempts bool) (int, error)
	// RecoverRunning returns jobs left running by an unclean shutdown to pending
	RecoverRunning(ctx context.Context) (int, error)

	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts models.JobListOptions) ([]models.Job, int, error)
	CountByStatus(ctx context.Context, phase models.Phase) (models.StatusCounts, error)
	ErrorSummary(ctx context.Context, phase models.Phase) ([]models.ErrorSummary, error)
}

// CaseStorage reads case records written by JobStorage transitions
type CaseStorage interface {
	GetCase(ctx context.Context, cnr string) (*models.CaseRecord, error)
	ListCases(ctx context.Context, opts models.CaseListOptions) ([]models.CaseRecord, int, error)
	CourtBreakdown(ctx context.Context) ([]models.CourtStat, error)
	CountCases(ctx context.Context) (int64, error)
	CountDetailed(ctx context.Context) (int64, error)
}

// ActivityStorage reads and trims the activity feed
type ActivityStorage interface {
	Recent(ctx context.Context, limit int) ([]models.ActivityEntry, error)
	Trim(ctx context.Context, keep int) (int, error)
	Count(ctx context.Context) (int, error)
}

// SnapshotStorage is the append-only pipeline snapshot history
type SnapshotStorage interface {
	Append(ctx context.Context, snapshot *models.PipelineSnapshot) error
	Latest(ctx context.Context) (*models.PipelineSnapshot, error)
	Since(ctx context.Context, date string) ([]models.PipelineSnapshot, error)
}

// SettingsStorage persists the current scraper settings
type SettingsStorage interface {
	LoadSettings(ctx context.Context) (*models.ScraperSettings, error)
	SaveSettings(ctx context.Context, settings models.ScraperSettings) error
}

// StorageManager aggregates all storage interfaces
type StorageManager interface {
	JobStorage() JobStorage
	CaseStorage() CaseStorage
	ActivityStorage() ActivityStorage
	SnapshotStorage() SnapshotStorage
	SettingsStorage() SettingsStorage
	Close() error
}
