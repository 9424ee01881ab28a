package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// conflictRetries bounds how often a transaction is replayed after badger.ErrConflict
	conflictRetries = 128
	// batchSize bounds writes per transaction for bulk transitions
	batchSize = 500
)

// JobStorage implements interfaces.JobStorage on Badger.
// Every state transition runs in one read-write transaction; Badger's conflict
// detection rejects a commit whose reads were overwritten concurrently, which
// is what makes Claim safe across workers of both phases.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	now    func() time.Time
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return newJobStorage(db, logger)
}

func newJobStorage(db *BadgerDB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// update runs fn in a read-write transaction, replaying it on write conflicts.
// fn must reset anything it captures because it can run more than once.
func (s *JobStorage) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.DB().Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= conflictRetries {
			return fmt.Errorf("transaction conflict after %d attempts: %w", attempt+1, err)
		}

		backoff := time.Duration(attempt%10+1) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *JobStorage) Enqueue(ctx context.Context, job *models.Job) (*models.Job, bool, error) {
	if job == nil || job.ID == "" {
		return nil, false, fmt.Errorf("job ID is required")
	}

	var existing models.Job
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		err := s.db.Store().TxGet(txn, job.ID, &existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		created = true
		w := newJobWriter(s.db.Store(), txn)
		if err := w.put(nil, job); err != nil {
			return err
		}
		return w.flush()
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	if created {
		return job, true, nil
	}
	return &existing, false, nil
}

func (s *JobStorage) EnqueuePages(ctx context.Context, from, to int) (int, error) {
	if from < 1 || to < from {
		return 0, fmt.Errorf("invalid page range %d..%d", from, to)
	}

	total := 0
	for start := from; start <= to; start += batchSize {
		end := start + batchSize - 1
		if end > to {
			end = to
		}

		created := 0
		err := s.update(ctx, func(txn *badger.Txn) error {
			created = 0
			now := s.now()
			w := newJobWriter(s.db.Store(), txn)
			for page := start; page <= end; page++ {
				job := models.NewIndexJob(page, now)
				var existing models.Job
				err := s.db.Store().TxGet(txn, job.ID, &existing)
				if err == nil {
					continue
				}
				if !errors.Is(err, badgerhold.ErrNotFound) {
					return err
				}
				if err := w.put(nil, job); err != nil {
					return err
				}
				created++
			}
			return w.flush()
		})
		if err != nil {
			return total, fmt.Errorf("failed to enqueue pages %d..%d: %w", start, end, err)
		}
		total += created
	}

	s.logger.Info().Int("from", from).Int("to", to).Int("created", total).Msg("Index pages enqueued")
	return total, nil
}

// Claim walks the phase's pending keys in (available_at, page) order. Reading a
// key adds it to the transaction's read set, so two workers reaching the same
// job conflict and the loser replays against the updated keys.
func (s *JobStorage) Claim(ctx context.Context, phase models.Phase, max int) ([]*models.Job, error) {
	if max <= 0 {
		return nil, nil
	}

	var claimed []*models.Job
	err := s.update(ctx, func(txn *badger.Txn) error {
		claimed = nil
		now := s.now()
		due := unixNano(now)

		var ids []string
		err := scanKeys(txn, pendingPrefix(phase), false, func(key []byte) (bool, error) {
			availableAt, id, err := parsePendingKey(phase, key)
			if err != nil {
				return false, err
			}
			if availableAt > due {
				return false, nil
			}
			ids = append(ids, id)
			return len(ids) < max, nil
		})
		if err != nil {
			return err
		}

		w := newJobWriter(s.db.Store(), txn)
		for _, id := range ids {
			var job models.Job
			if err := s.db.Store().TxGet(txn, id, &job); err != nil {
				return fmt.Errorf("pending key for job %s: %w", id, err)
			}
			if job.Status != models.JobStatusPending {
				return fmt.Errorf("%w: pending key for job %s in status %s", models.ErrInvariantViolation, id, job.Status)
			}

			old := job
			job.Status = models.JobStatusRunning
			job.Attempts++
			job.StartedAt = &now
			job.FinishedAt = nil
			job.UpdatedAt = now
			if err := w.put(&old, &job); err != nil {
				return err
			}
			claimed = append(claimed, &job)
		}
		return w.flush()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s jobs: %w", phase, err)
	}
	return claimed, nil
}

// getRunning loads a job and checks it is running; any other status is an invariant violation
func (s *JobStorage) getRunning(txn *badger.Txn, id, op string, job *models.Job) error {
	if err := s.db.Store().TxGet(txn, id, job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return err
	}
	if job.Status != models.JobStatusRunning {
		return fmt.Errorf("%w: cannot %s job %s in status %s", models.ErrInvariantViolation, op, id, job.Status)
	}
	return nil
}

func (s *JobStorage) Complete(ctx context.Context, id string, result *models.JobResult, duration time.Duration) (*models.Job, error) {
	var done models.Job
	err := s.update(ctx, func(txn *badger.Txn) error {
		var job models.Job
		if err := s.getRunning(txn, id, "complete", &job); err != nil {
			return err
		}
		if result == nil || (job.Phase == models.PhaseDetail && result.Detail == nil) {
			return fmt.Errorf("%w: job %s completed without a result", models.ErrInvariantViolation, id)
		}
		old := job
		w := newJobWriter(s.db.Store(), txn)

		now := s.now()
		ms := duration.Milliseconds()
		job.Status = models.JobStatusDone
		job.ErrorKind = ""
		job.ErrorMessage = ""
		job.DurationMs = &ms
		job.FinishedAt = &now
		job.UpdatedAt = now

		entry := models.ActivityEntry{Timestamp: now, Phase: job.Phase}
		switch job.Phase {
		case models.PhaseIndex:
			if err := s.recordListing(txn, w, &job, result.Cases, now); err != nil {
				return err
			}
			job.ResultCount = len(result.Cases)
			page := job.PageNumber
			entry.Type = models.ActivityListed
			entry.PageNumber = &page
			entry.Message = fmt.Sprintf("Listed %d cases - %s", job.ResultCount, job.Label())
		case models.PhaseDetail:
			if err := s.recordDetail(txn, &job, result.Detail, now); err != nil {
				return err
			}
			job.ResultCount = 1
			cnr := job.CNR
			entry.Type = models.ActivityDetailFetched
			entry.CaseKey = &cnr
			entry.Message = fmt.Sprintf("Fetched details - %s", cnr)
		}

		if err := w.put(&old, &job); err != nil {
			return err
		}
		if err := w.flush(); err != nil {
			return err
		}
		if err := s.appendActivity(txn, &entry); err != nil {
			return err
		}
		done = job
		return nil
	})
	if err != nil {
		s.logTransitionError(err, id, "complete")
		return nil, fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return &done, nil
}

func (s *JobStorage) Fail(ctx context.Context, id string, failure models.JobFailure, duration time.Duration) (*models.Job, error) {
	var failed models.Job
	err := s.update(ctx, func(txn *badger.Txn) error {
		var job models.Job
		if err := s.getRunning(txn, id, "fail", &job); err != nil {
			return err
		}
		old := job

		now := s.now()
		ms := duration.Milliseconds()
		job.ErrorKind = failure.Error.Kind
		job.ErrorMessage = failure.Error.Message
		job.ResultCount = 0
		job.DurationMs = &ms
		job.FinishedAt = &now
		job.UpdatedAt = now

		var outcome string
		if failure.Requeue {
			job.Status = models.JobStatusPending
			job.AvailableAt = now.Add(failure.Delay)
			outcome = fmt.Sprintf("retry %d/%d", job.Attempts, failure.MaxRetries)
		} else {
			job.Status = models.JobStatusFailed
			outcome = fmt.Sprintf("gave up after %d attempts", job.Attempts)
			if job.Phase == models.PhaseDetail {
				if err := s.setDetailStatus(txn, job.CNR, models.DetailStatusFailed); err != nil {
					return err
				}
			}
		}

		entry := models.ActivityEntry{
			Timestamp: now,
			Type:      models.ActivityFailed,
			Phase:     job.Phase,
			Message:   fmt.Sprintf("%s - %s (%s)", failure.Error.Kind.Label(), job.Label(), outcome),
		}
		if job.Phase == models.PhaseIndex {
			page := job.PageNumber
			entry.PageNumber = &page
		} else {
			cnr := job.CNR
			entry.CaseKey = &cnr
		}

		w := newJobWriter(s.db.Store(), txn)
		if err := w.put(&old, &job); err != nil {
			return err
		}
		if err := w.flush(); err != nil {
			return err
		}
		if err := s.appendActivity(txn, &entry); err != nil {
			return err
		}
		failed = job
		return nil
	})
	if err != nil {
		s.logTransitionError(err, id, "fail")
		return nil, fmt.Errorf("failed to record failure for job %s: %w", id, err)
	}
	return &failed, nil
}

func (s *JobStorage) logTransitionError(err error, id, op string) {
	if errors.Is(err, models.ErrInvariantViolation) {
		s.logger.Error().Err(err).Str("job_id", id).Str("op", op).Msg("Job state machine invariant violated")
		return
	}
	s.logger.Warn().Err(err).Str("job_id", id).Str("op", op).Msg("Job transition failed")
}

// recordListing stores newly discovered cases and enqueues one detail job per new case
func (s *JobStorage) recordListing(txn *badger.Txn, w *jobWriter, job *models.Job, cases []models.CaseRecord, now time.Time) error {
	for i := range cases {
		c := cases[i]
		if c.CNR == "" {
			s.logger.Warn().Str("job_id", job.ID).Int("index", i).Msg("Skipping listed case without CNR")
			continue
		}

		var existing models.CaseRecord
		err := s.db.Store().TxGet(txn, c.CNR, &existing)
		if err == nil {
			continue
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		if c.PageNumber == 0 {
			c.PageNumber = job.PageNumber
		}
		if c.Court == "" {
			c.Court = job.Court
		}
		c.DetailStatus = models.DetailStatusPending
		c.ListedAt = now
		c.CaseDetail = nil
		c.DetailFetchedAt = nil
		c.SearchText = searchText(&c)
		if err := s.db.Store().TxInsert(txn, c.CNR, &c); err != nil {
			return err
		}
		if err := s.bumpCourt(txn, c.Court, 1, 0); err != nil {
			return err
		}

		detail := models.NewDetailJob(&c, now)
		var existingJob models.Job
		err = s.db.Store().TxGet(txn, detail.ID, &existingJob)
		if err == nil {
			continue
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		if err := w.put(nil, detail); err != nil {
			return err
		}
	}
	return nil
}

// recordDetail attaches the fetched detail to its case record
func (s *JobStorage) recordDetail(txn *badger.Txn, job *models.Job, detail *models.CaseDetail, now time.Time) error {
	var c models.CaseRecord
	err := s.db.Store().TxGet(txn, job.CNR, &c)
	newCase := false
	if errors.Is(err, badgerhold.ErrNotFound) {
		c = models.CaseRecord{
			CNR:        job.CNR,
			Court:      job.Court,
			PageNumber: job.PageNumber,
			ListedAt:   now,
		}
		newCase = true
	} else if err != nil {
		return err
	}

	alreadyFetched := c.DetailStatus == models.DetailStatusFetched
	c.CaseDetail = detail
	c.DetailStatus = models.DetailStatusFetched
	c.DetailFetchedAt = &now
	c.SearchText = searchText(&c)
	if err := s.db.Store().TxUpsert(txn, c.CNR, &c); err != nil {
		return err
	}

	var listedDelta, fetchedDelta int64
	if newCase {
		listedDelta = 1
	}
	if !alreadyFetched {
		fetchedDelta = 1
	}
	return s.bumpCourt(txn, c.Court, listedDelta, fetchedDelta)
}

func (s *JobStorage) setDetailStatus(txn *badger.Txn, cnr, status string) error {
	var c models.CaseRecord
	err := s.db.Store().TxGet(txn, cnr, &c)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.DetailStatus == status || c.DetailStatus == models.DetailStatusFetched {
		return nil
	}
	c.DetailStatus = status
	return s.db.Store().TxUpdate(txn, cnr, &c)
}

func (s *JobStorage) bumpCourt(txn *badger.Txn, name string, listed, fetched int64) error {
	if listed == 0 && fetched == 0 {
		return nil
	}
	if name == "" {
		name = "Unknown"
	}
	var stat models.CourtStat
	err := s.db.Store().TxGet(txn, name, &stat)
	if errors.Is(err, badgerhold.ErrNotFound) {
		stat = models.CourtStat{Name: name}
	} else if err != nil {
		return err
	}
	stat.Listed += listed
	stat.DetailsFetched += fetched
	return s.db.Store().TxUpsert(txn, name, &stat)
}

func (s *JobStorage) appendActivity(txn *badger.Txn, entry *models.ActivityEntry) error {
	seq, err := s.db.NextSequence("activity")
	if err != nil {
		return err
	}
	entry.Seq = seq
	entry.ID = common.NewActivityID()
	return s.db.Store().TxInsert(txn, seq, entry)
}

// collectJobs loads jobs indexed under a status prefix, oldest update first, up to
// batchSize matches. more reports whether matches remain beyond the batch.
func (s *JobStorage) collectJobs(txn *badger.Txn, prefix []byte, match func(*models.Job) bool) (jobs []models.Job, more bool, err error) {
	err = scanKeys(txn, prefix, false, func(key []byte) (bool, error) {
		id, err := idFromTimeKey(prefix, key)
		if err != nil {
			return false, err
		}
		var job models.Job
		if err := s.db.Store().TxGet(txn, id, &job); err != nil {
			return false, fmt.Errorf("index key for job %s: %w", id, err)
		}
		if match != nil && !match(&job) {
			return true, nil
		}
		if len(jobs) == batchSize {
			more = true
			return false, nil
		}
		jobs = append(jobs, job)
		return true, nil
	})
	return jobs, more, err
}

func (s *JobStorage) RetryFailed(ctx context.Context, phase models.Phase, kind models.ErrorKind, resetAttempts bool) (int, error) {
	var match func(*models.Job) bool
	if kind != "" {
		match = func(job *models.Job) bool { return job.ErrorKind == kind }
	}

	total := 0
	for {
		moved := 0
		more := false
		err := s.update(ctx, func(txn *badger.Txn) error {
			moved = 0
			now := s.now()

			jobs, remaining, err := s.collectJobs(txn, statusPrefix(phase, models.JobStatusFailed), match)
			if err != nil {
				return err
			}
			more = remaining

			w := newJobWriter(s.db.Store(), txn)
			for i := range jobs {
				old := jobs[i]
				job := jobs[i]
				job.Status = models.JobStatusPending
				job.AvailableAt = now
				job.UpdatedAt = now
				if resetAttempts {
					job.Attempts = 0
				}
				if err := w.put(&old, &job); err != nil {
					return err
				}
				if job.Phase == models.PhaseDetail {
					if err := s.setDetailStatus(txn, job.CNR, models.DetailStatusPending); err != nil {
						return err
					}
				}
				moved++
			}
			return w.flush()
		})
		if err != nil {
			return total, fmt.Errorf("failed to requeue failed %s jobs: %w", phase, err)
		}
		total += moved
		if !more {
			break
		}
	}

	s.logger.Info().
		Str("phase", string(phase)).
		Str("error_kind", string(kind)).
		Bool("reset_attempts", resetAttempts).
		Int("requeued", total).
		Msg("Failed jobs requeued")
	return total, nil
}

func (s *JobStorage) RecoverRunning(ctx context.Context) (int, error) {
	total := 0
	for _, phase := range models.Phases {
		for {
			moved := 0
			more := false
			err := s.update(ctx, func(txn *badger.Txn) error {
				moved = 0
				now := s.now()

				jobs, remaining, err := s.collectJobs(txn, statusPrefix(phase, models.JobStatusRunning), nil)
				if err != nil {
					return err
				}
				more = remaining

				w := newJobWriter(s.db.Store(), txn)
				for i := range jobs {
					old := jobs[i]
					job := jobs[i]
					job.Status = models.JobStatusPending
					job.AvailableAt = now
					job.UpdatedAt = now
					if err := w.put(&old, &job); err != nil {
						return err
					}
					moved++
				}
				return w.flush()
			})
			if err != nil {
				return total, fmt.Errorf("failed to recover running %s jobs: %w", phase, err)
			}
			total += moved
			if !more {
				break
			}
		}
	}

	if total > 0 {
		s.logger.Warn().Int("count", total).Msg("Recovered jobs left running by previous shutdown")
	}
	return total, nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs pages through the status or recency keys newest first. Without an
// error kind filter the total comes from the counters and skipped keys are never
// decoded; an error kind filter decodes every candidate.
func (s *JobStorage) ListJobs(ctx context.Context, opts models.JobListOptions) ([]models.Job, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	skip := (opts.Page - 1) * opts.PageSize

	jobs := []models.Job{}
	total := 0
	err := s.db.DB().View(func(txn *badger.Txn) error {
		prefix := updatedPrefix(opts.Phase)
		if opts.Status != "" {
			prefix = statusPrefix(opts.Phase, opts.Status)
		}

		if opts.ErrorKind == "" {
			counts, err := readStatusCounts(txn, opts.Phase)
			if err != nil {
				return err
			}
			total = counts.Total()
			if opts.Status != "" {
				total = counts.Get(opts.Status)
			}
		}

		seen := 0
		return scanKeys(txn, prefix, true, func(key []byte) (bool, error) {
			if opts.ErrorKind == "" && seen < skip {
				seen++
				return true, nil
			}
			if opts.ErrorKind == "" && len(jobs) == opts.PageSize {
				return false, nil
			}

			id, err := idFromTimeKey(prefix, key)
			if err != nil {
				return false, err
			}
			var job models.Job
			if err := s.db.Store().TxGet(txn, id, &job); err != nil {
				return false, fmt.Errorf("index key for job %s: %w", id, err)
			}
			if opts.ErrorKind != "" {
				if job.ErrorKind != opts.ErrorKind {
					return true, nil
				}
				total++
				if total <= skip || len(jobs) == opts.PageSize {
					return true, nil
				}
			}
			jobs = append(jobs, job)
			return true, nil
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

func readStatusCounts(txn *badger.Txn, phase models.Phase) (models.StatusCounts, error) {
	var counts models.StatusCounts
	for _, status := range models.JobStatuses {
		n, err := readCounter(txn, countKey(phase, status))
		if err != nil {
			return counts, fmt.Errorf("failed to read %s %s count: %w", status, phase, err)
		}
		counts = counts.With(status, int(n))
	}
	return counts, nil
}

func (s *JobStorage) CountByStatus(ctx context.Context, phase models.Phase) (models.StatusCounts, error) {
	var counts models.StatusCounts
	err := s.db.DB().View(func(txn *badger.Txn) error {
		var err error
		counts, err = readStatusCounts(txn, phase)
		return err
	})
	return counts, err
}

func (s *JobStorage) ErrorSummary(ctx context.Context, phase models.Phase) ([]models.ErrorSummary, error) {
	counts := make([]int, len(models.ErrorKinds))
	total := 0
	err := s.db.DB().View(func(txn *badger.Txn) error {
		for i, kind := range models.ErrorKinds {
			n, err := readCounter(txn, failedKindKey(phase, kind))
			if err != nil {
				return fmt.Errorf("failed to read %s failures: %w", kind, err)
			}
			counts[i] = int(n)
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary := make([]models.ErrorSummary, 0, len(models.ErrorKinds))
	for i, kind := range models.ErrorKinds {
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(counts[i])/float64(total)*1000) / 10
		}
		summary = append(summary, models.ErrorSummary{
			Kind:  kind,
			Label: kind.Label(),
			Count: counts[i],
			Pct:   pct,
		})
	}
	return summary, nil
}

func searchText(c *models.CaseRecord) string {
	parts := []string{c.CNR, c.Title}
	if c.CaseDetail != nil {
		parts = append(parts, c.Petitioner, c.Respondent, c.Judge)
	}
	return strings.ToLower(strings.Join(parts, " "))
}
