package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/models"
)

func newTestJobStorage(t *testing.T) (*JobStorage, *BadgerDB) {
	t.Helper()
	db := newTestDB(t)
	return newJobStorage(db, arbor.NewLogger()), db
}

func sampleCases(page int, cnrs ...string) []models.CaseRecord {
	cases := make([]models.CaseRecord, 0, len(cnrs))
	for _, cnr := range cnrs {
		cases = append(cases, models.CaseRecord{
			CNR:        cnr,
			Title:      "State vs " + cnr,
			Court:      "Delhi High Court",
			PageNumber: page,
		})
	}
	return cases
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	job := models.NewIndexJob(7, time.Now())
	_, created, err := store.Enqueue(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)

	again := models.NewIndexJob(7, time.Now())
	existing, created, err := store.Enqueue(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, existing.ID)

	n, err := store.EnqueuePages(ctx, 5, 9)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "page 7 already existed")

	_, err = store.EnqueuePages(ctx, 0, 3)
	assert.Error(t, err)
}

func TestClaimPartitionsJobsAcrossConcurrentWorkers(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	_, err := store.EnqueuePages(ctx, 1, 60)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := store.Claim(ctx, models.PhaseIndex, 2)
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, job := range jobs {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 60)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}

	counts, err := store.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, 60, counts.Running)
	assert.Equal(t, 0, counts.Pending)
}

func TestClaimOrdersByPageAndSkipsOtherPhase(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	for _, page := range []int{30, 10, 20} {
		_, _, err := store.Enqueue(ctx, models.NewIndexJob(page, now))
		require.NoError(t, err)
	}

	jobs, err := store.Claim(ctx, models.PhaseDetail, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = store.Claim(ctx, models.PhaseIndex, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 10, jobs[0].PageNumber)
	assert.Equal(t, 20, jobs[1].PageNumber)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.Equal(t, models.JobStatusRunning, jobs[0].Status)
	assert.NotNil(t, jobs[0].StartedAt)
}

func TestCompleteIndexJobListsCasesAndEnqueuesDetails(t *testing.T) {
	store, db := newTestJobStorage(t)
	ctx := context.Background()
	cases := NewCaseStorage(db, arbor.NewLogger())
	activity := NewActivityStorage(db, arbor.NewLogger())

	_, err := store.EnqueuePages(ctx, 45231, 45231)
	require.NoError(t, err)
	jobs, err := store.Claim(ctx, models.PhaseIndex, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	result := &models.JobResult{Cases: sampleCases(45231, "DLHC010000012024", "DLHC010000022024", "DLHC010000032024")}
	done, err := store.Complete(ctx, jobs[0].ID, result, 1500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusDone, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, 3, done.ResultCount)
	assert.Nil(t, done.LastError())
	require.NotNil(t, done.DurationMs)
	assert.Equal(t, int64(1500), *done.DurationMs)

	detailCounts, err := store.CountByStatus(ctx, models.PhaseDetail)
	require.NoError(t, err)
	assert.Equal(t, 3, detailCounts.Pending)

	listed, err := cases.CountCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), listed)

	courts, err := cases.CourtBreakdown(ctx)
	require.NoError(t, err)
	require.Len(t, courts, 1)
	assert.Equal(t, int64(3), courts[0].Listed)

	entries, err := activity.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActivityListed, entries[0].Type)
	assert.Equal(t, "Listed 3 cases - page 45,231", entries[0].Message)
	require.NotNil(t, entries[0].PageNumber)
	assert.Equal(t, 45231, *entries[0].PageNumber)
}

func TestCompleteDetailJobAttachesDetail(t *testing.T) {
	store, db := newTestJobStorage(t)
	ctx := context.Background()
	cases := NewCaseStorage(db, arbor.NewLogger())

	_, err := store.EnqueuePages(ctx, 1, 1)
	require.NoError(t, err)
	jobs, err := store.Claim(ctx, models.PhaseIndex, 1)
	require.NoError(t, err)
	_, err = store.Complete(ctx, jobs[0].ID, &models.JobResult{Cases: sampleCases(1, "CNR1")}, time.Second)
	require.NoError(t, err)

	details, err := store.Claim(ctx, models.PhaseDetail, 5)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "CNR1", details[0].CNR)

	detail := &models.CaseDetail{Judge: "Justice Rao", Petitioner: "Acme Ltd", DateRegistered: "2024-03-01"}
	_, err = store.Complete(ctx, details[0].ID, &models.JobResult{Detail: detail}, time.Second)
	require.NoError(t, err)

	c, err := cases.GetCase(ctx, "CNR1")
	require.NoError(t, err)
	assert.Equal(t, models.DetailStatusFetched, c.DetailStatus)
	require.NotNil(t, c.CaseDetail)
	assert.Equal(t, "Justice Rao", c.Judge)
	assert.NotNil(t, c.DetailFetchedAt)

	fetched, err := cases.CountDetailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetched)
}

func TestFailRequeuesWithBackoffThenFailsTerminally(t *testing.T) {
	store, db := newTestJobStorage(t)
	ctx := context.Background()
	activity := NewActivityStorage(db, arbor.NewLogger())

	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.EnqueuePages(ctx, 45198, 45198)
	require.NoError(t, err)
	captcha := models.JobError{Kind: models.ErrorKindCaptcha, Message: "solver rejected"}

	jobs, err := store.Claim(ctx, models.PhaseIndex, 1)
	require.NoError(t, err)
	job, err := store.Fail(ctx, jobs[0].ID, models.JobFailure{Error: captcha, Requeue: true, Delay: time.Minute, MaxRetries: 3}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, models.ErrorKindCaptcha, job.LastError().Kind)

	// Backoff hides the job until it is due
	jobs, err = store.Claim(ctx, models.PhaseIndex, 1)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	now = now.Add(2 * time.Minute)
	for attempt := 2; attempt <= 3; attempt++ {
		jobs, err = store.Claim(ctx, models.PhaseIndex, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, attempt, jobs[0].Attempts)

		requeue := attempt < 3
		job, err = store.Fail(ctx, jobs[0].ID, models.JobFailure{Error: captcha, Requeue: requeue, MaxRetries: 3}, time.Second)
		require.NoError(t, err)
	}

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)

	entries, err := activity.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "CAPTCHA failed - page 45,198 (gave up after 3 attempts)", entries[0].Message)
	assert.Equal(t, "CAPTCHA failed - page 45,198 (retry 2/3)", entries[1].Message)
	assert.Equal(t, "CAPTCHA failed - page 45,198 (retry 1/3)", entries[2].Message)

	summary, err := store.ErrorSummary(ctx, models.PhaseIndex)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, models.ErrorKindCaptcha, summary[0].Kind)
	assert.Equal(t, 1, summary[0].Count)
	assert.Equal(t, 100.0, summary[0].Pct)
}

func TestTransitionsRejectJobsThatAreNotRunning(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	_, err := store.EnqueuePages(ctx, 1, 1)
	require.NoError(t, err)
	id := models.JobID(models.PhaseIndex, "1")

	_, err = store.Complete(ctx, id, &models.JobResult{}, time.Second)
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))

	_, err = store.Fail(ctx, id, models.JobFailure{Error: models.JobError{Kind: models.ErrorKindOther}}, time.Second)
	assert.True(t, errors.Is(err, models.ErrInvariantViolation))

	_, err = store.Complete(ctx, "index:404", &models.JobResult{}, time.Second)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
}

func TestRetryFailedFiltersByKind(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	_, err := store.EnqueuePages(ctx, 1, 4)
	require.NoError(t, err)
	jobs, err := store.Claim(ctx, models.PhaseIndex, 4)
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	kinds := []models.ErrorKind{models.ErrorKindCaptcha, models.ErrorKindCaptcha, models.ErrorKindTimeout, models.ErrorKindOther}
	for i, job := range jobs {
		_, err := store.Fail(ctx, job.ID, models.JobFailure{Error: models.JobError{Kind: kinds[i]}, MaxRetries: 1}, time.Second)
		require.NoError(t, err)
	}

	n, err := store.RetryFailed(ctx, models.PhaseIndex, models.ErrorKindCaptcha, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := store.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 2, counts.Failed)

	// Attempts persist across a manual retry unless reset is requested
	requeued, err := store.Claim(ctx, models.PhaseIndex, 4)
	require.NoError(t, err)
	for _, job := range requeued {
		assert.Equal(t, 2, job.Attempts)
	}

	n, err = store.RetryFailed(ctx, models.PhaseIndex, "", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	reset, err := store.GetJob(ctx, jobs[3].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reset.Attempts)
}

func TestRecoverRunningReturnsJobsToPending(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	_, err := store.EnqueuePages(ctx, 1, 3)
	require.NoError(t, err)
	_, err = store.Claim(ctx, models.PhaseIndex, 2)
	require.NoError(t, err)

	n, err := store.RecoverRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	counts, err := store.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Pending)
	assert.Equal(t, 0, counts.Running)
}

func TestListJobsPaginatesAndFilters(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	_, err := store.EnqueuePages(ctx, 1, 25)
	require.NoError(t, err)

	jobs, err := store.Claim(ctx, models.PhaseIndex, 5)
	require.NoError(t, err)
	for _, job := range jobs {
		now = now.Add(time.Second)
		_, err := store.Complete(ctx, job.ID, &models.JobResult{}, time.Second)
		require.NoError(t, err)
	}

	page, total, err := store.ListJobs(ctx, models.JobListOptions{Phase: models.PhaseIndex, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, page, 10)

	last, total, err := store.ListJobs(ctx, models.JobListOptions{Phase: models.PhaseIndex, Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, last, 5)

	done, total, err := store.ListJobs(ctx, models.JobListOptions{Phase: models.PhaseIndex, Status: models.JobStatusDone, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, done, 5)
	assert.Equal(t, 5, done[0].PageNumber, "most recently updated first")
}

func TestListJobsFiltersByErrorKind(t *testing.T) {
	store, _ := newTestJobStorage(t)
	ctx := context.Background()

	_, err := store.EnqueuePages(ctx, 1, 6)
	require.NoError(t, err)
	jobs, err := store.Claim(ctx, models.PhaseIndex, 6)
	require.NoError(t, err)
	require.Len(t, jobs, 6)

	for i, job := range jobs {
		kind := models.ErrorKindTimeout
		if i%2 == 0 {
			kind = models.ErrorKindCaptcha
		}
		_, err := store.Fail(ctx, job.ID, models.JobFailure{Error: models.JobError{Kind: kind}, MaxRetries: 1}, time.Second)
		require.NoError(t, err)
	}

	captcha, total, err := store.ListJobs(ctx, models.JobListOptions{
		Phase:     models.PhaseIndex,
		Status:    models.JobStatusFailed,
		ErrorKind: models.ErrorKindCaptcha,
		Page:      1,
		PageSize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, captcha, 2)
	for _, job := range captcha {
		assert.Equal(t, models.ErrorKindCaptcha, job.ErrorKind)
	}

	rest, total, err := store.ListJobs(ctx, models.JobListOptions{
		Phase:     models.PhaseIndex,
		ErrorKind: models.ErrorKindCaptcha,
		Page:      2,
		PageSize:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, rest, 1)
}

func TestJobStoreHandlesLargeBacklogs(t *testing.T) {
	if testing.Short() {
		t.Skip("large backlog test")
	}
	store, db := newTestJobStorage(t)
	cases := NewCaseStorage(db, arbor.NewLogger())
	ctx := context.Background()

	const pages = 20500
	const perPage = 10
	created, err := store.EnqueuePages(ctx, 1, pages)
	require.NoError(t, err)
	require.Equal(t, pages, created)

	counts, err := store.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, pages, counts.Pending)

	completed := 0
	for {
		detailCounts, err := store.CountByStatus(ctx, models.PhaseDetail)
		require.NoError(t, err)
		if detailCounts.Pending > 10000 {
			break
		}

		jobs, err := store.Claim(ctx, models.PhaseIndex, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		page := jobs[0].PageNumber

		cnrs := make([]string, perPage)
		for i := range cnrs {
			cnrs[i] = fmt.Sprintf("DLHC01%06d%02d2024", page, i)
		}
		_, err = store.Complete(ctx, jobs[0].ID, &models.JobResult{Cases: sampleCases(page, cnrs...)}, time.Second)
		require.NoError(t, err, "complete page %d", page)
		completed++
	}

	counts, err = store.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, completed, counts.Done)
	assert.Equal(t, pages-completed, counts.Pending)
	assert.Equal(t, 0, counts.Running)

	listed, err := cases.CountCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(completed*perPage), listed)

	// Claim order follows the listing page
	details, err := store.Claim(ctx, models.PhaseDetail, 3)
	require.NoError(t, err)
	require.Len(t, details, 3)
	assert.Equal(t, 1, details[0].PageNumber)

	page, total, err := store.ListJobs(ctx, models.JobListOptions{Phase: models.PhaseDetail, Status: models.JobStatusPending, Page: 2, PageSize: 25})
	require.NoError(t, err)
	assert.Equal(t, completed*perPage-3, total)
	assert.Len(t, page, 25)
}
