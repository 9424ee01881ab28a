package scraper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/ternarybob/docket/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	manager, err := badger.NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func newTestPool(t *testing.T, jobs interfaces.JobStorage, fetcher Fetcher) *Pool {
	t.Helper()
	classifier := NewClassifier(1)
	policy := &RetryPolicy{classifier: classifier} // zero backoff
	pool := NewPool(models.PhaseIndex, jobs, fetcher, classifier, policy, nil, 10*time.Millisecond, arbor.NewLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Close(ctx)
	})
	return pool
}

func listing(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	return &models.JobResult{Cases: []models.CaseRecord{{CNR: fmt.Sprintf("CNR%06d", job.PageNumber), Court: "Delhi High Court"}}}, nil
}

func waitForCounts(t *testing.T, jobs interfaces.JobStorage, phase models.Phase, check func(models.StatusCounts) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		counts, err := jobs.CountByStatus(context.Background(), phase)
		return err == nil && check(counts)
	}, 10*time.Second, 10*time.Millisecond)
}

func TestPoolProcessesJobsInParallelUnderPacing(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	ctx := context.Background()

	_, err := jobs.EnqueuePages(ctx, 1, 10)
	require.NoError(t, err)

	var mu sync.Mutex
	var dispatched []time.Time
	fetcher := FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		mu.Lock()
		dispatched = append(dispatched, time.Now())
		mu.Unlock()
		return listing(ctx, job)
	})

	delay := 300 * time.Millisecond
	pool := newTestPool(t, jobs, fetcher)
	start := time.Now()
	require.NoError(t, pool.Start(RunConfig{Workers: 5, Delay: delay, Timeout: time.Second, MaxRetries: 3}))

	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Done == 10 })
	elapsed := time.Since(start)

	// Five slots: two dispatch rounds, far fewer than ten serialised intervals
	assert.GreaterOrEqual(t, elapsed, delay-10*time.Millisecond)
	assert.Less(t, elapsed, 6*delay)
	assert.Len(t, dispatched, 10)

	detail, err := jobs.CountByStatus(ctx, models.PhaseDetail)
	require.NoError(t, err)
	assert.Equal(t, 10, detail.Pending, "each listed case enqueues a detail job")
}

func TestPoolGlobalPacingSerialisesDispatch(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	_, err := jobs.EnqueuePages(context.Background(), 1, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var dispatched []time.Time
	fetcher := FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		mu.Lock()
		dispatched = append(dispatched, time.Now())
		mu.Unlock()
		return listing(ctx, job)
	})

	delay := 100 * time.Millisecond
	pool := newTestPool(t, jobs, fetcher)
	require.NoError(t, pool.Start(RunConfig{Workers: 4, Delay: delay, Timeout: time.Second, MaxRetries: 3, GlobalPacing: true}))
	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Done == 4 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 4)
	sort.Slice(dispatched, func(i, j int) bool { return dispatched[i].Before(dispatched[j]) })
	for i := 1; i < len(dispatched); i++ {
		assert.GreaterOrEqual(t, dispatched[i].Sub(dispatched[i-1]), delay-10*time.Millisecond)
	}
}

func TestPoolRetriesThenFailsTerminally(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	ctx := context.Background()
	_, err := jobs.EnqueuePages(ctx, 45198, 45198)
	require.NoError(t, err)

	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		calls.Add(1)
		return nil, fmt.Errorf("solver: %w", models.ErrCaptcha)
	})

	pool := newTestPool(t, jobs, fetcher)
	require.NoError(t, pool.Start(RunConfig{Workers: 2, Timeout: time.Second, MaxRetries: 3}))
	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Failed == 1 })

	job, err := jobs.GetJob(ctx, models.JobID(models.PhaseIndex, "45198"))
	require.NoError(t, err)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	require.NotNil(t, job.LastError())
	assert.Equal(t, models.ErrorKindCaptcha, job.LastError().Kind)

	n, err := jobs.RetryFailed(ctx, models.PhaseIndex, models.ErrorKindCaptcha, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Failed == 1 && c.Pending == 0 })
	job, err = jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, job.Attempts, "attempts keep accumulating across a manual retry")
}

func TestPoolRecordsHungFetchAsTimeout(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	ctx := context.Background()
	_, err := jobs.EnqueuePages(ctx, 1, 1)
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	fetcher := FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		<-release // ignores ctx
		return nil, nil
	})

	pool := newTestPool(t, jobs, fetcher)
	require.NoError(t, pool.Start(RunConfig{Workers: 1, Timeout: 50 * time.Millisecond, MaxRetries: 1}))
	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Failed == 1 })

	job, err := jobs.GetJob(ctx, models.JobID(models.PhaseIndex, "1"))
	require.NoError(t, err)
	assert.Equal(t, models.ErrorKindTimeout, job.ErrorKind)
	require.NotNil(t, job.DurationMs)
	assert.GreaterOrEqual(t, *job.DurationMs, int64(50))
}

func TestPoolPauseDrainsInFlightWork(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	ctx := context.Background()
	_, err := jobs.EnqueuePages(ctx, 1, 5)
	require.NoError(t, err)

	started := make(chan struct{}, 5)
	release := make(chan struct{})
	fetcher := FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		started <- struct{}{}
		<-release
		return listing(ctx, job)
	})

	pool := newTestPool(t, jobs, fetcher)
	require.NoError(t, pool.Start(RunConfig{Workers: 1, Timeout: 5 * time.Second, MaxRetries: 3}))
	<-started

	assert.True(t, pool.Pause())
	assert.False(t, pool.Pause(), "pausing a paused pool is a no-op")
	status := pool.Status()
	assert.Equal(t, models.PoolStatePaused, status.State)
	assert.Equal(t, 1, status.InFlight)

	close(release)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(waitCtx))

	counts, err := jobs.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Done)
	assert.Equal(t, 4, counts.Pending)
	assert.Equal(t, 0, counts.Running)
}

func TestPoolStartIsIdempotent(t *testing.T) {
	storage := newTestStorage(t)
	pool := newTestPool(t, storage.JobStorage(), FetcherFunc(listing))

	run := RunConfig{Workers: 2, Delay: time.Second, Timeout: time.Second, MaxRetries: 3}
	require.NoError(t, pool.Start(run))
	require.NoError(t, pool.Start(run))
	assert.Equal(t, 1, pool.generation)

	run.Workers = 3
	require.NoError(t, pool.Start(run))
	assert.Equal(t, 2, pool.generation)
	assert.Equal(t, 3, pool.Status().Workers)

	assert.Error(t, pool.Start(RunConfig{Workers: 0, MaxRetries: 3}))
}

func TestPoolTreatsMissingDetailAsEmptyResponse(t *testing.T) {
	storage := newTestStorage(t)
	jobs := storage.JobStorage()
	ctx := context.Background()

	_, _, err := jobs.Enqueue(ctx, models.NewDetailJob(&models.CaseRecord{CNR: "CNR1", Court: "X"}, time.Now()))
	require.NoError(t, err)

	classifier := NewClassifier(0)
	pool := NewPool(models.PhaseDetail, jobs, FetcherFunc(func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		return &models.JobResult{}, nil
	}), classifier, &RetryPolicy{classifier: classifier}, nil, 10*time.Millisecond, arbor.NewLogger())
	defer pool.Close(context.Background())

	require.NoError(t, pool.Start(RunConfig{Workers: 1, Timeout: time.Second, MaxRetries: 3}))
	waitForCounts(t, jobs, models.PhaseDetail, func(c models.StatusCounts) bool { return c.Failed == 1 })

	job, err := jobs.GetJob(ctx, models.JobID(models.PhaseDetail, "CNR1"))
	require.NoError(t, err)
	assert.Equal(t, models.ErrorKindOther, job.ErrorKind)
	assert.Contains(t, job.ErrorMessage, "empty response")
}

// flakyJobStorage fails the first completeFailures calls to Complete, and every
// Complete when completeFailures is negative
type flakyJobStorage struct {
	interfaces.JobStorage
	completeFailures int32
	completeCalls    atomic.Int32
}

func (f *flakyJobStorage) Complete(ctx context.Context, id string, result *models.JobResult, duration time.Duration) (*models.Job, error) {
	call := f.completeCalls.Add(1)
	if f.completeFailures < 0 || call <= f.completeFailures {
		return nil, fmt.Errorf("failed to complete job %s: Txn is too big to fit into one request", id)
	}
	return f.JobStorage.Complete(ctx, id, result, duration)
}

func TestPoolRetriesFailedCompletion(t *testing.T) {
	storage := newTestStorage(t)
	jobs := &flakyJobStorage{JobStorage: storage.JobStorage(), completeFailures: 1}
	ctx := context.Background()

	_, err := jobs.EnqueuePages(ctx, 1, 1)
	require.NoError(t, err)

	pool := newTestPool(t, jobs, FetcherFunc(listing))
	pool.transitionBackoff = time.Millisecond
	require.NoError(t, pool.Start(RunConfig{Workers: 1, Timeout: time.Second, MaxRetries: 3}))

	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Done == 1 })
	assert.Equal(t, int32(2), jobs.completeCalls.Load())

	job, err := jobs.GetJob(ctx, models.JobID(models.PhaseIndex, "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LastError())
}

func TestPoolRecordsUnstorableResultAsFailure(t *testing.T) {
	storage := newTestStorage(t)
	jobs := &flakyJobStorage{JobStorage: storage.JobStorage(), completeFailures: -1}
	ctx := context.Background()

	_, err := jobs.EnqueuePages(ctx, 1, 1)
	require.NoError(t, err)

	pool := newTestPool(t, jobs, FetcherFunc(listing))
	pool.transitionBackoff = time.Millisecond
	require.NoError(t, pool.Start(RunConfig{Workers: 1, Timeout: time.Second, MaxRetries: 2}))

	// Never left running: each attempt ends pending, then failed once retries run out
	waitForCounts(t, jobs, models.PhaseIndex, func(c models.StatusCounts) bool { return c.Failed == 1 })
	counts, err := jobs.CountByStatus(ctx, models.PhaseIndex)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Running)

	job, err := jobs.GetJob(ctx, models.JobID(models.PhaseIndex, "1"))
	require.NoError(t, err)
	require.NotNil(t, job.LastError())
	assert.Equal(t, models.ErrorKindOther, job.ErrorKind)
	assert.Contains(t, job.ErrorMessage, "store result")
	assert.Equal(t, int32(2*transitionAttempts), jobs.completeCalls.Load())
}
