package scraper

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

// Fetcher performs the upstream fetch for one job. Index jobs return the listed
// cases, detail jobs return the case detail.
type Fetcher interface {
	Fetch(ctx context.Context, job *models.Job) (*models.JobResult, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, job *models.Job) (*models.JobResult, error)

func (f FetcherFunc) Fetch(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	return f(ctx, job)
}

// transitionAttempts bounds how often a storage transition is tried before the
// outcome is given up on; the job is then left running for RecoverRunning.
const transitionAttempts = 4

// RunConfig is the immutable configuration one run of a pool starts with.
// Changing it means starting a new run; running workers never see a change.
type RunConfig struct {
	Workers      int
	Delay        time.Duration
	Timeout      time.Duration
	MaxRetries   int
	GlobalPacing bool
}

// Pool runs the workers of one phase
type Pool struct {
	phase        models.Phase
	jobs         interfaces.JobStorage
	fetcher      Fetcher
	classifier   *Classifier
	policy       *RetryPolicy
	events       interfaces.EventService
	logger       arbor.ILogger
	pollInterval time.Duration
	// first retry delay of a failed storage transition, doubled per attempt
	transitionBackoff time.Duration

	// execCtx outlives pause; it is cancelled only when a drain times out
	execCtx    context.Context
	execCancel context.CancelFunc

	mu         sync.Mutex
	state      models.PoolState
	run        RunConfig
	stopClaim  context.CancelFunc
	generation int
	wg         sync.WaitGroup
	inFlight   atomic.Int32
}

// NewPool creates an idle pool for a phase
func NewPool(
	phase models.Phase,
	jobs interfaces.JobStorage,
	fetcher Fetcher,
	classifier *Classifier,
	policy *RetryPolicy,
	events interfaces.EventService,
	pollInterval time.Duration,
	logger arbor.ILogger,
) *Pool {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Pool{
		phase:             phase,
		jobs:              jobs,
		fetcher:           fetcher,
		classifier:        classifier,
		policy:            policy,
		events:            events,
		logger:            logger,
		pollInterval:      pollInterval,
		execCtx:           execCtx,
		transitionBackoff: 50 * time.Millisecond,
		execCancel:        execCancel,
		state:             models.PoolStateIdle,
	}
}

// Phase returns the phase this pool serves
func (p *Pool) Phase() models.Phase {
	return p.phase
}

// Start launches a run. Starting with the configuration already running is a no-op;
// a different configuration stops claiming on the current run and starts a new one.
func (p *Pool) Start(run RunConfig) error {
	if run.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", run.Workers)
	}
	if run.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", run.MaxRetries)
	}
	if run.Timeout <= 0 {
		run.Timeout = 60 * time.Second
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.execCtx.Err() != nil {
		return fmt.Errorf("%s pool is closed", p.phase)
	}
	if p.state == models.PoolStateRunning && p.run == run {
		return nil
	}
	if p.state == models.PoolStateRunning {
		p.stopClaim()
		p.logger.Info().
			Str("phase", string(p.phase)).
			Int("old_workers", p.run.Workers).
			Int("new_workers", run.Workers).
			Msg("Restarting pool with new configuration")
	}

	slots := run.Workers
	if run.GlobalPacing {
		slots = 1
	}
	pacer := NewPacer(run.Delay, slots)

	claimCtx, stopClaim := context.WithCancel(p.execCtx)
	p.stopClaim = stopClaim
	p.run = run
	p.state = models.PoolStateRunning
	p.generation++

	for i := 0; i < run.Workers; i++ {
		workerIndex := i
		name := fmt.Sprintf("%s-worker-%d-%d", p.phase, p.generation, workerIndex)
		common.SafeGoGroup(&p.wg, p.logger, name, func() {
			p.worker(claimCtx, workerIndex, run, pacer)
		})
	}

	p.logger.Info().
		Str("phase", string(p.phase)).
		Int("workers", run.Workers).
		Dur("delay", run.Delay).
		Dur("timeout", run.Timeout).
		Int("pacing_slots", slots).
		Msg("Worker pool started")

	p.publishState()
	return nil
}

// Pause stops claiming new jobs; in-flight jobs finish. Returns false if the pool was not running.
func (p *Pool) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != models.PoolStateRunning {
		return false
	}
	p.stopClaim()
	p.state = models.PoolStatePaused

	p.logger.Info().
		Str("phase", string(p.phase)).
		Int("in_flight", int(p.inFlight.Load())).
		Msg("Worker pool paused, draining in-flight jobs")

	p.publishState()
	return true
}

// Wait blocks until every worker of every run has exited or ctx is done
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close pauses the pool and drains it. If ctx expires first, in-flight fetches
// are cancelled; their jobs are recorded as timeouts or recovered on next start.
func (p *Pool) Close(ctx context.Context) error {
	p.Pause()

	err := p.Wait(ctx)
	if err != nil {
		p.logger.Warn().
			Str("phase", string(p.phase)).
			Int("in_flight", int(p.inFlight.Load())).
			Msg("Drain timed out, cancelling in-flight fetches")
	}
	p.execCancel()

	if err != nil {
		grace, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Wait(grace)
	}
	return err
}

// Status is a point-in-time view of the pool
func (p *Pool) Status() models.PoolStatus {
	p.mu.Lock()
	state := p.state
	workers := 0
	if state == models.PoolStateRunning {
		workers = p.run.Workers
	}
	p.mu.Unlock()

	return models.PoolStatus{
		Phase:    p.phase,
		State:    state,
		Workers:  workers,
		InFlight: int(p.inFlight.Load()),
	}
}

// RunConfig returns the configuration of the current or last run
func (p *Pool) RunConfig() RunConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run
}

// worker claims one job at a time until its run stops claiming
func (p *Pool) worker(claimCtx context.Context, index int, run RunConfig, pacer *Pacer) {
	p.logger.Debug().Str("phase", string(p.phase)).Int("worker_index", index).Msg("Worker started")
	processed := 0
	defer func() {
		p.logger.Debug().
			Str("phase", string(p.phase)).
			Int("worker_index", index).
			Int("processed", processed).
			Msg("Worker exiting")
	}()

	for {
		if claimCtx.Err() != nil {
			return
		}

		jobs, err := p.jobs.Claim(claimCtx, p.phase, 1)
		if err != nil {
			if claimCtx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Str("phase", string(p.phase)).Int("worker_index", index).Msg("Claim failed")
			if !p.sleep(claimCtx) {
				return
			}
			continue
		}
		if len(jobs) == 0 {
			if !p.sleep(claimCtx) {
				return
			}
			continue
		}

		// A claimed job is always carried to an outcome, even if the pool pauses now
		job := jobs[0]
		if err := pacer.Wait(p.execCtx, index); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Pacing wait aborted, job left for recovery")
			return
		}
		p.execute(job, run)
		processed++
	}
}

func (p *Pool) sleep(ctx context.Context) bool {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type fetchOutcome struct {
	result *models.JobResult
	err    error
}

// fetch runs the fetcher under the run timeout. A fetcher that ignores its
// context is abandoned at the deadline.
func (p *Pool) fetch(job *models.Job, timeout time.Duration) (*models.JobResult, error) {
	ctx, cancel := context.WithTimeout(p.execCtx, timeout)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	common.SafeGo(p.logger, "fetch:"+job.ID, func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: fmt.Errorf("fetch panicked: %v", r)}
			}
		}()
		result, err := p.fetcher.Fetch(ctx, job)
		done <- fetchOutcome{result: result, err: err}
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s abandoned after %s: %w", job.ID, timeout, ctx.Err())
	}
}

func (p *Pool) execute(job *models.Job, run RunConfig) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	result, err := p.fetch(job, run.Timeout)
	duration := time.Since(start)

	if err == nil && (result == nil || (job.Phase == models.PhaseDetail && result.Detail == nil)) {
		err = fmt.Errorf("%s returned no data: %w", job.Label(), models.ErrEmptyResponse)
	}

	var jobErr models.JobError
	if err == nil {
		done, cerr := p.transition(job, "complete", func(ctx context.Context) (*models.Job, error) {
			return p.jobs.Complete(ctx, job.ID, result, duration)
		})
		if cerr == nil {
			p.logger.Debug().
				Str("job_id", job.ID).
				Int("result_count", done.ResultCount).
				Dur("duration", duration).
				Msg("Job completed")
			p.publish(interfaces.EventJobCompleted, done)
			return
		}
		if errors.Is(cerr, models.ErrInvariantViolation) {
			return
		}
		// The fetch succeeded but its result could not be stored; record the attempt as failed
		jobErr = p.classifier.Describe(fmt.Errorf("store result: %w", cerr))
		jobErr.Kind = models.ErrorKindOther
	} else {
		jobErr = p.classifier.Describe(err)
	}

	verdict := p.policy.Decide(job.Attempts, jobErr.Kind, run.MaxRetries)
	failed, ferr := p.transition(job, "fail", func(ctx context.Context) (*models.Job, error) {
		return p.jobs.Fail(ctx, job.ID, models.JobFailure{
			Error:      jobErr,
			Requeue:    verdict.Requeue,
			Delay:      verdict.Delay,
			MaxRetries: run.MaxRetries,
		}, duration)
	})
	if ferr != nil {
		return
	}

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("error_kind", string(jobErr.Kind)).
		Int("attempts", failed.Attempts).
		Bool("requeued", verdict.Requeue).
		Dur("backoff", verdict.Delay).
		Msg("Job attempt failed")
	p.publish(interfaces.EventJobFailed, failed)
}

// transition applies a job state change, retrying storage errors with doubling
// backoff. Invariant violations mean the job is not running and are not retried.
// Outcomes are recorded even while the pool is shutting down, so the context is not the run's.
func (p *Pool) transition(job *models.Job, op string, apply func(ctx context.Context) (*models.Job, error)) (*models.Job, error) {
	backoff := p.transitionBackoff
	var err error
	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		var updated *models.Job
		updated, err = apply(context.Background())
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, models.ErrInvariantViolation) {
			p.logger.Error().Err(err).Str("job_id", job.ID).Str("op", op).Msg("Job transition rejected")
			return nil, err
		}

		if attempt < transitionAttempts {
			p.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("op", op).
				Int("attempt", attempt).
				Dur("retry_in", backoff).
				Msg("Job transition failed, retrying")
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	p.logger.Error().Err(err).
		Str("job_id", job.ID).
		Str("op", op).
		Int("attempts", transitionAttempts).
		Msg("Job transition failed, job left running until recovery")
	return nil, err
}

func (p *Pool) publish(eventType interfaces.EventType, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		p.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

// publishState must be called with p.mu held
func (p *Pool) publishState() {
	workers := 0
	if p.state == models.PoolStateRunning {
		workers = p.run.Workers
	}
	p.publish(interfaces.EventPoolStateChanged, models.PoolStatus{
		Phase:    p.phase,
		State:    p.state,
		Workers:  workers,
		InFlight: int(p.inFlight.Load()),
	})
}
