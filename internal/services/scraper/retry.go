package scraper

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/models"
)

// Verdict is the outcome of a retry decision
type Verdict struct {
	Requeue bool
	Delay   time.Duration
}

// RetryPolicy decides requeue vs permanent failure with exponential backoff and jitter.
// The verdict depends only on (attempts, kind, maxRetries); jitter only moves the delay.
type RetryPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64

	classifier *Classifier

	mu     sync.Mutex
	random func() float64 // [0, 1)
}

// NewRetryPolicy creates a retry policy from scraper configuration
func NewRetryPolicy(config *common.ScraperConfig, classifier *Classifier) *RetryPolicy {
	return &RetryPolicy{
		BaseDelay:      common.ParseDuration(config.BaseDelay, 5*time.Second),
		MaxDelay:       common.ParseDuration(config.MaxDelay, 5*time.Minute),
		JitterFraction: config.JitterFraction,
		classifier:     classifier,
		random:         rand.Float64,
	}
}

// WithRandom replaces the jitter source
func (p *RetryPolicy) WithRandom(random func() float64) *RetryPolicy {
	p.mu.Lock()
	p.random = random
	p.mu.Unlock()
	return p
}

// Decide returns the verdict for a job that has just failed its attempts-th attempt
func (p *RetryPolicy) Decide(attempts int, kind models.ErrorKind, maxRetries int) Verdict {
	if attempts >= maxRetries {
		return Verdict{}
	}
	if !p.classifier.Retryable(kind, attempts) {
		return Verdict{}
	}
	return Verdict{Requeue: true, Delay: p.Backoff(attempts)}
}

// Backoff is base * 2^(attempts-1) * (1 +/- jitter), capped at MaxDelay
func (p *RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempts && delay < float64(p.MaxDelay); i++ {
		delay *= 2
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterFraction > 0 {
		p.mu.Lock()
		r := p.random()
		p.mu.Unlock()
		delay *= 1 + p.JitterFraction*(2*r-1)
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
