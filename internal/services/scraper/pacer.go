package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer is a phase's pacing gate. Each slot issues at most one token per delay;
// worker i waits on slot i modulo the slot count. One slot serialises the whole pool.
type Pacer struct {
	delay    time.Duration
	limiters []*rate.Limiter
}

// NewPacer creates a pacer with the given number of slots
func NewPacer(delay time.Duration, slots int) *Pacer {
	if slots < 1 {
		slots = 1
	}

	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	limiters := make([]*rate.Limiter, slots)
	for i := range limiters {
		limiters[i] = rate.NewLimiter(limit, 1)
	}
	return &Pacer{delay: delay, limiters: limiters}
}

// Wait blocks until the worker's slot issues a token or ctx is done
func (p *Pacer) Wait(ctx context.Context, worker int) error {
	if worker < 0 {
		worker = -worker
	}
	return p.limiters[worker%len(p.limiters)].Wait(ctx)
}

// Slots is the number of independent pacing slots
func (p *Pacer) Slots() int {
	return len(p.limiters)
}

// Delay is the minimum spacing between tokens on one slot
func (p *Pacer) Delay() time.Duration {
	return p.delay
}
