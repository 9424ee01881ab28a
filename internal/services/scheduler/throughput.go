package scheduler

import (
	"sync"
	"time"
)

// ThroughputTracker counts completions over a sliding window
type ThroughputTracker struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	stamps []time.Time // ascending
	since  time.Time   // first completion seen
}

// NewThroughputTracker creates a tracker over window
func NewThroughputTracker(window time.Duration) *ThroughputTracker {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &ThroughputTracker{window: window, now: time.Now}
}

// Record adds one completion at t
func (t *ThroughputTracker) Record(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.since.IsZero() || at.Before(t.since) {
		t.since = at
	}
	i := len(t.stamps)
	for i > 0 && t.stamps[i-1].After(at) {
		i--
	}
	t.stamps = append(t.stamps, time.Time{})
	copy(t.stamps[i+1:], t.stamps[i:])
	t.stamps[i] = at
	t.prune(t.now())
}

// prune must be called with t.mu held
func (t *ThroughputTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	drop := 0
	for drop < len(t.stamps) && !t.stamps[drop].After(cutoff) {
		drop++
	}
	t.stamps = t.stamps[drop:]
}

// PerMinute is completions per minute over the window, or over the time since the
// first completion when that is shorter. Spans under a minute count as one minute.
func (t *ThroughputTracker) PerMinute() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.prune(now)
	if len(t.stamps) == 0 {
		return 0
	}

	span := t.window
	if elapsed := now.Sub(t.since); elapsed < span {
		span = elapsed
	}
	if span < time.Minute {
		span = time.Minute
	}
	return float64(len(t.stamps)) / span.Minutes()
}

// EtaHours estimates the hours needed for remaining completions at the current rate. Zero when unknown.
func (t *ThroughputTracker) EtaHours(remaining int) float64 {
	perMinute := t.PerMinute()
	if perMinute <= 0 || remaining <= 0 {
		return 0
	}
	return float64(remaining) / perMinute / 60
}
