package models

import "time"

// Scraper status values reported by GetStats
const (
	ScraperStatusRunning = "running"
	ScraperStatusPaused  = "paused"
	ScraperStatusIdle    = "idle"
)

// IndexStats summarises the index phase
type IndexStats struct {
	Listed         int64   `json:"listed"`          // Cases discovered so far
	TotalEstimated *int64  `json:"total_estimated"` // Last known external total
	Pages          int     `json:"pages"`           // Index jobs known
	Pending        int     `json:"pending"`
	Running        int     `json:"running"`
	Done           int     `json:"done"`
	Failed         int     `json:"failed"`
	PctComplete    float64 `json:"pct_complete"`
	SpeedPerMin    float64 `json:"speed_per_min"` // Pages completed per minute over the sliding window
	EtaHours       float64 `json:"eta_hours"`
	Workers        int     `json:"workers"`
}

// DetailStats summarises the detail phase
type DetailStats struct {
	Fetched          int64   `json:"fetched"`
	ListedNotFetched int64   `json:"listed_not_fetched"`
	Pending          int     `json:"pending"`
	Running          int     `json:"running"`
	Failed           int     `json:"failed"`
	PctComplete      float64 `json:"pct_complete"`
	Workers          int     `json:"workers"`
}

// Stats is the dashboard summary
type Stats struct {
	Index         IndexStats  `json:"index"`
	Details       DetailStats `json:"details"`
	Courts        []CourtStat `json:"courts"`
	ScraperStatus string      `json:"scraper_status"`
	ActiveWorkers int         `json:"active_workers"`
}

// StatusCounts is the per-status job count for one phase
type StatusCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// Total is the number of jobs in the phase
func (c StatusCounts) Total() int {
	return c.Pending + c.Running + c.Done + c.Failed
}

// Get returns the count for one status
func (c StatusCounts) Get(status JobStatus) int {
	switch status {
	case JobStatusPending:
		return c.Pending
	case JobStatusRunning:
		return c.Running
	case JobStatusDone:
		return c.Done
	case JobStatusFailed:
		return c.Failed
	}
	return 0
}

// With returns a copy with one status set to n
func (c StatusCounts) With(status JobStatus, n int) StatusCounts {
	switch status {
	case JobStatusPending:
		c.Pending = n
	case JobStatusRunning:
		c.Running = n
	case JobStatusDone:
		c.Done = n
	case JobStatusFailed:
		c.Failed = n
	}
	return c
}

// ErrorSummary is one row of the failure breakdown
type ErrorSummary struct {
	Kind  ErrorKind `json:"type"`
	Label string    `json:"label"`
	Count int       `json:"count"`
	Pct   float64   `json:"pct"`
}

// JobListOptions filters and paginates job listings
type JobListOptions struct {
	Phase     Phase
	Status    JobStatus // Empty = any
	ErrorKind ErrorKind // Empty = any
	Page      int       // 1-based
	PageSize  int
}

// JobPage is one page of job listings plus the phase failure breakdown
type JobPage struct {
	Phase        Phase          `json:"mode"`
	Total        int            `json:"total"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	Jobs         []Job          `json:"jobs"`
	ErrorSummary []ErrorSummary `json:"error_summary"`
}

// PoolState is the lifecycle state of one phase's worker pool
type PoolState string

const (
	PoolStateIdle    PoolState = "idle"
	PoolStateRunning PoolState = "running"
	PoolStatePaused  PoolState = "paused"
)

// PoolStatus is a point-in-time view of one worker pool
type PoolStatus struct {
	Phase    Phase     `json:"phase"`
	State    PoolState `json:"state"`
	Workers  int       `json:"workers"`
	InFlight int       `json:"in_flight"`
}

// RequeueSummary reports the outcome of a manual retry
type RequeueSummary struct {
	Phase     Phase     `json:"mode"`
	ErrorKind ErrorKind `json:"error_type,omitempty"`
	Requeued  int       `json:"requeued"`
}

// ScheduledTask is the status of one periodic maintenance task
type ScheduledTask struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
