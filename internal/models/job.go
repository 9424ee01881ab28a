package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase is one of the two independently scheduled scrape workflows
type Phase string

const (
	PhaseIndex  Phase = "index"  // Discovery: one job per listing page
	PhaseDetail Phase = "detail" // Enrichment: one job per case number
)

// Phases lists every phase in scheduling order
var Phases = []Phase{PhaseIndex, PhaseDetail}

// ParsePhase accepts the phase names used by the dashboard ("details" included)
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "index":
		return PhaseIndex, nil
	case "detail", "details":
		return PhaseDetail, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

// JobStatus represents the state of a scrape job
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// JobStatuses lists every status in state machine order
var JobStatuses = []JobStatus{JobStatusPending, JobStatusRunning, JobStatusDone, JobStatusFailed}

// ParseJobStatus validates a status name
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", fmt.Errorf("invalid job status: %q", s)
}

// ErrorKind is the closed set of failure classifications
type ErrorKind string

const (
	ErrorKindCaptcha ErrorKind = "captcha"
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindOther   ErrorKind = "other"
)

// ErrorKinds lists every kind in report order
var ErrorKinds = []ErrorKind{ErrorKindCaptcha, ErrorKindTimeout, ErrorKindOther}

// ParseErrorKind validates an error kind name
func ParseErrorKind(s string) (ErrorKind, error) {
	kind := ErrorKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ErrorKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("invalid error kind: %q", s)
}

// Label is the human readable name used in failure breakdowns
func (k ErrorKind) Label() string {
	switch k {
	case ErrorKindCaptcha:
		return "CAPTCHA failed"
	case ErrorKindTimeout:
		return "Timeout"
	default:
		return "Other error"
	}
}

// JobError is the classified failure of the most recent attempt
type JobError struct {
	Kind    ErrorKind `json:"type"`
	Message string    `json:"message"`
}

// Job is one unit of scrape work. Index jobs are keyed by page number,
// detail jobs by case number. ID is "<phase>:<key>" so (phase, key) is unique.
type Job struct {
	ID         string    `json:"id" badgerhold:"key"`
	Phase      Phase     `json:"phase"`
	Key        string    `json:"key"`
	PageNumber int       `json:"page_number,omitempty"` // Index: the page. Detail: the page the case was listed on.
	CNR        string    `json:"cnr,omitempty"`         // Detail jobs only
	Court      string    `json:"court,omitempty"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`

	// Last error of the most recent attempt. Empty on success.
	ErrorKind    ErrorKind `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`

	ResultCount int    `json:"cases_found"`
	DurationMs  *int64 `json:"duration_ms"` // Most recent attempt only

	AvailableAt time.Time  `json:"available_at"` // Not claimable before this instant (retry backoff)
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// JobID builds the storage key for a (phase, key) pair
func JobID(phase Phase, key string) string {
	return string(phase) + ":" + key
}

// NewIndexJob creates a pending index job for a listing page
func NewIndexJob(page int, now time.Time) *Job {
	key := strconv.Itoa(page)
	return &Job{
		ID:          JobID(PhaseIndex, key),
		Phase:       PhaseIndex,
		Key:         key,
		PageNumber:  page,
		Status:      JobStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewDetailJob creates a pending detail job for a discovered case
func NewDetailJob(c *CaseRecord, now time.Time) *Job {
	return &Job{
		ID:          JobID(PhaseDetail, c.CNR),
		Phase:       PhaseDetail,
		Key:         c.CNR,
		PageNumber:  c.PageNumber,
		CNR:         c.CNR,
		Court:       c.Court,
		Status:      JobStatusPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LastError returns the classified error of the most recent attempt, or nil
func (j *Job) LastError() *JobError {
	if j.ErrorKind == "" {
		return nil
	}
	return &JobError{Kind: j.ErrorKind, Message: j.ErrorMessage}
}

// Duration returns the elapsed time of the most recent attempt, if recorded
func (j *Job) Duration() (time.Duration, bool) {
	if j.DurationMs == nil {
		return 0, false
	}
	return time.Duration(*j.DurationMs) * time.Millisecond, true
}

// Label describes the job the way the activity feed does
func (j *Job) Label() string {
	if j.Phase == PhaseIndex {
		return "page " + FormatCount(int64(j.PageNumber))
	}
	return j.CNR
}

// JobResult is what a successful fetch produces
type JobResult struct {
	Cases  []CaseRecord // Index: cases discovered on the page
	Detail *CaseDetail  // Detail: the enrichment for the case
}

// Count is the number of records a result contributes to result_count
func (r *JobResult) Count() int {
	if r == nil {
		return 0
	}
	if r.Detail != nil {
		return 1
	}
	return len(r.Cases)
}

// JobFailure carries the classified error and the retry verdict into the store
type JobFailure struct {
	Error      JobError
	Requeue    bool
	Delay      time.Duration
	MaxRetries int
}

// FormatCount renders an integer with thousands separators (45231 -> "45,231")
func FormatCount(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
