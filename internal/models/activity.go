package models

import "time"

// ActivityType is the kind of job transition an activity entry records
type ActivityType string

const (
	ActivityListed        ActivityType = "listed"
	ActivityDetailFetched ActivityType = "detail_fetched"
	ActivityFailed        ActivityType = "failed"
)

// ActivityEntry is one line of the activity feed. Seq orders entries globally.
type ActivityEntry struct {
	Seq        uint64       `json:"-" badgerhold:"key"`
	ID         string       `json:"id"`
	Timestamp  time.Time    `json:"timestamp"`
	Type       ActivityType `json:"type"`
	Phase      Phase        `json:"phase"`
	Message    string       `json:"message"`
	PageNumber *int         `json:"page_number,omitempty"`
	CaseKey    *string      `json:"cnr,omitempty"`
}
