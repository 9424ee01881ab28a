package models

import (
	"fmt"
	"time"
)

// Stage is one of the five sequential processing steps
type Stage string

const (
	StageListed     Stage = "listed"
	StageScraped    Stage = "scraped"
	StageCleaned    Stage = "cleaned"
	StageStructured Stage = "structured"
	StageIndexed    Stage = "indexed"
)

// Stages lists the pipeline in order
var Stages = []Stage{StageListed, StageScraped, StageCleaned, StageStructured, StageIndexed}

// ParseStage validates a stage name
func ParseStage(s string) (Stage, error) {
	for _, known := range Stages {
		if Stage(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("invalid pipeline stage: %q", s)
}

// StageCounts holds a count per pipeline stage
type StageCounts struct {
	Listed     int64 `json:"listed"`
	Scraped    int64 `json:"scraped"`
	Cleaned    int64 `json:"cleaned"`
	Structured int64 `json:"structured"`
	Indexed    int64 `json:"indexed"`
}

// Get returns the count for a stage
func (c StageCounts) Get(stage Stage) int64 {
	switch stage {
	case StageListed:
		return c.Listed
	case StageScraped:
		return c.Scraped
	case StageCleaned:
		return c.Cleaned
	case StageStructured:
		return c.Structured
	case StageIndexed:
		return c.Indexed
	}
	return 0
}

// With returns a copy with one stage replaced
func (c StageCounts) With(stage Stage, value int64) StageCounts {
	switch stage {
	case StageListed:
		c.Listed = value
	case StageScraped:
		c.Scraped = value
	case StageCleaned:
		c.Cleaned = value
	case StageStructured:
		c.Structured = value
	case StageIndexed:
		c.Indexed = value
	}
	return c
}

// Freshness of the external total
const (
	FreshnessFresh = "fresh"
	FreshnessStale = "stale"
)

// PipelineSnapshot is one reconciliation cycle. Snapshots are never modified after write.
// A failed cycle writes a stale snapshot carrying the last good total and its check time.
type PipelineSnapshot struct {
	ID            string      `json:"id" badgerhold:"key"`
	Date          string      `json:"date" badgerhold:"index"` // YYYY-MM-DD of RecordedAt (UTC)
	RecordedAt    time.Time   `json:"recorded_at"`
	CheckedAt     time.Time   `json:"last_checked"` // Time of the last successful external check
	ExternalTotal int64       `json:"external_total"`
	HasTotal      bool        `json:"has_total"` // False until the first successful check
	Stages        StageCounts `json:"pipeline"`
	Stale         bool        `json:"stale"`
	Error         string      `json:"error,omitempty"`
}

// LiveCount is the reconciliation view served to the dashboard
type LiveCount struct {
	ExternalTotal *int64      `json:"ecourts_total"`
	LastChecked   *time.Time  `json:"last_checked"`
	Pipeline      StageCounts `json:"pipeline"`
	Freshness     string      `json:"status"`
	Error         string      `json:"error,omitempty"`
	Refreshing    bool        `json:"refreshing"`
}

// HistoryPoint is one day of trend history
type HistoryPoint struct {
	Date          string `json:"date"`
	ExternalTotal int64  `json:"ecourts"`
	Listed        int64  `json:"ours"`
}
