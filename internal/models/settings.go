package models

import "time"

// ScraperSettings is the operator-tunable configuration value.
// It is replaced as a whole and never mutated in place.
type ScraperSettings struct {
	Workers       int       `json:"workers" validate:"min=1,max=64"`        // Default index workers
	DetailWorkers int       `json:"detail_workers" validate:"min=1,max=64"` // Default detail workers
	DelayMs       int       `json:"delay_ms" validate:"min=0,max=600000"`   // Index pacing delay
	DetailDelayMs int       `json:"detail_delay_ms" validate:"min=0,max=600000"`
	MaxRetries    int       `json:"max_retries" validate:"min=1,max=20"`
	Headless      bool      `json:"headless"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WorkersFor returns the default worker count for a phase
func (s ScraperSettings) WorkersFor(phase Phase) int {
	if phase == PhaseDetail {
		return s.DetailWorkers
	}
	return s.Workers
}

// DelayFor returns the pacing delay for a phase
func (s ScraperSettings) DelayFor(phase Phase) time.Duration {
	if phase == PhaseDetail {
		return time.Duration(s.DetailDelayMs) * time.Millisecond
	}
	return time.Duration(s.DelayMs) * time.Millisecond
}

// SettingsRecord persists the current settings under a fixed key
type SettingsRecord struct {
	Key      string `badgerhold:"key"`
	Settings ScraperSettings
}

// SettingsKey is the single key settings are stored under
const SettingsKey = "scraper"
