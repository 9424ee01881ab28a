package models

import "time"

// Detail fetch state recorded on the case
const (
	DetailStatusPending = "pending"
	DetailStatusFetched = "fetched"
	DetailStatusFailed  = "failed"
)

// CaseRecord is a case discovered by an index job and enriched by its detail job.
// Detail is nil until the detail job reaches done.
type CaseRecord struct {
	CNR             string     `json:"cnr" badgerhold:"key"`
	Title           string     `json:"title"`
	Court           string     `json:"court"`
	PageNumber      int        `json:"page_number"`
	DetailStatus    string     `json:"detail_status"`
	ListedAt        time.Time  `json:"listed_at"`
	DetailFetchedAt *time.Time `json:"detail_fetched_at,omitempty"`
	SearchText      string     `json:"-"` // Lower-cased cnr, title and parties for text search

	*CaseDetail `json:",omitempty"`
}

// CaseDetail holds the fields only the detail page provides
type CaseDetail struct {
	Judge          string         `json:"judge"`
	DateRegistered string         `json:"date_registered"` // YYYY-MM-DD
	DateDecision   string         `json:"date_decision,omitempty"`
	DisposalNature string         `json:"disposal_nature,omitempty"`
	Petitioner     string         `json:"petitioner"`
	Respondent     string         `json:"respondent"`
	CaseType       string         `json:"case_type"`
	NextHearing    string         `json:"next_hearing,omitempty"`
	Bench          string         `json:"bench,omitempty"`
	History        []HistoryEntry `json:"case_history"`
	Orders         []OrderRef     `json:"orders"`
}

// HistoryEntry is one hearing or event in the case history
type HistoryEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// OrderRef references an order document
type OrderRef struct {
	Date   string `json:"date"`
	PDFURL string `json:"pdf_url"`
}

// CourtStat is the per-court breakdown maintained alongside case writes
type CourtStat struct {
	Name           string `json:"name" badgerhold:"key"`
	Listed         int64  `json:"listed"`
	DetailsFetched int64  `json:"details_fetched"`
}

// CaseListOptions filters case browsing
type CaseListOptions struct {
	Query    string // Substring of cnr, title or parties
	Court    string
	Disposal string
	From     string // Registered on or after, YYYY-MM-DD
	To       string // Registered on or before, YYYY-MM-DD
	Page     int    // 1-based
	PageSize int
}

// CasePage is one page of case browsing results
type CasePage struct {
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Pages int          `json:"pages"`
	Limit int          `json:"limit"`
	Cases []CaseRecord `json:"cases"`
}
