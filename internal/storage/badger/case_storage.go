package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/interfaces"
	"github.com/ternarybob/docket/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CaseStorage implements interfaces.CaseStorage. Cases are written by JobStorage transitions only.
type CaseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCaseStorage creates a new CaseStorage instance
func NewCaseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CaseStorage {
	return &CaseStorage{
		db:     db,
		logger: logger,
	}
}

func (s *CaseStorage) GetCase(ctx context.Context, cnr string) (*models.CaseRecord, error) {
	var c models.CaseRecord
	if err := s.db.Store().Get(cnr, &c); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("case %s: %w", cnr, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// caseQuery builds the filter for case browsing. Text, disposal and date filters
// need the decoded record so they run as a MatchFunc.
func caseQuery(opts models.CaseListOptions) *badgerhold.Query {
	var query *badgerhold.Query
	if opts.Court != "" {
		query = badgerhold.Where("Court").Eq(opts.Court)
	} else {
		query = badgerhold.Where("CNR").Ne("")
	}

	needle := strings.ToLower(strings.TrimSpace(opts.Query))
	if needle == "" && opts.Disposal == "" && opts.From == "" && opts.To == "" {
		return query
	}

	return query.And("CNR").MatchFunc(func(ra *badgerhold.RecordAccess) (bool, error) {
		c, ok := caseFromRecord(ra.Record())
		if !ok {
			return false, nil
		}
		if needle != "" && !strings.Contains(c.SearchText, needle) {
			return false, nil
		}
		if opts.Disposal != "" || opts.From != "" || opts.To != "" {
			if c.CaseDetail == nil {
				return false, nil
			}
			if opts.Disposal != "" && !strings.EqualFold(c.DisposalNature, opts.Disposal) {
				return false, nil
			}
			// YYYY-MM-DD compares lexically
			if opts.From != "" && c.DateRegistered < opts.From {
				return false, nil
			}
			if opts.To != "" && c.DateRegistered > opts.To {
				return false, nil
			}
		}
		return true, nil
	})
}

func caseFromRecord(record interface{}) (*models.CaseRecord, bool) {
	switch c := record.(type) {
	case *models.CaseRecord:
		return c, true
	case models.CaseRecord:
		return &c, true
	}
	return nil, false
}

func (s *CaseStorage) ListCases(ctx context.Context, opts models.CaseListOptions) ([]models.CaseRecord, int, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}

	total, err := s.db.Store().Count(&models.CaseRecord{}, caseQuery(opts))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	var cases []models.CaseRecord
	query := caseQuery(opts).
		SortBy("ListedAt").Reverse().
		Skip((opts.Page - 1) * opts.PageSize).
		Limit(opts.PageSize)
	if err := s.db.Store().Find(&cases, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	if cases == nil {
		cases = []models.CaseRecord{}
	}
	return cases, int(total), nil
}

func (s *CaseStorage) CourtBreakdown(ctx context.Context) ([]models.CourtStat, error) {
	var courts []models.CourtStat
	if err := s.db.Store().Find(&courts, nil); err != nil {
		return nil, fmt.Errorf("failed to load court breakdown: %w", err)
	}
	sort.Slice(courts, func(i, j int) bool {
		if courts[i].Listed != courts[j].Listed {
			return courts[i].Listed > courts[j].Listed
		}
		return courts[i].Name < courts[j].Name
	})
	if courts == nil {
		courts = []models.CourtStat{}
	}
	return courts, nil
}

// CountCases and CountDetailed sum the court counters that case writes maintain
// in the same transaction, so neither decodes case records.
func (s *CaseStorage) CountCases(ctx context.Context) (int64, error) {
	listed, _, err := s.courtTotals()
	return listed, err
}

func (s *CaseStorage) CountDetailed(ctx context.Context) (int64, error) {
	_, fetched, err := s.courtTotals()
	return fetched, err
}

func (s *CaseStorage) courtTotals() (int64, int64, error) {
	var courts []models.CourtStat
	if err := s.db.Store().Find(&courts, nil); err != nil {
		return 0, 0, fmt.Errorf("failed to count cases: %w", err)
	}
	var listed, fetched int64
	for _, court := range courts {
		listed += court.Listed
		fetched += court.DetailsFetched
	}
	return listed, fetched, nil
}
