package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/models"
)

type mockCourt struct {
	name  string
	code  string
	bench string
}

var mockCourts = []mockCourt{
	{"Delhi High Court", "DLHC", "Principal Bench"},
	{"Bombay High Court", "MHHC", "Principal Seat"},
	{"Madras High Court", "TNHC", "Principal Seat"},
	{"Calcutta High Court", "WBHC", "Appellate Side"},
	{"Karnataka High Court", "KAHC", "Principal Bench"},
	{"Allahabad High Court", "UPHC", "Lucknow Bench"},
	{"Gujarat High Court", "GJHC", "Principal Seat"},
	{"Kerala High Court", "KLHC", "Principal Seat"},
}

var (
	mockJudges    = []string{"Justice A. Sharma", "Justice R. Iyer", "Justice M. Banerjee", "Justice S. Patel", "Justice K. Menon", "Justice P. Rao"}
	mockParties   = []string{"State of Maharashtra", "Union of India", "Ramesh Kumar", "Sunita Devi", "Tata Steel Ltd", "Municipal Corporation", "Anil Gupta", "Lakshmi Textiles Pvt Ltd"}
	mockCaseTypes = []string{"Writ Petition", "Civil Appeal", "Criminal Appeal", "Bail Application", "Arbitration Petition"}
	mockDisposals = []string{"Allowed", "Dismissed", "Withdrawn", "Disposed of"}
	mockHearings  = []string{"Filed", "Admitted", "Notice issued", "Arguments heard", "Reserved for orders", "Adjourned"}
)

const mockOrderHost = "https://orders.example.invalid"

// MockSource generates a deterministic synthetic portal. Each fetch of a key
// draws from a stream seeded by (seed, key, attempt), so retries can succeed.
type MockSource struct {
	perPage     int
	total       int64
	failureRate float64
	seed        uint64

	mu       sync.Mutex
	attempts map[string]uint64
}

// NewMockSource creates a mock source from configuration
func NewMockSource(config *common.SourceConfig) *MockSource {
	perPage := config.MockCasesPerPage
	if perPage < 1 {
		perPage = 10
	}
	return &MockSource{
		perPage:     perPage,
		total:       config.MockTotal,
		failureRate: config.MockFailureRate,
		seed:        uint64(config.MockSeed),
		attempts:    make(map[string]uint64),
	}
}

func (m *MockSource) rng(key string, attempt uint64) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return rand.New(rand.NewPCG(m.seed^h.Sum64(), attempt))
}

// draw returns the stream for the next attempt at key and the failure it injects, if any
func (m *MockSource) draw(key string) (*rand.Rand, error) {
	m.mu.Lock()
	m.attempts[key]++
	attempt := m.attempts[key]
	m.mu.Unlock()

	r := m.rng(key, attempt)
	if r.Float64() >= m.failureRate {
		return r, nil
	}

	switch roll := r.Float64(); {
	case roll < 0.5:
		return nil, fmt.Errorf("%s: solver rejected: %w", key, models.ErrCaptcha)
	case roll < 0.8:
		return nil, fmt.Errorf("%s: navigation timed out: %w", key, context.DeadlineExceeded)
	default:
		return nil, fmt.Errorf("%s: unexpected page layout", key)
	}
}

// LastPage is the highest page number that lists cases
func (m *MockSource) LastPage() int {
	if m.total <= 0 {
		return 0
	}
	return int((m.total + int64(m.perPage) - 1) / int64(m.perPage))
}

func (m *MockSource) FetchIndex(ctx context.Context, page int) ([]models.CaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := m.draw("index:" + strconv.Itoa(page)); err != nil {
		return nil, err
	}

	cases := []models.CaseRecord{}
	if page < 1 || page > m.LastPage() {
		return cases, nil
	}

	first := int64(page-1) * int64(m.perPage)
	for i := int64(0); i < int64(m.perPage) && first+i < m.total; i++ {
		serial := first + i + 1
		r := m.rng("case:"+strconv.FormatInt(serial, 10), 0)
		court := mockCourts[r.IntN(len(mockCourts))]
		year := 2015 + r.IntN(10)
		cases = append(cases, models.CaseRecord{
			CNR:        fmt.Sprintf("%s%02d%06d%04d", court.code, 1+r.IntN(99), serial%1000000, year),
			Title:      fmt.Sprintf("%s vs %s", mockParties[r.IntN(len(mockParties))], mockParties[r.IntN(len(mockParties))]),
			Court:      court.name,
			PageNumber: page,
		})
	}
	return cases, nil
}

func (m *MockSource) FetchDetail(ctx context.Context, cnr string) (*models.CaseDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := m.draw("detail:" + cnr); err != nil {
		return nil, err
	}

	r := m.rng("detail:"+cnr, 0)
	year := 2015 + r.IntN(10)
	registered := fmt.Sprintf("%04d-%02d-%02d", year, 1+r.IntN(12), 1+r.IntN(28))
	court := mockCourts[0]
	for _, c := range mockCourts {
		if len(cnr) >= 4 && cnr[:4] == c.code {
			court = c
		}
	}

	detail := &models.CaseDetail{
		Judge:          mockJudges[r.IntN(len(mockJudges))],
		DateRegistered: registered,
		Petitioner:     mockParties[r.IntN(len(mockParties))],
		Respondent:     mockParties[r.IntN(len(mockParties))],
		CaseType:       mockCaseTypes[r.IntN(len(mockCaseTypes))],
		Bench:          court.bench,
		History:        []models.HistoryEntry{},
		Orders:         []models.OrderRef{},
	}

	hearings := 1 + r.IntN(len(mockHearings))
	for i := 0; i < hearings; i++ {
		date := fmt.Sprintf("%04d-%02d-%02d", year+i/6, 1+(i*2)%12, 1+r.IntN(28))
		detail.History = append(detail.History, models.HistoryEntry{Date: date, Event: mockHearings[i]})
		if r.IntN(3) == 0 {
			detail.Orders = append(detail.Orders, models.OrderRef{
				Date:   date,
				PDFURL: fmt.Sprintf("%s/%s/%d.pdf", mockOrderHost, cnr, i+1),
			})
		}
	}

	if r.IntN(2) == 0 {
		detail.DisposalNature = mockDisposals[r.IntN(len(mockDisposals))]
		detail.DateDecision = fmt.Sprintf("%04d-%02d-%02d", year+1+r.IntN(3), 1+r.IntN(12), 1+r.IntN(28))
	} else {
		detail.NextHearing = fmt.Sprintf("2026-%02d-%02d", 1+r.IntN(12), 1+r.IntN(28))
	}
	return detail, nil
}

func (m *MockSource) Total(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.total, nil
}

func (m *MockSource) Close() error {
	return nil
}
