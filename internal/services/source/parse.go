package source

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/docket/internal/models"
)

// Portal markup:
//
//	index:  table#cases tbody tr[data-cnr] > td.title, td.court
//	detail: #case [data-field=...], table#history tr > td.date, td.event, #orders a[data-date]
//	total:  #total-count

// IsCaptchaPage reports whether the portal served a CAPTCHA challenge instead of content
func IsCaptchaPage(doc *goquery.Document) bool {
	if doc.Find("#captcha, .captcha, form[name=captcha], img[src*=captcha]").Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "captcha")
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// ParseIndex extracts the listed cases of an index page. An empty table is a valid last page.
func ParseIndex(doc *goquery.Document) ([]models.CaseRecord, error) {
	table := doc.Find("table#cases")
	if table.Length() == 0 {
		return nil, fmt.Errorf("case table missing: %w", models.ErrEmptyResponse)
	}

	cases := []models.CaseRecord{}
	table.Find("tbody tr").Each(func(i int, row *goquery.Selection) {
		cnr, _ := row.Attr("data-cnr")
		cnr = strings.TrimSpace(cnr)
		if cnr == "" {
			return
		}
		cases = append(cases, models.CaseRecord{
			CNR:   cnr,
			Title: text(row.Find("td.title")),
			Court: text(row.Find("td.court")),
		})
	})
	return cases, nil
}

// ParseDetail extracts the case detail. Relative order links are resolved against base.
func ParseDetail(doc *goquery.Document, base *url.URL) (*models.CaseDetail, error) {
	root := doc.Find("#case")
	if root.Length() == 0 {
		return nil, fmt.Errorf("case detail missing: %w", models.ErrEmptyResponse)
	}

	field := func(name string) string {
		return text(root.Find(fmt.Sprintf("[data-field=%q]", name)).First())
	}

	detail := &models.CaseDetail{
		Judge:          field("judge"),
		DateRegistered: field("date_registered"),
		DateDecision:   field("date_decision"),
		DisposalNature: field("disposal_nature"),
		Petitioner:     field("petitioner"),
		Respondent:     field("respondent"),
		CaseType:       field("case_type"),
		NextHearing:    field("next_hearing"),
		Bench:          field("bench"),
		History:        []models.HistoryEntry{},
		Orders:         []models.OrderRef{},
	}

	doc.Find("table#history tr").Each(func(i int, row *goquery.Selection) {
		date := text(row.Find("td.date"))
		event := text(row.Find("td.event"))
		if date == "" && event == "" {
			return
		}
		detail.History = append(detail.History, models.HistoryEntry{Date: date, Event: event})
	})

	doc.Find("#orders a[href]").Each(func(i int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		date, _ := link.Attr("data-date")
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		detail.Orders = append(detail.Orders, models.OrderRef{Date: strings.TrimSpace(date), PDFURL: href})
	})

	return detail, nil
}

// ParseTotal reads the portal's record count, e.g. "16,962,154"
func ParseTotal(doc *goquery.Document) (int64, error) {
	raw := text(doc.Find("#total-count").First())
	if raw == "" {
		return 0, fmt.Errorf("total count missing: %w", models.ErrEmptyResponse)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	total, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid total count %q: %w", raw, err)
	}
	return total, nil
}
