package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
	"github.com/ternarybob/docket/internal/httpclient"
	"github.com/ternarybob/docket/internal/models"
)

// StatusError is a non-2xx upstream response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Kind classifies gateway and request timeouts as timeouts
func (e *StatusError) Kind() models.ErrorKind {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return models.ErrorKindTimeout
	}
	return models.ErrorKindOther
}

// Renderer returns the rendered HTML of a page
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
	Close() error
}

// HTTPSource fetches and parses portal pages
type HTTPSource struct {
	config   *common.SourceConfig
	baseURL  *url.URL
	client   *http.Client
	renderer Renderer // nil fetches raw HTML
	logger   arbor.ILogger
}

// NewHTTPSource creates an HTTP source. With config.Headless pages are rendered through Chrome.
func NewHTTPSource(config *common.SourceConfig, logger arbor.ILogger) (*HTTPSource, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("source.base_url is required in http mode")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source.base_url: %w", err)
	}

	client, err := httpclient.NewSessionClient(common.ParseDuration(config.RequestTimeout, 30*time.Second))
	if err != nil {
		return nil, err
	}

	src := &HTTPSource{
		config:  config,
		baseURL: base,
		client:  client,
		logger:  logger,
	}
	if config.Headless {
		src.renderer = NewChromeRenderer(config, logger)
	}
	return src, nil
}

func (s *HTTPSource) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return s.baseURL.String() + path
	}
	return s.baseURL.ResolveReference(ref).String()
}

// document loads a page and rejects CAPTCHA interstitials
func (s *HTTPSource) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document
	if s.renderer != nil {
		html, err := s.renderer.Render(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
		}
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", s.config.UserAgent)
		req.Header.Set("Accept", "text/html")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
		}
	}

	if IsCaptchaPage(doc) {
		return nil, fmt.Errorf("%s: %w", pageURL, models.ErrCaptcha)
	}
	return doc, nil
}

func (s *HTTPSource) FetchIndex(ctx context.Context, page int) ([]models.CaseRecord, error) {
	pageURL := s.resolve(fmt.Sprintf(s.config.IndexPath, page))
	doc, err := s.document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	cases, err := ParseIndex(doc)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	for i := range cases {
		cases[i].PageNumber = page
	}

	s.logger.Debug().Int("page", page).Int("cases", len(cases)).Msg("Index page fetched")
	return cases, nil
}

func (s *HTTPSource) FetchDetail(ctx context.Context, cnr string) (*models.CaseDetail, error) {
	pageURL := s.resolve(fmt.Sprintf(s.config.DetailPath, url.PathEscape(cnr)))
	doc, err := s.document(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	detail, err := ParseDetail(doc, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", cnr, err)
	}
	return detail, nil
}

func (s *HTTPSource) Total(ctx context.Context) (int64, error) {
	doc, err := s.document(ctx, s.resolve(s.config.TotalPath))
	if err != nil {
		return 0, err
	}
	return ParseTotal(doc)
}

func (s *HTTPSource) Close() error {
	if s.renderer != nil {
		return s.renderer.Close()
	}
	return nil
}
