package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docket/internal/common"
)

// ChromeRenderer renders pages in a shared headless Chrome. The browser starts on first use.
type ChromeRenderer struct {
	userAgent string
	wait      time.Duration
	logger    arbor.ILogger

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
}

// NewChromeRenderer creates a renderer from source configuration
func NewChromeRenderer(config *common.SourceConfig, logger arbor.ILogger) *ChromeRenderer {
	return &ChromeRenderer{
		userAgent: config.UserAgent,
		wait:      common.ParseDuration(config.JavaScriptWaitTime, 2*time.Second),
		logger:    logger,
	}
}

func (r *ChromeRenderer) browser() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return r.browserCtx
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(r.userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.allocatorCancel = allocatorCancel
	r.logger.Info().Msg("Headless browser started")
	return browserCtx
}

// Render navigates a fresh tab to pageURL and returns the document HTML
func (r *ChromeRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(r.browser())
	defer cancelTab()

	// Tabs derive from the browser context, so the caller's deadline is applied here
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	start := time.Now()
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.wait),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("render %s: %w", pageURL, ctx.Err())
		}
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	r.logger.Debug().Str("url", pageURL).Dur("duration", time.Since(start)).Msg("Page rendered")
	return html, nil
}

// Close shuts the browser down
func (r *ChromeRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCancel != nil {
		r.browserCancel()
		r.allocatorCancel()
		r.browserCtx = nil
		r.browserCancel = nil
		r.allocatorCancel = nil
		r.logger.Info().Msg("Headless browser stopped")
	}
	return nil
}
