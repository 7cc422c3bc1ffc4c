package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
)

// BrowserFetcher renders pages with a headless browser for jobs that set
// render_javascript. One browser process is shared across the job; each
// page gets a fresh tab context so a wedged page cannot poison the next.
type BrowserFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	waitTime    time.Duration
	timeout     time.Duration
	mu          sync.Mutex
	started     bool
	logger      arbor.ILogger
}

// NewBrowserFetcher prepares a browser fetcher. The browser process is
// launched lazily on the first fetch.
func NewBrowserFetcher(crawlerConfig common.CrawlerConfig, userAgent string, timeout time.Duration, logger arbor.ILogger) *BrowserFetcher {
	waitTime, err := time.ParseDuration(crawlerConfig.JavaScriptWaitTime)
	if err != nil || waitTime <= 0 {
		waitTime = 3 * time.Second
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", crawlerConfig.BrowserHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		waitTime:    waitTime,
		timeout:     timeout,
		logger:      logger,
	}
}

func (b *BrowserFetcher) ensureStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	browserCtx, browserStop := chromedp.NewContext(b.allocCtx)

	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.Navigate("about:blank")); err != nil {
		browserStop()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	b.browserCtx = browserCtx
	b.browserStop = browserStop
	b.started = true
	b.logger.Info().Dur("js_wait_time", b.waitTime).Msg("Headless browser started")
	return nil
}

// FetchRendered navigates to the URL, waits for JavaScript to settle and
// returns the rendered HTML. Status code is synthesized: the CDP session
// does not surface the HTTP status, so success maps to 200 and failures
// to transport or timeout.
func (b *BrowserFetcher) FetchRendered(ctx context.Context, rawURL string) *FetchResult {
	result := &FetchResult{URL: rawURL, FinalURL: rawURL}

	if err := b.ensureStarted(); err != nil {
		result.StatusCode = StatusTransportFailure
		result.Err = err
		return result
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	timeoutCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()

	// Jitter the viewport a little so rendered pages do not all report
	// identical dimensions
	width := int64(1280 + rand.Intn(160))
	height := int64(800 + rand.Intn(120))

	var html string
	var finalURL string
	start := time.Now()
	err := chromedp.Run(timeoutCtx,
		emulation.SetDeviceMetricsOverride(width, height, 1.0, false),
		chromedp.Navigate(rawURL),
		chromedp.Sleep(b.waitTime),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html),
	)
	result.ResponseTimeMs = float64(time.Since(start).Milliseconds())

	// Propagate the job-level cancel over the per-tab deadline
	if ctx.Err() != nil {
		result.StatusCode = StatusTransportFailure
		result.Err = ctx.Err()
		return result
	}

	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			result.StatusCode = StatusFetchTimeout
		} else {
			result.StatusCode = StatusTransportFailure
		}
		result.Err = err
		return result
	}

	if finalURL != "" {
		result.FinalURL = finalURL
	}
	result.StatusCode = 200
	result.ContentType = "text/html"
	result.Body = []byte(html)
	return result
}

// Close shuts down the browser process
func (b *BrowserFetcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserStop != nil {
		b.browserStop()
	}
	b.allocCancel()
	b.started = false
}
