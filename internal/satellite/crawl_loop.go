package satellite

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/crawler"
	"github.com/ternarybob/aranea/internal/models"
)

const statusPollDelay = 500 * time.Millisecond

// Exact denial reasons carried in error_message so consumers can
// distinguish config filtering from robots exclusion
const (
	deniedByDomainFilter = "Domain not allowed by config"
	deniedByRobots       = "Blocked by robots.txt rules"
)

// renderedFetcher adapts the headless browser to the PageFetcher shape
type renderedFetcher struct {
	browser *crawler.BrowserFetcher
}

func (r renderedFetcher) Fetch(ctx context.Context, url string) *crawler.FetchResult {
	return r.browser.FetchRendered(ctx, url)
}

// crawlRun holds the state of one job execution: the frontier, the
// visited set and the running statistics. One run per popped job.
// seen tracks every URL ever admitted to the frontier so each URL is
// enqueued at most once; visited tracks what was actually popped.
type crawlRun struct {
	sat         *Satellite
	job         *models.Job
	fetcher     PageFetcher
	frontier    *Frontier
	visited     map[string]bool
	seen        map[string]bool
	stats       *crawlStats
	maxDepth    int
	targetHost  string
	robotsAgent string
	processed   int
}

func newCrawlRun(s *Satellite, job *models.Job) *crawlRun {
	// The operator-level adjustment may push the effective depth below
	// zero; clamp so seeds always crawl
	maxDepth := job.Config.MaxDepth + s.config.Crawler.MaxCrawlDepthAdjust
	if maxDepth < 0 {
		maxDepth = 0
	}

	robotsAgent := job.Config.UserAgent
	if robotsAgent == "" {
		robotsAgent = s.config.Crawler.UserAgent
	}

	var fetcher PageFetcher = s.newFetcher(job.Config)
	if job.Config.RenderJavaScript && s.browser != nil {
		fetcher = renderedFetcher{browser: s.browser}
	}

	seen := make(map[string]bool, len(job.SeedURLs))
	for _, u := range job.SeedURLs {
		seen[u] = true
	}

	return &crawlRun{
		sat:         s,
		job:         job,
		fetcher:     fetcher,
		frontier:    NewFrontier(job.SeedURLs),
		visited:     make(map[string]bool),
		seen:        seen,
		stats:       newCrawlStats(),
		maxDepth:    maxDepth,
		targetHost:  job.TargetDomain(),
		robotsAgent: robotsAgent,
	}
}

// run drains the frontier and returns the status the run ended in.
// Termination: frontier exhausted, page budget reached, or an external
// stop/cancel observed between URLs.
func (r *crawlRun) run(ctx context.Context) models.JobStatus {
	for {
		if status, stop := r.gate(ctx); stop {
			return status
		}

		url, depth, ok := r.frontier.Pop()
		if !ok {
			break
		}
		if r.visited[url] || depth > r.maxDepth {
			continue
		}
		r.visited[url] = true
		r.stats.pagesCrawled++

		r.crawlURL(ctx, url, depth)

		r.processed++
		if n := r.sat.config.Monitoring.HeartbeatEveryN; n > 0 && r.processed%n == 0 {
			r.sat.writeHeartbeat(ctx)
		}

		if r.stats.pagesCrawled >= r.job.Config.MaxPages {
			break
		}
	}
	return models.JobStatusCompleted
}

// gate checks for external state changes before each URL. A paused job
// blocks here until resumed, stopped or cancelled.
func (r *crawlRun) gate(ctx context.Context) (models.JobStatus, bool) {
	for {
		if ctx.Err() != nil || r.sat.cancelRequested.Load() {
			return models.JobStatusCancelled, true
		}

		stored, err := r.sat.store.GetJob(ctx, r.job.ID)
		if err != nil {
			// Store unreachable: keep crawling on the local copy
			return "", false
		}

		switch stored.Status {
		case models.JobStatusStopped:
			return models.JobStatusStopped, true
		case models.JobStatusCancelled:
			return models.JobStatusCancelled, true
		case models.JobStatusPaused:
		default:
			return "", false
		}

		select {
		case <-ctx.Done():
			return models.JobStatusCancelled, true
		case <-time.After(statusPollDelay):
		}
	}
}

// crawlURL processes one URL through policy gates, rate limiting,
// fetch, parse and enqueue. Per-URL failures never abort the run.
func (r *crawlRun) crawlURL(ctx context.Context, rawURL string, depth int) {
	host := common.ExtractHost(rawURL)
	cfg := &r.job.Config

	// Policy denials skip the rate limiter: nothing is sent to the host
	if !cfg.DomainAllowed(host) {
		r.denied(ctx, rawURL, host, deniedByDomainFilter)
		return
	}
	if cfg.RespectRobotsTxt && !r.sat.robots.CanFetch(ctx, rawURL, r.robotsAgent) {
		r.denied(ctx, rawURL, host, deniedByRobots)
		return
	}

	if err := r.sat.rateLimiter.Wait(ctx, host); err != nil {
		return
	}

	result := r.fetcher.Fetch(ctx, rawURL)
	r.sat.rateLimiter.Observe(host, result.StatusCode, time.Duration(result.ResponseTimeMs)*time.Millisecond)
	r.stats.recordResponse(result.StatusCode, host, result.ResponseTimeMs)

	if result.Err != nil || result.StatusCode >= 400 {
		r.failed(ctx, rawURL, result)
		return
	}

	var links []models.Link
	var seo *models.SEOMetrics
	if crawler.IsHTMLContent(result.ContentType) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
		if err != nil {
			r.stats.recordError(models.CrawlError{
				Timestamp: time.Now().UTC(),
				URL:       rawURL,
				Type:      models.ErrorTypeParse,
				Message:   err.Error(),
			})
		} else {
			links = r.sat.extractor.Extract(doc, rawURL)
			for i := range links {
				links[i].HTTPStatus = result.StatusCode
			}
			seo = r.sat.parser.Parse(doc, rawURL)
		}
	}

	backlinks := r.backlinks(links)
	r.stats.recordLinks(len(links), len(backlinks))

	// Only pages referencing the target produce intermediate results;
	// everything else is folded into the final summary
	if len(backlinks) > 0 {
		r.emit(ctx, &models.CrawlResult{
			JobID:          r.job.ID,
			URL:            rawURL,
			StatusCode:     result.StatusCode,
			ContentType:    result.ContentType,
			CrawlTimeMs:    result.ResponseTimeMs,
			LinksFound:     backlinks,
			SEOMetrics:     seo,
			PagesCrawled:   r.stats.pagesCrawled,
			CrawlTimestamp: time.Now().UTC(),
		})
	}

	if depth < r.maxDepth {
		r.enqueue(links, depth+1)
	}
}

// denied emits a synthetic 403 result for a URL blocked before any
// request was made
func (r *crawlRun) denied(ctx context.Context, rawURL, host, reason string) {
	crawlErr := models.CrawlError{
		Timestamp: time.Now().UTC(),
		URL:       rawURL,
		Type:      models.ErrorTypePolicyDenied,
		Message:   reason,
	}
	r.stats.recordError(crawlErr)
	r.stats.recordResponse(403, host, 0)

	r.emit(ctx, &models.CrawlResult{
		JobID:          r.job.ID,
		URL:            rawURL,
		StatusCode:     403,
		ErrorMessage:   reason,
		Errors:         []models.CrawlError{crawlErr},
		PagesCrawled:   r.stats.pagesCrawled,
		CrawlTimestamp: time.Now().UTC(),
	})
}

// failed records a fetch failure and emits a per-URL error result
func (r *crawlRun) failed(ctx context.Context, rawURL string, result *crawler.FetchResult) {
	message := fmt.Sprintf("HTTP %d", result.StatusCode)
	if result.Err != nil {
		message = result.Err.Error()
	}

	crawlErr := models.CrawlError{
		Timestamp: time.Now().UTC(),
		URL:       rawURL,
		Type:      classifyFetchError(result.StatusCode),
		Message:   message,
	}
	r.stats.recordError(crawlErr)

	r.emit(ctx, &models.CrawlResult{
		JobID:          r.job.ID,
		URL:            rawURL,
		StatusCode:     result.StatusCode,
		CrawlTimeMs:    result.ResponseTimeMs,
		ErrorMessage:   message,
		Errors:         []models.CrawlError{crawlErr},
		PagesCrawled:   r.stats.pagesCrawled,
		CrawlTimestamp: time.Now().UTC(),
	})
}

func classifyFetchError(statusCode int) string {
	switch {
	case statusCode == crawler.StatusTransportFailure:
		return models.ErrorTypeTransport
	case statusCode == crawler.StatusFetchTimeout:
		return models.ErrorTypeTimeout
	case statusCode >= 500:
		return models.ErrorTypeHTTP5xx
	default:
		return models.ErrorTypeHTTP4xx
	}
}

// backlinks filters the extracted links down to those pointing at the
// job's target URL or its domain
func (r *crawlRun) backlinks(links []models.Link) []models.Link {
	var matched []models.Link
	for _, l := range links {
		if r.isBacklink(l) {
			matched = append(matched, l)
		}
	}
	return matched
}

func (r *crawlRun) isBacklink(l models.Link) bool {
	if l.TargetURL == r.job.TargetURL {
		return true
	}
	if r.targetHost == "" {
		return false
	}
	return common.HostMatchesDomain(common.ExtractHost(l.TargetURL), r.targetHost)
}

// enqueue pushes discovered links at the next depth, bounded so the
// run can never exceed max_pages. Duplicates are dropped before the
// budget check: the frontier holds each URL at most once, so crawled
// plus pending counts only real work against max_pages.
func (r *crawlRun) enqueue(links []models.Link, depth int) {
	cfg := &r.job.Config
	for _, l := range links {
		if r.seen[l.TargetURL] {
			continue
		}
		if !cfg.DomainAllowed(common.ExtractHost(l.TargetURL)) {
			continue
		}
		if r.stats.pagesCrawled+r.frontier.Len() >= cfg.MaxPages {
			return
		}
		r.seen[l.TargetURL] = true
		r.frontier.Push(l.TargetURL, depth)
	}
}

func (r *crawlRun) emit(ctx context.Context, result *models.CrawlResult) {
	r.sat.pushResult(ctx, result)
}
