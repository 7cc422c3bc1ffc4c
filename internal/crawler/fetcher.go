package crawler

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/models"
)

// Synthetic status codes recorded when no HTTP response was received
const (
	StatusTransportFailure = 0   // DNS, connect, TLS failures
	StatusFetchTimeout     = 408 // Deadline exceeded before a response arrived
	StatusBreakerOpen      = 503 // Host circuit breaker open, request not sent
)

// FetchResult is the outcome of fetching one URL. A non-nil Err always
// pairs with a synthetic StatusCode so callers have a single dispatch
// point for rate limiting and error classification.
type FetchResult struct {
	URL            string
	FinalURL       string
	StatusCode     int
	ContentType    string
	Body           []byte
	ResponseTimeMs float64
	ProxyUsed      string
	Err            error
}

// IsSuccess reports whether the fetch produced a usable 2xx response
func (r *FetchResult) IsSuccess() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// hostBreaker opens after consecutive failures and short-circuits
// requests to the host until the cooldown passes.
type hostBreaker struct {
	mu        sync.Mutex
	failures  map[string]int
	openUntil map[string]time.Time
	threshold int
	cooldown  time.Duration
}

func newHostBreaker(threshold int, cooldown time.Duration) *hostBreaker {
	return &hostBreaker{
		failures:  make(map[string]int),
		openUntil: make(map[string]time.Time),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (b *hostBreaker) isOpen(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.openUntil[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.openUntil, host)
		b.failures[host] = 0
		return false
	}
	return true
}

func (b *hostBreaker) record(host string, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !failed {
		b.failures[host] = 0
		return
	}
	b.failures[host]++
	if b.failures[host] >= b.threshold {
		b.openUntil[host] = time.Now().Add(b.cooldown)
	}
}

// Fetcher retrieves pages for one job. It snapshots the job config at
// construction so per-URL fetches share the redirect policy, timeout,
// headers and proxy rotation.
type Fetcher struct {
	jobConfig   models.CrawlConfig
	maxBodySize int64
	userAgents  *UserAgentPool
	proxies     *ProxyRotator
	breaker     *hostBreaker
	randomize   bool
	humanDelays bool
	timeout     time.Duration
	client      *http.Client
	logger      arbor.ILogger
}

// NewFetcher builds a fetcher for the job. Defaults from CrawlerConfig
// fill anything the job config leaves zero.
func NewFetcher(jobConfig models.CrawlConfig, crawlerConfig common.CrawlerConfig, antiDetection common.AntiDetectionConfig, proxies *ProxyRotator, logger arbor.ILogger) *Fetcher {
	timeoutSeconds := jobConfig.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = crawlerConfig.TimeoutSeconds
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	timeout := time.Duration(timeoutSeconds * float64(time.Second))

	userAgent := jobConfig.UserAgent
	if userAgent == "" {
		userAgent = crawlerConfig.UserAgent
	}

	maxBody := int64(crawlerConfig.MaxBodySize)
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	f := &Fetcher{
		jobConfig:   jobConfig,
		maxBodySize: maxBody,
		userAgents:  NewUserAgentPool(userAgent, jobConfig.UserAgentRotation, time.Now().UnixNano()),
		proxies:     proxies,
		randomize:   antiDetection.RequestHeaderRandomization,
		humanDelays: antiDetection.HumanLikeDelays,
		timeout:     timeout,
		logger:      logger,
	}

	if crawlerConfig.HostBreakerEnabled {
		cooldown, err := time.ParseDuration(crawlerConfig.HostBreakerCooldown)
		if err != nil || cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		f.breaker = newHostBreaker(5, cooldown)
	}

	f.client = &http.Client{
		Timeout:       timeout,
		CheckRedirect: f.redirectPolicy(),
	}
	return f
}

func (f *Fetcher) redirectPolicy() func(req *http.Request, via []*http.Request) error {
	if f.jobConfig.FollowRedirects {
		return nil // Default policy, up to 10 redirects
	}
	return func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
}

// Fetch retrieves one URL and classifies the outcome. It never panics
// on network failure; errors come back in the result.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *FetchResult {
	result := &FetchResult{URL: rawURL, FinalURL: rawURL}
	host := common.ExtractHost(rawURL)

	if f.breaker != nil && f.breaker.isOpen(host) {
		result.StatusCode = StatusBreakerOpen
		result.Err = errors.New("host circuit breaker open")
		return result
	}

	client := f.client
	proxyURL := ""
	if f.proxies != nil && f.proxies.HasProxies() {
		proxyURL = f.proxies.Next(f.jobConfig.ProxyRegion)
		if proxyURL != "" {
			result.ProxyUsed = proxyURL
			client = f.clientWithProxy(proxyURL)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		result.StatusCode = StatusTransportFailure
		result.Err = err
		return result
	}
	f.applyHeaders(req)

	// Small random pause on top of the rate limiter when human_like_delays
	// is on, so request timing is not perfectly periodic
	if f.humanDelays {
		jitter := time.Duration(50+rand.Intn(200)) * time.Millisecond
		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.StatusCode = StatusTransportFailure
			result.Err = ctx.Err()
			return result
		case <-timer.C:
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	result.ResponseTimeMs = float64(time.Since(start).Milliseconds())

	if err != nil {
		if isTimeout(err) {
			result.StatusCode = StatusFetchTimeout
		} else {
			result.StatusCode = StatusTransportFailure
		}
		result.Err = err
		f.noteOutcome(host, proxyURL, true)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	if resp.Request != nil && resp.Request.URL != nil {
		result.FinalURL = resp.Request.URL.String()
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		result.StatusCode = StatusTransportFailure
		result.Err = err
		f.noteOutcome(host, proxyURL, true)
		return result
	}
	result.Body = body

	failed := resp.StatusCode == 429 || resp.StatusCode >= 500
	f.noteOutcome(host, proxyURL, failed)
	return result
}

func (f *Fetcher) clientWithProxy(proxyURL string) *http.Client {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return f.client
	}
	return &http.Client{
		Timeout:       f.timeout,
		CheckRedirect: f.redirectPolicy(),
		Transport:     &http.Transport{Proxy: http.ProxyURL(parsed)},
	}
}

func (f *Fetcher) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgents.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if f.randomize {
		req.Header.Set("Accept-Language", f.userAgents.NextAcceptLanguage())
	} else {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	for key, value := range f.jobConfig.CustomHeaders {
		req.Header.Set(key, value)
	}
}

func (f *Fetcher) noteOutcome(host, proxyURL string, failed bool) {
	if f.breaker != nil {
		f.breaker.record(host, failed)
	}
	if f.proxies == nil || proxyURL == "" {
		return
	}
	if failed {
		f.proxies.MarkBad(proxyURL)
	} else {
		f.proxies.MarkGood(proxyURL)
	}
}

// IsHTMLContent reports whether the content type is parseable HTML
func IsHTMLContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
