package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/ternarybob/arbor"
)

// robotsEntry caches the parsed rules for one host
type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// RobotsCache answers per-host fetch-permission queries, fetching
// /robots.txt at most once per TTL. Network failures are treated as
// permissive (fail-open) with a warning.
type RobotsCache struct {
	client  *http.Client
	entries map[string]*robotsEntry
	mu      sync.Mutex
	ttl     time.Duration
	logger  arbor.ILogger
}

// NewRobotsCache creates a robots.txt cache with the given TTL
func NewRobotsCache(client *http.Client, ttl time.Duration, logger arbor.ILogger) *RobotsCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RobotsCache{
		client:  client,
		entries: make(map[string]*robotsEntry),
		ttl:     ttl,
		logger:  logger,
	}
}

// CanFetch reports whether userAgent may fetch rawURL under the host's
// robots.txt rules.
func (rc *RobotsCache) CanFetch(ctx context.Context, rawURL, userAgent string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := rc.rulesFor(ctx, u)
	if data == nil {
		return true // Fail-open
	}

	group := data.FindGroup(userAgent)
	if group == nil {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (rc *RobotsCache) rulesFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	entry, ok := rc.entries[host]
	if ok && time.Since(entry.fetchedAt) < rc.ttl {
		rc.mu.Unlock()
		return entry.data
	}
	rc.mu.Unlock()

	data, err := rc.fetch(ctx, host)
	if err != nil {
		rc.logger.Warn().
			Err(err).
			Str("host", host).
			Msg("Failed to fetch robots.txt, allowing by default")
		data = nil
	}

	rc.mu.Lock()
	rc.entries[host] = &robotsEntry{data: data, fetchedAt: time.Now()}
	rc.mu.Unlock()
	return data
}

func (rc *RobotsCache) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	robotsURL := host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build robots request: %w", err)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read robots body: %w", err)
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
	}
	return data, nil
}
