package crawler

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// proxyState tracks failures and cooldown for one proxy
type proxyState struct {
	rawURL    string
	region    string
	failures  int
	bannedTil time.Time
}

// ProxyRotator picks one proxy per request, round-robin with an optional
// region filter. Transport failures and 429 responses mark the proxy bad
// with a cooldown; the job never crashes because a proxy died.
type ProxyRotator struct {
	mu          sync.Mutex
	proxies     []*proxyState
	next        int
	retryDelay  time.Duration
	maxFailures int
	logger      arbor.ILogger
}

// NewProxyRotator builds a rotator from proxy URLs. Region is read from
// the proxy URL fragment when present (e.g. http://1.2.3.4:8080#eu).
func NewProxyRotator(proxyList []string, retryDelay time.Duration, maxFailures int, logger arbor.ILogger) *ProxyRotator {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	r := &ProxyRotator{
		retryDelay:  retryDelay,
		maxFailures: maxFailures,
		logger:      logger,
	}
	for _, raw := range proxyList {
		region := ""
		if idx := strings.Index(raw, "#"); idx >= 0 {
			region = strings.ToLower(raw[idx+1:])
			raw = raw[:idx]
		}
		if _, err := url.Parse(raw); err != nil {
			logger.Warn().Str("proxy", raw).Err(err).Msg("Skipping unparseable proxy entry")
			continue
		}
		r.proxies = append(r.proxies, &proxyState{rawURL: raw, region: region})
	}
	return r
}

// HasProxies reports whether any proxies are configured
func (r *ProxyRotator) HasProxies() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proxies) > 0
}

// Next returns the next usable proxy URL, preferring the desired region.
// Returns "" when every proxy is cooling down or none is configured.
func (r *ProxyRotator) Next(region string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.proxies) == 0 {
		return ""
	}

	region = strings.ToLower(region)
	now := time.Now()

	// Two passes: first the desired region, then any region
	for _, wantRegion := range []bool{region != "", false} {
		for i := 0; i < len(r.proxies); i++ {
			p := r.proxies[(r.next+i)%len(r.proxies)]
			if now.Before(p.bannedTil) {
				continue
			}
			if wantRegion && p.region != region {
				continue
			}
			r.next = (r.next + i + 1) % len(r.proxies)
			return p.rawURL
		}
		if region == "" {
			break
		}
	}
	return ""
}

// MarkBad records a failure against the proxy; after maxFailures
// consecutive failures the proxy cools down for retryDelay.
func (r *ProxyRotator) MarkBad(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.proxies {
		if p.rawURL != proxyURL {
			continue
		}
		p.failures++
		if p.failures >= r.maxFailures {
			p.bannedTil = time.Now().Add(r.retryDelay)
			p.failures = 0
			r.logger.Warn().
				Str("proxy", proxyURL).
				Dur("cooldown", r.retryDelay).
				Msg("Proxy banned after repeated failures")
		}
		return
	}
}

// MarkGood clears the failure count for the proxy
func (r *ProxyRotator) MarkGood(proxyURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.proxies {
		if p.rawURL == proxyURL {
			p.failures = 0
			return
		}
	}
}
