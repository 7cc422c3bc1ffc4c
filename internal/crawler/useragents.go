package crawler

import (
	"math/rand"
	"sync"
)

// Browser user agents rotated when user_agent_rotation or header
// randomization is enabled.
var rotationUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
}

// acceptLanguages randomized alongside the user agent
var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.9",
	"en-US,en;q=0.8,de;q=0.5",
	"en,en-US;q=0.9",
}

// UserAgentPool hands out user agents, either a fixed one or a random
// pick per request when rotation is enabled.
type UserAgentPool struct {
	fixed    string
	rotate   bool
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewUserAgentPool creates a pool. When rotate is false Next always
// returns fixed.
func NewUserAgentPool(fixed string, rotate bool, seed int64) *UserAgentPool {
	return &UserAgentPool{
		fixed:  fixed,
		rotate: rotate,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Next returns the user agent for the next request
func (p *UserAgentPool) Next() string {
	if !p.rotate {
		return p.fixed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return rotationUserAgents[p.rng.Intn(len(rotationUserAgents))]
}

// NextAcceptLanguage returns a randomized Accept-Language header value
func (p *UserAgentPool) NextAcceptLanguage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return acceptLanguages[p.rng.Intn(len(acceptLanguages))]
}
