package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
)

// observation is one entry of a host's response history ring
type observation struct {
	statusCode int
	latencyMs  float64
}

// hostProfile tracks adaptive rate limiting for a single host. Profiles
// are created lazily on first request and live for the satellite process.
type hostProfile struct {
	mu           sync.Mutex
	currentDelay float64 // Seconds
	history      []observation
	lastRequest  time.Time
}

// RateLimiter computes per-host delays from recent response history.
// Profiles are per satellite; two satellites hitting the same host each
// enforce their own delay.
type RateLimiter struct {
	profiles     map[string]*hostProfile
	mu           sync.RWMutex
	initialDelay float64
	config       common.RateLimiterConfig
	mlMode       bool
	logger       arbor.ILogger
}

// NewRateLimiter creates a rate limiter with the given initial per-host delay
func NewRateLimiter(config common.RateLimiterConfig, initialDelay float64, mlMode bool, logger arbor.ILogger) *RateLimiter {
	if config.HistorySize <= 0 {
		config.HistorySize = 10
	}
	if config.SlowResponseMs <= 0 {
		config.SlowResponseMs = 5000
	}
	if initialDelay < config.MinDelay {
		initialDelay = config.MinDelay
	}
	return &RateLimiter{
		profiles:     make(map[string]*hostProfile),
		initialDelay: initialDelay,
		config:       config,
		mlMode:       mlMode,
		logger:       logger,
	}
}

func (rl *RateLimiter) profile(host string) *hostProfile {
	rl.mu.RLock()
	p, exists := rl.profiles[host]
	rl.mu.RUnlock()
	if exists {
		return p
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if p, exists = rl.profiles[host]; exists {
		return p
	}
	p = &hostProfile{currentDelay: rl.initialDelay}
	rl.profiles[host] = p
	return p
}

// Wait blocks until the host's delay since the previous request has
// elapsed, then stamps the request time. Honors context cancellation.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if host == "" {
		return nil
	}

	p := rl.profile(host)
	p.mu.Lock()

	now := time.Now()
	nextAllowed := p.lastRequest.Add(time.Duration(p.currentDelay * float64(time.Second)))

	if now.Before(nextAllowed) {
		waitDuration := nextAllowed.Sub(now)
		p.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		p.mu.Lock()
	}

	p.lastRequest = time.Now()
	p.mu.Unlock()
	return nil
}

// Observe records a completed request and adjusts the host's delay.
// status 0 means transport failure; latency is the full response time.
func (rl *RateLimiter) Observe(host string, statusCode int, latency time.Duration) {
	if host == "" {
		return
	}

	p := rl.profile(host)
	p.mu.Lock()
	defer p.mu.Unlock()

	latencyMs := float64(latency.Milliseconds())
	p.history = append(p.history, observation{statusCode: statusCode, latencyMs: latencyMs})
	if len(p.history) > rl.config.HistorySize {
		p.history = p.history[len(p.history)-rl.config.HistorySize:]
	}

	before := p.currentDelay
	if rl.mlMode {
		rl.adjustWindowed(p, statusCode)
	} else {
		rl.adjustLastObservation(p, statusCode, latencyMs)
	}
	p.currentDelay = rl.clamp(p.currentDelay)

	if p.currentDelay != before {
		rl.logger.Debug().
			Str("host", host).
			Int("status", statusCode).
			Float64("delay_before", before).
			Float64("delay_after", p.currentDelay).
			Msg("Adjusted host delay")
	}
}

// adjustLastObservation applies the single-observation rule set
func (rl *RateLimiter) adjustLastObservation(p *hostProfile, statusCode int, latencyMs float64) {
	switch {
	case statusCode == 429:
		p.currentDelay *= 2.0
	case statusCode == 0 || (statusCode >= 500 && statusCode < 600):
		p.currentDelay *= 1.5
	case latencyMs > rl.config.SlowResponseMs:
		p.currentDelay *= 1.2
	default:
		decayed := p.currentDelay * 0.9
		if decayed < rl.initialDelay {
			decayed = rl.initialDelay
		}
		p.currentDelay = decayed
	}
}

// adjustWindowed applies the ML-mode rule set: success ratio and average
// success latency over the ring drive the multiplicative factors. A 429
// still reacts immediately with the doubled failure factor.
func (rl *RateLimiter) adjustWindowed(p *hostProfile, statusCode int) {
	if statusCode == 429 {
		p.currentDelay *= rl.config.FailureFactor * 2
		return
	}

	var successes int
	var successLatencySum float64
	for _, o := range p.history {
		if o.statusCode >= 200 && o.statusCode < 400 {
			successes++
			successLatencySum += o.latencyMs
		}
	}
	total := len(p.history)
	if total < 3 {
		// Not enough history for a meaningful window
		return
	}

	successRatio := float64(successes) / float64(total)
	avgSuccessLatency := 0.0
	if successes > 0 {
		avgSuccessLatency = successLatencySum / float64(successes)
	}

	switch {
	case successRatio < 0.5:
		p.currentDelay *= rl.config.FailureFactor
	case avgSuccessLatency > rl.config.SlowResponseMs:
		p.currentDelay *= 1.2
	default:
		decayed := p.currentDelay * rl.config.SuccessFactor
		if decayed < rl.initialDelay {
			decayed = rl.initialDelay
		}
		p.currentDelay = decayed
	}
}

func (rl *RateLimiter) clamp(delay float64) float64 {
	if delay < rl.config.MinDelay {
		return rl.config.MinDelay
	}
	if delay > rl.config.MaxDelay {
		return rl.config.MaxDelay
	}
	return delay
}

// Delay returns the current delay for a host in seconds
func (rl *RateLimiter) Delay(host string) float64 {
	p := rl.profile(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}
