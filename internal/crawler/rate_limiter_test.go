package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aranea/internal/common"
)

func testRateLimiterConfig() common.RateLimiterConfig {
	return common.RateLimiterConfig{
		HistorySize:    10,
		SuccessFactor:  0.9,
		FailureFactor:  1.5,
		MinDelay:       0.1,
		MaxDelay:       60.0,
		SlowResponseMs: 5000,
	}
}

func newTestRateLimiter(t *testing.T, initialDelay float64, mlMode bool) *RateLimiter {
	t.Helper()
	return NewRateLimiter(testRateLimiterConfig(), initialDelay, mlMode, common.GetLogger())
}

func TestRateLimiter429DoublesDelay(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	rl.Observe("a.example", 429, 100*time.Millisecond)
	assert.InDelta(t, 2.0, rl.Delay("a.example"), 1e-9)

	rl.Observe("a.example", 429, 100*time.Millisecond)
	assert.InDelta(t, 4.0, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterServerErrorsBackOff(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	rl.Observe("a.example", 503, 100*time.Millisecond)
	assert.InDelta(t, 1.5, rl.Delay("a.example"), 1e-9)

	// Transport failure (status 0) uses the same factor
	rl.Observe("b.example", 0, 100*time.Millisecond)
	assert.InDelta(t, 1.5, rl.Delay("b.example"), 1e-9)
}

func TestRateLimiterSlowResponseBacksOff(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	rl.Observe("a.example", 200, 6*time.Second)
	assert.InDelta(t, 1.2, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterSuccessDecaysToInitial(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	rl.Observe("a.example", 429, 100*time.Millisecond) // 2.0
	for i := 0; i < 50; i++ {
		rl.Observe("a.example", 200, 100*time.Millisecond)
	}
	// Decay never drops below the initial delay
	assert.InDelta(t, 1.0, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterClampsToMaxDelay(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	for i := 0; i < 10; i++ {
		rl.Observe("a.example", 429, 100*time.Millisecond)
	}
	assert.InDelta(t, 60.0, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterHostsAreIndependent(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, false)

	rl.Observe("a.example", 429, 100*time.Millisecond)
	assert.InDelta(t, 2.0, rl.Delay("a.example"), 1e-9)
	assert.InDelta(t, 1.0, rl.Delay("b.example"), 1e-9)
}

func TestRateLimiterWindowed429ReactsImmediately(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, true)

	rl.Observe("a.example", 429, 100*time.Millisecond)
	// FailureFactor 1.5 doubled = 3.0
	assert.InDelta(t, 3.0, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterWindowedNeedsHistory(t *testing.T) {
	rl := newTestRateLimiter(t, 1.0, true)

	// Fewer than 3 observations: no adjustment
	rl.Observe("a.example", 500, 100*time.Millisecond)
	rl.Observe("a.example", 500, 100*time.Millisecond)
	assert.InDelta(t, 1.0, rl.Delay("a.example"), 1e-9)

	// Third observation completes the window; success ratio 0/3 < 0.5
	rl.Observe("a.example", 500, 100*time.Millisecond)
	assert.InDelta(t, 1.5, rl.Delay("a.example"), 1e-9)
}

func TestRateLimiterWindowedSuccessDecays(t *testing.T) {
	rl := newTestRateLimiter(t, 0.5, true)

	// Push delay up first
	rl.Observe("a.example", 429, 100*time.Millisecond)
	delayAfterPenalty := rl.Delay("a.example")

	for i := 0; i < 10; i++ {
		rl.Observe("a.example", 200, 100*time.Millisecond)
	}
	assert.Less(t, rl.Delay("a.example"), delayAfterPenalty)
	assert.GreaterOrEqual(t, rl.Delay("a.example"), 0.5)
}

func TestRateLimiterWaitEnforcesSpacing(t *testing.T) {
	cfg := testRateLimiterConfig()
	rl := NewRateLimiter(cfg, 0.1, false, common.GetLogger())
	ctx := context.Background()

	require.NoError(t, rl.Wait(ctx, "a.example"))
	start := time.Now()
	require.NoError(t, rl.Wait(ctx, "a.example"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestRateLimiterWaitHonorsCancellation(t *testing.T) {
	cfg := testRateLimiterConfig()
	rl := NewRateLimiter(cfg, 5.0, false, common.GetLogger())

	require.NoError(t, rl.Wait(context.Background(), "a.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx, "a.example")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
