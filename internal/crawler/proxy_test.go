package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/aranea/internal/common"
)

func TestProxyRotatorRoundRobin(t *testing.T) {
	r := NewProxyRotator([]string{
		"http://p1.example:8080",
		"http://p2.example:8080",
		"http://p3.example:8080",
	}, time.Minute, 3, common.GetLogger())

	assert.Equal(t, "http://p1.example:8080", r.Next(""))
	assert.Equal(t, "http://p2.example:8080", r.Next(""))
	assert.Equal(t, "http://p3.example:8080", r.Next(""))
	assert.Equal(t, "http://p1.example:8080", r.Next(""))
}

func TestProxyRotatorRegionFilter(t *testing.T) {
	r := NewProxyRotator([]string{
		"http://us1.example:8080#us",
		"http://eu1.example:8080#eu",
		"http://us2.example:8080#us",
	}, time.Minute, 3, common.GetLogger())

	assert.Equal(t, "http://eu1.example:8080", r.Next("eu"))
	// Only one eu proxy, so it comes back again
	assert.Equal(t, "http://eu1.example:8080", r.Next("EU"))
}

func TestProxyRotatorFallsBackAcrossRegions(t *testing.T) {
	r := NewProxyRotator([]string{
		"http://us1.example:8080#us",
	}, time.Minute, 3, common.GetLogger())

	// No eu proxy available; any region beats none
	assert.Equal(t, "http://us1.example:8080", r.Next("eu"))
}

func TestProxyRotatorBanAfterFailures(t *testing.T) {
	r := NewProxyRotator([]string{
		"http://p1.example:8080",
		"http://p2.example:8080",
	}, time.Minute, 2, common.GetLogger())

	r.MarkBad("http://p1.example:8080")
	r.MarkBad("http://p1.example:8080")

	// p1 is cooling down; only p2 is handed out
	assert.Equal(t, "http://p2.example:8080", r.Next(""))
	assert.Equal(t, "http://p2.example:8080", r.Next(""))
}

func TestProxyRotatorMarkGoodResetsFailures(t *testing.T) {
	r := NewProxyRotator([]string{"http://p1.example:8080"}, time.Minute, 2, common.GetLogger())

	r.MarkBad("http://p1.example:8080")
	r.MarkGood("http://p1.example:8080")
	r.MarkBad("http://p1.example:8080")

	// Never reached two consecutive failures, still usable
	assert.Equal(t, "http://p1.example:8080", r.Next(""))
}

func TestProxyRotatorAllBannedReturnsEmpty(t *testing.T) {
	r := NewProxyRotator([]string{"http://p1.example:8080"}, time.Minute, 1, common.GetLogger())

	r.MarkBad("http://p1.example:8080")
	assert.Equal(t, "", r.Next(""))
}

func TestProxyRotatorEmptyList(t *testing.T) {
	r := NewProxyRotator(nil, time.Minute, 3, common.GetLogger())

	assert.False(t, r.HasProxies())
	assert.Equal(t, "", r.Next(""))
}
