package satellite

import (
	"strconv"
	"time"

	"github.com/ternarybob/aranea/internal/models"
)

// crawlStats accumulates the running statistics of one crawl
type crawlStats struct {
	startedAt           time.Time
	pagesCrawled        int
	totalLinksFound     int
	backlinksFound      int
	failedURLs          int
	statusCodes         map[string]int
	domains             map[string]struct{}
	totalResponseTimeMs float64
	responses           int
	errors              []models.CrawlError
}

func newCrawlStats() *crawlStats {
	return &crawlStats{
		startedAt:   time.Now(),
		statusCodes: make(map[string]int),
		domains:     make(map[string]struct{}),
	}
}

func (s *crawlStats) recordResponse(statusCode int, host string, responseTimeMs float64) {
	s.statusCodes[strconv.Itoa(statusCode)]++
	if host != "" {
		s.domains[host] = struct{}{}
	}
	if responseTimeMs > 0 {
		s.totalResponseTimeMs += responseTimeMs
		s.responses++
	}
}

func (s *crawlStats) recordLinks(total, backlinks int) {
	s.totalLinksFound += total
	s.backlinksFound += backlinks
}

func (s *crawlStats) recordError(err models.CrawlError) {
	s.failedURLs++
	s.errors = append(s.errors, err)
}

func (s *crawlStats) avgResponseTimeMs() float64 {
	if s.responses == 0 {
		return 0
	}
	return s.totalResponseTimeMs / float64(s.responses)
}

// finalResult builds the final summary for the job. Status code 200 is
// a sentinel meaning the loop finished, distinct from per-URL responses.
func (s *crawlStats) finalResult(jobID string, status models.JobStatus) *models.CrawlResult {
	return &models.CrawlResult{
		JobID:                  jobID,
		StatusCode:             200,
		IsFinalSummary:         true,
		PagesCrawled:           s.pagesCrawled,
		TotalLinksFound:        s.totalLinksFound,
		BacklinksFound:         s.backlinksFound,
		FailedURLsCount:        s.failedURLs,
		DomainsVisitedCount:    len(s.domains),
		AvgResponseTimeMs:      s.avgResponseTimeMs(),
		StatusCodeDistribution: s.statusCodes,
		CrawlDurationSeconds:   time.Since(s.startedAt).Seconds(),
		JobStatus:              status,
		Errors:                 s.errors,
		CrawlTimestamp:         time.Now().UTC(),
	}
}
