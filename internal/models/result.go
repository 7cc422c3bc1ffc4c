package models

import (
	"encoding/json"
	"time"
)

// LinkType classifies a discovered link by its rel attributes
type LinkType string

const (
	LinkTypeFollow    LinkType = "follow"
	LinkTypeNoFollow  LinkType = "nofollow"
	LinkTypeSponsored LinkType = "sponsored"
	LinkTypeUGC       LinkType = "ugc"
	LinkTypeCanonical LinkType = "canonical"
	LinkTypeRedirect  LinkType = "redirect"
)

// relPrecedence orders rel attribute values; the first match wins.
var relPrecedence = []struct {
	rel      string
	linkType LinkType
}{
	{"sponsored", LinkTypeSponsored},
	{"ugc", LinkTypeUGC},
	{"nofollow", LinkTypeNoFollow},
	{"canonical", LinkTypeCanonical},
	{"redirect", LinkTypeRedirect},
}

// DeriveLinkType maps rel attributes onto a LinkType deterministically.
// Links without a recognized rel value are follow links.
func DeriveLinkType(relAttributes []string) LinkType {
	rels := make(map[string]bool, len(relAttributes))
	for _, r := range relAttributes {
		rels[r] = true
	}
	for _, p := range relPrecedence {
		if rels[p.rel] {
			return p.linkType
		}
	}
	return LinkTypeFollow
}

// Link represents one outbound link discovered on a crawled page
type Link struct {
	ID            string    `json:"id"`
	SourceURL     string    `json:"source_url"`
	TargetURL     string    `json:"target_url"` // Always absolute
	AnchorText    string    `json:"anchor_text"`
	RelAttributes []string  `json:"rel_attributes,omitempty"`
	LinkType      LinkType  `json:"link_type"`
	ContextText   string    `json:"context_text,omitempty"` // Up to 100 chars of surrounding text
	HTTPStatus    int       `json:"http_status"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

// SEOMetrics holds per-page metrics derived by the content parser
type SEOMetrics struct {
	TitleLength           int      `json:"title_length"`
	MetaDescriptionLength int      `json:"meta_description_length"`
	H1Count               int      `json:"h1_count"`
	H2Count               int      `json:"h2_count"`
	InternalLinks         int      `json:"internal_links"`
	ExternalLinks         int      `json:"external_links"`
	ImageCount            int      `json:"image_count"`
	ImagesMissingAlt      int      `json:"images_missing_alt"`
	HasCanonical          bool     `json:"has_canonical"`
	HasRobotsMeta         bool     `json:"has_robots_meta"`
	HasStructuredData     bool     `json:"has_structured_data"`
	StructuredDataTypes   []string `json:"structured_data_types,omitempty"`
	OGTitle               string   `json:"og_title,omitempty"`
	OGDescription         string   `json:"og_description,omitempty"`
	TwitterTitle          string   `json:"twitter_title,omitempty"`
	TwitterDescription    string   `json:"twitter_description,omitempty"`
	MobileViewport        bool     `json:"mobile_viewport"`
	Issues                []string `json:"issues,omitempty"`
}

// CrawlResult is produced by a satellite and consumed exactly once by the
// coordinator's ingest loop. Intermediate results carry target-matching
// links; the final summary carries the aggregate fields instead.
type CrawlResult struct {
	JobID        string       `json:"job_id"`
	URL          string       `json:"url,omitempty"`
	StatusCode   int          `json:"status_code"` // 0 on transport failure; 200 sentinel on final summary
	ContentType  string       `json:"content_type,omitempty"`
	CrawlTimeMs  float64      `json:"crawl_time_ms"`
	LinksFound   []Link       `json:"links_found,omitempty"`
	SEOMetrics   *SEOMetrics  `json:"seo_metrics,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	AnomalyFlags []string     `json:"anomaly_flags,omitempty"`
	Errors       []CrawlError `json:"errors,omitempty"`

	// Final-summary aggregates (only set when IsFinalSummary is true)
	PagesCrawled           int            `json:"pages_crawled,omitempty"`
	TotalLinksFound        int            `json:"total_links_found,omitempty"`
	BacklinksFound         int            `json:"backlinks_found,omitempty"`
	FailedURLsCount        int            `json:"failed_urls_count,omitempty"`
	DomainsVisitedCount    int            `json:"domains_visited_count,omitempty"`
	AvgResponseTimeMs      float64        `json:"avg_response_time_ms,omitempty"`
	StatusCodeDistribution map[string]int `json:"status_code_distribution,omitempty"`
	CrawlDurationSeconds   float64        `json:"crawl_duration_seconds,omitempty"`
	JobStatus              JobStatus      `json:"job_status,omitempty"` // Terminal status the satellite observed

	IsFinalSummary bool      `json:"is_final_summary"`
	CrawlTimestamp time.Time `json:"crawl_timestamp"`
}

// ToJSON serializes the result for the result queue
func (r *CrawlResult) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ResultFromJSON deserializes a result popped from the result queue
func ResultFromJSON(data string) (*CrawlResult, error) {
	var result CrawlResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, err
	}
	if result.JobID == "" {
		return nil, ErrMissingJobID
	}
	return &result, nil
}
