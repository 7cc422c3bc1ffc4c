package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a crawl job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"     // Scheduled for a future time, waiting for promotion
	JobStatusQueued     JobStatus = "queued"      // In the work queue, waiting for a satellite
	JobStatusInProgress JobStatus = "in_progress" // Owned by exactly one satellite
	JobStatusPaused     JobStatus = "paused"
	JobStatusStopped    JobStatus = "stopped"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is absorbing: once a job reaches
// a terminal status no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo gates status transitions. Satellites consult this before
// writing: a cancelled job must never move back to in_progress.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusQueued || next == JobStatusCancelled
	case JobStatusQueued:
		return next == JobStatusInProgress || next == JobStatusCancelled
	case JobStatusInProgress:
		return next == JobStatusPaused || next == JobStatusStopped ||
			next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	case JobStatusPaused:
		return next == JobStatusInProgress || next == JobStatusStopped || next == JobStatusCancelled
	case JobStatusStopped:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

// CrawlConfig defines crawl behavior. It is snapshot onto the job at
// submission time and immutable for the lifetime of the job.
type CrawlConfig struct {
	MaxPages          int               `json:"max_pages" validate:"gt=0"`
	MaxDepth          int               `json:"max_depth" validate:"gte=0"`
	DelaySeconds      float64           `json:"delay_seconds" validate:"gte=0"`
	RespectRobotsTxt  bool              `json:"respect_robots_txt"`
	FollowRedirects   bool              `json:"follow_redirects"`
	RenderJavaScript  bool              `json:"render_javascript"`
	UserAgent         string            `json:"user_agent"`
	UserAgentRotation bool              `json:"user_agent_rotation"`
	AllowedDomains    []string          `json:"allowed_domains,omitempty"` // Empty = any domain
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	ProxyList         []string          `json:"proxy_list,omitempty"`
	ProxyRegion       string            `json:"proxy_region,omitempty"`
	TimeoutSeconds    float64           `json:"timeout_seconds" validate:"gte=0"`
}

// DomainAllowed reports whether host passes the allowed_domains filter.
// An empty filter allows every domain; otherwise the host must equal an
// entry or be a subdomain of one.
func (c *CrawlConfig) DomainAllowed(host string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	for _, domain := range c.AllowedDomains {
		if hostMatches(host, domain) {
			return true
		}
	}
	return false
}

// Job represents a crawl job owned by the coordinator for scheduling and
// terminal transitions, and by exactly one satellite while in progress.
type Job struct {
	ID          string       `json:"id"`
	TargetURL   string       `json:"target_url" validate:"required,url"`
	SeedURLs    []string     `json:"seed_urls" validate:"required,min=1,dive,url"`
	Config      CrawlConfig  `json:"config"`
	Status      JobStatus    `json:"status"`
	ScheduledAt *time.Time   `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Progress    float64      `json:"progress_percentage"` // 0-100
	URLsCrawled int          `json:"urls_crawled"`
	LinksFound  int          `json:"links_found"`
	ErrorLog    []CrawlError `json:"error_log,omitempty"` // Append-only
}

// TargetDomain returns the host of the job's target URL
func (j *Job) TargetDomain() string {
	return extractHost(j.TargetURL)
}

// ToJSON serializes the job for queue payloads
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// JobFromJSON deserializes a job from a queue payload. Unknown keys are
// ignored.
func JobFromJSON(data string) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CrawlError is a single error recorded against a job. Per-URL errors
// never abort the job; they accumulate here.
type CrawlError struct {
	Timestamp time.Time              `json:"timestamp"`
	URL       string                 `json:"url,omitempty"`
	Type      string                 `json:"error_type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Error kinds (stable identifiers used in CrawlError.Type and logs)
const (
	ErrorTypeTransport    = "transport"
	ErrorTypeTimeout      = "timeout"
	ErrorTypePolicyDenied = "policy_denied"
	ErrorTypeHTTP4xx      = "http_4xx"
	ErrorTypeHTTP5xx      = "http_5xx"
	ErrorTypeParse        = "parse_error"
	ErrorTypeBroker       = "broker_error"
	ErrorTypeInvalidJob   = "invalid_job"
	ErrorTypeUnknownJob   = "unknown_job"
)

// SatelliteInfo describes the liveness of one satellite as seen by the
// coordinator's monitor loop.
type SatelliteInfo struct {
	ID            string    `json:"satellite_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Active        bool      `json:"active"`
}
