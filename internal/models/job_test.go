package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	nonTerminal := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusInProgress, JobStatusPaused, JobStatusStopped}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		allowed bool
	}{
		{"pending to queued", JobStatusPending, JobStatusQueued, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to in_progress", JobStatusPending, JobStatusInProgress, false},
		{"queued to in_progress", JobStatusQueued, JobStatusInProgress, true},
		{"in_progress to paused", JobStatusInProgress, JobStatusPaused, true},
		{"paused to in_progress", JobStatusPaused, JobStatusInProgress, true},
		{"in_progress to completed", JobStatusInProgress, JobStatusCompleted, true},
		{"cancelled to in_progress", JobStatusCancelled, JobStatusInProgress, false},
		{"completed to queued", JobStatusCompleted, JobStatusQueued, false},
		{"failed to in_progress", JobStatusFailed, JobStatusInProgress, false},
		{"stopped to completed", JobStatusStopped, JobStatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobJSONRoundTrip(t *testing.T) {
	scheduledAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{
		ID:        "job_test-1",
		TargetURL: "http://target.example/",
		SeedURLs:  []string{"http://seed.example/a", "http://seed.example/b"},
		Config: CrawlConfig{
			MaxPages:         50,
			MaxDepth:         2,
			DelaySeconds:     0.5,
			RespectRobotsTxt: true,
			FollowRedirects:  true,
			UserAgent:        "test-agent",
			AllowedDomains:   []string{"seed.example"},
			CustomHeaders:    map[string]string{"X-Test": "1"},
			TimeoutSeconds:   10,
		},
		Status:      JobStatusPending,
		ScheduledAt: &scheduledAt,
		CreatedAt:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}

	data, err := job.ToJSON()
	require.NoError(t, err)

	decoded, err := JobFromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.TargetURL, decoded.TargetURL)
	assert.Equal(t, job.SeedURLs, decoded.SeedURLs)
	assert.Equal(t, job.Config, decoded.Config)
	assert.Equal(t, job.Status, decoded.Status)
	require.NotNil(t, decoded.ScheduledAt)
	assert.True(t, decoded.ScheduledAt.Equal(scheduledAt))
}

func TestJobFromJSONIgnoresUnknownKeys(t *testing.T) {
	payload := `{"id":"job_x","target_url":"http://t.example/","seed_urls":["http://s.example/"],"status":"queued","mystery_field":42}`

	job, err := JobFromJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, "job_x", job.ID)
	assert.Equal(t, JobStatusQueued, job.Status)
}

func TestDomainAllowed(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		host    string
		allowed bool
	}{
		{"empty filter allows any", nil, "anything.example", true},
		{"exact match", []string{"a.example"}, "a.example", true},
		{"subdomain match", []string{"a.example"}, "www.a.example", true},
		{"no match", []string{"a.example"}, "b.example", false},
		{"suffix but not subdomain", []string{"a.example"}, "notreallya.example", false},
		{"case insensitive", []string{"A.Example"}, "a.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CrawlConfig{AllowedDomains: tt.domains}
			assert.Equal(t, tt.allowed, cfg.DomainAllowed(tt.host))
		})
	}
}

func TestTargetDomain(t *testing.T) {
	job := &Job{TargetURL: "https://Blog.Target.Example:8443/path"}
	assert.Equal(t, "blog.target.example", job.TargetDomain())
}
