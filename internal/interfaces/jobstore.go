package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/aranea/internal/models"
)

// ErrJobNotFound is returned by JobStore lookups for unknown job IDs
var ErrJobNotFound = errors.New("job not found")

// JobListOptions filters and pages ListJobs results
type JobListOptions struct {
	Status models.JobStatus
	Limit  int
	Offset int
}

// JobStore is the durable record of jobs, errors and terminal results.
// The coordinator owns terminal transitions; satellites transition
// queued jobs to in_progress and update progress fields.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	// UpdateStatus persists a status change, enforcing the transition
	// gate: terminal statuses are absorbing.
	UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error
	AppendErrors(ctx context.Context, jobID string, errs ...models.CrawlError) error
	DeleteJob(ctx context.Context, jobID string) error
	Close() error
}
