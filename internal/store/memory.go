package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

// Memory is an in-process JobStore for tests and single-process runs
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemory creates an empty in-memory job store
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*models.Job),
	}
}

func (s *Memory) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *Memory) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *Memory) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if opts != nil && opts.Status != "" && job.Status != opts.Status {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if opts != nil {
		if opts.Offset > 0 {
			if opts.Offset >= len(jobs) {
				return []*models.Job{}, nil
			}
			jobs = jobs[opts.Offset:]
		}
		if opts.Limit > 0 && opts.Limit < len(jobs) {
			jobs = jobs[:opts.Limit]
		}
	}
	return jobs, nil
}

func (s *Memory) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", job.Status, status, jobID)
	}
	job.Status = status
	return nil
}

func (s *Memory) AppendErrors(ctx context.Context, jobID string, errs ...models.CrawlError) error {
	if len(errs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	job.ErrorLog = append(job.ErrorLog, errs...)
	return nil
}

func (s *Memory) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *Memory) Close() error {
	return nil
}
