package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

// Badger is the durable JobStore backed by BadgerDB via badgerhold
type Badger struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadger opens (or creates) the Badger-backed job store
func NewBadger(config *common.BadgerConfig, logger arbor.ILogger) (*Badger, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	badgerOpts := badger.DefaultOptions(config.Path)
	badgerOpts.Logger = nil // Badger's own logger is too chatty; arbor covers it

	options := badgerhold.DefaultOptions
	options.Options = badgerOpts

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Job store initialized")

	return &Badger{
		store:  store,
		logger: logger,
	}, nil
}

func (s *Badger) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.store.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *Badger) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.store.Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Badger) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *Badger) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("invalid status transition %s -> %s for job %s", job.Status, status, jobID)
	}
	job.Status = status
	return s.SaveJob(ctx, job)
}

func (s *Badger) AppendErrors(ctx context.Context, jobID string, errs ...models.CrawlError) error {
	if len(errs) == 0 {
		return nil
	}
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.ErrorLog = append(job.ErrorLog, errs...)
	return s.SaveJob(ctx, job)
}

func (s *Badger) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.store.Delete(jobID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *Badger) Close() error {
	return s.store.Close()
}
