package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

// jobKeyPrefix namespaces job records away from the queue keys sharing
// the same Redis database
const jobKeyPrefix = "crawl_job:"

// mutateRetries bounds optimistic retries when a concurrent writer
// touches the same record mid-transaction
const mutateRetries = 3

// Redis is the shared JobStore used when coordinator and satellites run
// as separate processes: records live next to the queues, so every
// process observes the same job state. UpdateStatus and AppendErrors
// are read-modify-write under WATCH, keeping the transition gate safe
// against concurrent writers.
type Redis struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedis creates a job store connected to the configured Redis server
func NewRedis(config *common.RedisConfig, logger arbor.ILogger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Redis{
		client: client,
		logger: logger,
	}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

func (s *Redis) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	payload, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *Redis) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	payload, err := s.client.Get(ctx, jobKey(jobID)).Result()
	if err == redis.Nil {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job, err := models.JobFromJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", jobID, err)
	}
	return job, nil
}

func (s *Redis) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan job records: %w", err)
	}
	if len(keys) == 0 {
		return []*models.Job{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job records: %w", err)
	}

	var jobs []*models.Job
	for i, value := range values {
		payload, ok := value.(string)
		if !ok {
			continue // Deleted between scan and fetch
		}
		job, err := models.JobFromJSON(payload)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", keys[i]).Msg("Skipping corrupt job record")
			continue
		}
		if opts != nil && opts.Status != "" && job.Status != opts.Status {
			continue
		}
		jobs = append(jobs, job)
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

func (s *Redis) UpdateStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		if !job.Status.CanTransitionTo(status) {
			return fmt.Errorf("invalid status transition %s -> %s for job %s", job.Status, status, jobID)
		}
		job.Status = status
		return nil
	})
}

func (s *Redis) AppendErrors(ctx context.Context, jobID string, errs ...models.CrawlError) error {
	if len(errs) == 0 {
		return nil
	}
	return s.mutate(ctx, jobID, func(job *models.Job) error {
		job.ErrorLog = append(job.ErrorLog, errs...)
		return nil
	})
}

// mutate applies fn to the stored record inside a WATCH transaction and
// retries when a concurrent writer invalidates it
func (s *Redis) mutate(ctx context.Context, jobID string, fn func(*models.Job) error) error {
	key := jobKey(jobID)
	txn := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return interfaces.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}

		job, err := models.JobFromJSON(payload)
		if err != nil {
			return fmt.Errorf("corrupt job record %s: %w", jobID, err)
		}
		if err := fn(job); err != nil {
			return err
		}

		updated, err := job.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < mutateRetries; attempt++ {
		err = s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("failed to update job %s after %d attempts: %w", jobID, mutateRetries, err)
}

func (s *Redis) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
