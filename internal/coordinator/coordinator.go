package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/handlers"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

// ErrInvalidJob is returned by Submit when validation fails
var ErrInvalidJob = errors.New("invalid job")

// HealthStats is the health() snapshot exposed over /healthz
type HealthStats struct {
	PendingJobs      int64 `json:"pending_jobs"`
	ScheduledJobs    int64 `json:"scheduled_jobs"`
	ResultBacklog    int64 `json:"result_backlog"`
	ActiveSatellites int   `json:"active_satellites"`
	ProcessingPaused bool  `json:"processing_paused"`
}

// Coordinator owns the job state machine across processes: it submits
// and promotes jobs, ingests results, tracks satellite liveness, routes
// control commands and broadcasts telemetry. Exactly one coordinator
// runs per deployment.
type Coordinator struct {
	broker      interfaces.Broker
	store       interfaces.JobStore
	broadcaster interfaces.JobBroadcaster
	config      *common.Config
	logger      arbor.ILogger
	validate    *validator.Validate

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	cron     *cron.Cron

	satMu      sync.RWMutex
	satellites []models.SatelliteInfo
}

// New creates a coordinator. The broadcaster may be a NopBroadcaster
// when no dashboard is attached.
func New(broker interfaces.Broker, store interfaces.JobStore, broadcaster interfaces.JobBroadcaster, config *common.Config, logger arbor.ILogger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		broker:      broker,
		store:       store,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger,
		validate:    validator.New(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the background loops
func (c *Coordinator) Start() error {
	if err := c.broker.Ping(c.ctx); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}

	c.wg.Add(3)
	go c.resultIngestLoop()
	go c.schedulerPromotionLoop()
	go c.satelliteMonitorLoop()

	if err := c.startMaintenance(); err != nil {
		return err
	}

	c.logger.Info().
		Str("job_queue", c.config.Queue.JobQueueName).
		Str("result_queue", c.config.Queue.ResultQueueName).
		Dur("scheduler_interval", c.config.Queue.SchedulerInterval.Duration()).
		Msg("Coordinator started")
	return nil
}

// Stop signals every loop and waits for them to drain
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.stopMaintenance()
		c.wg.Wait()
		c.logger.Info().Msg("Coordinator stopped")
	})
}

// Submit persists and enqueues a job. Jobs with a future scheduled_at
// land in the scheduled set as Pending; everything else goes straight
// onto the work queue as Queued.
func (c *Coordinator) Submit(ctx context.Context, job *models.Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if job.ID == "" {
		job.ID = common.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := c.validate.Struct(job); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	scheduled := job.ScheduledAt != nil && job.ScheduledAt.After(time.Now())
	if scheduled {
		job.Status = models.JobStatusPending
	} else {
		job.Status = models.JobStatusQueued
	}

	if err := c.store.SaveJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist job: %w", err)
	}

	payload, err := job.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize job: %w", err)
	}

	if scheduled {
		if err := c.broker.ZAdd(ctx, c.config.Queue.ScheduledJobsQueue, payload, float64(job.ScheduledAt.Unix())); err != nil {
			return "", fmt.Errorf("failed to schedule job: %w", err)
		}
		c.logger.Info().
			Str("job_id", job.ID).
			Str("scheduled_at", job.ScheduledAt.Format(time.RFC3339)).
			Msg("Job scheduled")
	} else {
		if err := c.broker.Push(ctx, c.config.Queue.JobQueueName, payload); err != nil {
			return "", fmt.Errorf("failed to enqueue job: %w", err)
		}
		c.logger.Info().Str("job_id", job.ID).Str("target_url", job.TargetURL).Msg("Job queued")
	}

	c.broadcaster.JobUpdate(job)
	return job.ID, nil
}

// Status returns the latest known job. For non-terminal statuses the
// broker is consulted: an entry still sitting in the scheduled set is
// Pending, one in the work queue is Queued; otherwise the store wins.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	if found, _ := c.findInScheduledSet(ctx, jobID); found != "" {
		job.Status = models.JobStatusPending
		return job, nil
	}
	if found, _ := c.findInQueue(ctx, jobID); len(found) > 0 {
		job.Status = models.JobStatusQueued
		return job, nil
	}
	return job, nil
}

// Cancel removes every queue occurrence of the job, marks it Cancelled
// and tells satellites to drop it. Idempotent: cancelling a terminal
// job returns true without side effects.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if errors.Is(err, interfaces.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return true, nil
	}

	if entries, err := c.findInQueue(ctx, jobID); err == nil {
		for _, entry := range entries {
			if _, err := c.broker.RemoveFromList(ctx, c.config.Queue.JobQueueName, entry); err != nil {
				c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove job from queue")
			}
		}
	}
	if member, err := c.findInScheduledSet(ctx, jobID); err == nil && member != "" {
		if _, err := c.broker.ZRemMembers(ctx, c.config.Queue.ScheduledJobsQueue, member); err != nil {
			c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to remove job from scheduled set")
		}
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	if err := c.store.SaveJob(ctx, job); err != nil {
		return false, fmt.Errorf("failed to persist cancellation: %w", err)
	}

	msg := models.ControlMessage{
		Command: models.CommandCancelJob,
		Payload: map[string]interface{}{"job_id": jobID},
	}
	if payload, err := msg.ToJSON(); err == nil {
		if err := c.broker.Publish(ctx, c.controlChannelAll(), payload); err != nil {
			c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to publish cancel command")
		}
	}

	c.broadcaster.JobUpdate(job)
	c.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return true, nil
}

// PauseProcessing sets the cross-process paused flag. Satellites consult
// it before every pop.
func (c *Coordinator) PauseProcessing(ctx context.Context) error {
	if err := c.broker.SetFlag(ctx, c.config.Queue.PausedFlagKey); err != nil {
		return fmt.Errorf("failed to set paused flag: %w", err)
	}
	c.publishControl(ctx, models.CommandPause, nil)
	c.broadcaster.Broadcast("processing_paused", map[string]interface{}{"paused": true})
	c.logger.Info().Msg("Job processing paused")
	return nil
}

// ResumeProcessing clears the paused flag
func (c *Coordinator) ResumeProcessing(ctx context.Context) error {
	if err := c.broker.ClearFlag(ctx, c.config.Queue.PausedFlagKey); err != nil {
		return fmt.Errorf("failed to clear paused flag: %w", err)
	}
	c.publishControl(ctx, models.CommandResume, nil)
	c.broadcaster.Broadcast("processing_paused", map[string]interface{}{"paused": false})
	c.logger.Info().Msg("Job processing resumed")
	return nil
}

// Health reports queue depths, result backlog, liveness and pause state
func (c *Coordinator) Health(ctx context.Context) (*HealthStats, error) {
	stats := &HealthStats{}

	var err error
	if stats.PendingJobs, err = c.broker.ListLen(ctx, c.config.Queue.JobQueueName); err != nil {
		return nil, fmt.Errorf("failed to read job queue length: %w", err)
	}
	if stats.ScheduledJobs, err = c.broker.ZCard(ctx, c.config.Queue.ScheduledJobsQueue); err != nil {
		return nil, fmt.Errorf("failed to read scheduled set size: %w", err)
	}
	if stats.ResultBacklog, err = c.broker.ListLen(ctx, c.config.Queue.ResultQueueName); err != nil {
		return nil, fmt.Errorf("failed to read result backlog: %w", err)
	}
	if stats.ProcessingPaused, err = c.broker.GetFlag(ctx, c.config.Queue.PausedFlagKey); err != nil {
		return nil, fmt.Errorf("failed to read paused flag: %w", err)
	}
	stats.ActiveSatellites = c.ActiveSatelliteCount()
	return stats, nil
}

// ActiveSatelliteCount returns the number of satellites with a recent heartbeat
func (c *Coordinator) ActiveSatelliteCount() int {
	c.satMu.RLock()
	defer c.satMu.RUnlock()
	count := 0
	for _, sat := range c.satellites {
		if sat.Active {
			count++
		}
	}
	return count
}

// Satellites returns the most recent liveness classification
func (c *Coordinator) Satellites() []models.SatelliteInfo {
	c.satMu.RLock()
	defer c.satMu.RUnlock()
	out := make([]models.SatelliteInfo, len(c.satellites))
	copy(out, c.satellites)
	return out
}

// DashboardStats implements handlers.StatsProvider for the hub's
// periodic dashboard_update frame
func (c *Coordinator) DashboardStats() handlers.DashboardStats {
	stats := handlers.DashboardStats{
		ActiveSatellites: c.ActiveSatelliteCount(),
		Timestamp:        time.Now().UTC(),
	}
	if queued, err := c.broker.ListLen(c.ctx, c.config.Queue.JobQueueName); err == nil {
		stats.QueuedJobs = queued
	}
	if scheduled, err := c.broker.ZCard(c.ctx, c.config.Queue.ScheduledJobsQueue); err == nil {
		stats.ScheduledJobs = scheduled
	}
	if paused, err := c.broker.GetFlag(c.ctx, c.config.Queue.PausedFlagKey); err == nil {
		stats.ProcessingPaused = paused
	}
	return stats
}

func (c *Coordinator) controlChannelAll() string {
	return c.config.Queue.ControlChannelPrefix + ":all"
}

func (c *Coordinator) publishControl(ctx context.Context, command string, payload map[string]interface{}) {
	msg := models.ControlMessage{Command: command, Payload: payload}
	data, err := msg.ToJSON()
	if err != nil {
		c.logger.Error().Err(err).Str("command", command).Msg("Failed to serialize control message")
		return
	}
	if err := c.broker.Publish(ctx, c.controlChannelAll(), data); err != nil {
		c.logger.Warn().Err(err).Str("command", command).Msg("Failed to publish control command")
	}
}

// findInQueue returns the serialized queue entries belonging to jobID
func (c *Coordinator) findInQueue(ctx context.Context, jobID string) ([]string, error) {
	entries, err := c.broker.ListRange(ctx, c.config.Queue.JobQueueName, 0, -1)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, entry := range entries {
		if job, err := models.JobFromJSON(entry); err == nil && job.ID == jobID {
			matches = append(matches, entry)
		}
	}
	return matches, nil
}

// findInScheduledSet returns the serialized scheduled-set member for jobID
func (c *Coordinator) findInScheduledSet(ctx context.Context, jobID string) (string, error) {
	members, err := c.broker.ZRangeByScore(ctx, c.config.Queue.ScheduledJobsQueue, 0, maxScore)
	if err != nil {
		return "", err
	}
	for _, m := range members {
		if job, err := models.JobFromJSON(m.Member); err == nil && job.ID == jobID {
			return m.Member, nil
		}
	}
	return "", nil
}
