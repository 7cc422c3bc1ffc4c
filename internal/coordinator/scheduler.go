package coordinator

import (
	"context"
	"math"
	"time"

	"github.com/ternarybob/aranea/internal/models"
)

const maxScore = math.MaxFloat64

// schedulerPromotionLoop sweeps the scheduled set every scheduler
// interval and moves due jobs onto the work queue, earliest first.
func (c *Coordinator) schedulerPromotionLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Queue.SchedulerInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.promoteDueJobs(c.ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Scheduled job sweep failed")
			}
		}
	}
}

// promoteDueJobs promotes every scheduled entry with score <= now.
// Members arrive ordered by score, so earlier scheduled_at wins.
func (c *Coordinator) promoteDueJobs(ctx context.Context) error {
	now := float64(time.Now().Unix())
	due, err := c.broker.ZRangeByScore(ctx, c.config.Queue.ScheduledJobsQueue, 0, now)
	if err != nil {
		return err
	}

	for _, member := range due {
		// Atomic: the member is never observable in both places
		if err := c.broker.PromoteScheduled(ctx, c.config.Queue.ScheduledJobsQueue, c.config.Queue.JobQueueName, member.Member); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to promote scheduled job")
			continue
		}

		job, err := models.JobFromJSON(member.Member)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Promoted member is not a job payload")
			continue
		}

		if err := c.store.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark promoted job queued")
			continue
		}

		job.Status = models.JobStatusQueued
		c.broadcaster.JobUpdate(job)
		c.logger.Info().Str("job_id", job.ID).Msg("Scheduled job promoted to work queue")
	}
	return nil
}
