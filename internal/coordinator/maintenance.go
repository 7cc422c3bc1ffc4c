package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Heartbeats older than this multiple of crawler_timeout are pruned
const heartbeatRetentionFactor = 10

// startMaintenance schedules the periodic queue maintenance sweep:
// stale heartbeat entries are pruned and the dead-letter queue is
// capped so it cannot grow without bound.
func (c *Coordinator) startMaintenance() error {
	schedule := c.config.Queue.MaintenanceSchedule
	if schedule == "" {
		schedule = "@every 5m"
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(schedule, func() { c.runMaintenance(c.ctx) }); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	c.cron.Start()

	c.logger.Info().Str("schedule", schedule).Msg("Queue maintenance scheduled")
	return nil
}

func (c *Coordinator) stopMaintenance() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

func (c *Coordinator) runMaintenance(ctx context.Context) {
	if err := c.pruneStaleHeartbeats(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Heartbeat pruning failed")
	}
	if err := c.capDeadLetterQueue(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Dead-letter cap failed")
	}
}

func (c *Coordinator) pruneStaleHeartbeats(ctx context.Context) error {
	cutoff := time.Now().Add(-heartbeatRetentionFactor * c.config.Monitoring.CrawlerTimeout.Duration())
	stale, err := c.broker.ZRangeByScore(ctx, c.config.Queue.HeartbeatQueueSorted, 0, float64(cutoff.Unix()))
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	members := make([]string, 0, len(stale))
	for _, m := range stale {
		members = append(members, m.Member)
	}
	removed, err := c.broker.ZRemMembers(ctx, c.config.Queue.HeartbeatQueueSorted, members...)
	if err != nil {
		return err
	}
	c.logger.Info().Int64("removed", removed).Msg("Pruned stale satellite heartbeats")
	return nil
}

// capDeadLetterQueue keeps only the newest entries. Pushes land at the
// head, so trimming to [0, max-1] discards the oldest.
func (c *Coordinator) capDeadLetterQueue(ctx context.Context) error {
	max := c.config.Queue.DeadLetterMaxLength
	if max <= 0 {
		return nil
	}

	length, err := c.broker.ListLen(ctx, c.config.Queue.DeadLetterQueueName)
	if err != nil {
		return err
	}
	if length <= int64(max) {
		return nil
	}

	if err := c.broker.ListTrim(ctx, c.config.Queue.DeadLetterQueueName, 0, int64(max)-1); err != nil {
		return err
	}
	c.logger.Info().
		Int64("previous_length", length).
		Int("cap", max).
		Msg("Trimmed dead-letter queue")
	return nil
}
