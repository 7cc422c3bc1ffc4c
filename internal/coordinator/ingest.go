package coordinator

import (
	"context"
	"time"

	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
)

const (
	ingestBackoffInitial = time.Second
	ingestBackoffMax     = 30 * time.Second
)

// resultIngestLoop pops crawl results and applies them to the store.
// The pop is destructive, so anything that cannot be applied goes to
// the dead-letter queue instead of being dropped. Broker failures back
// off exponentially; the loop never exits on error.
func (c *Coordinator) resultIngestLoop() {
	defer c.wg.Done()

	backoff := ingestBackoffInitial
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		payload, err := c.broker.PopBlocking(c.ctx, c.config.Queue.ResultQueueName, c.config.Queue.PopTimeout.Duration())
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Result pop failed, backing off")
			c.sleep(backoff)
			backoff *= 2
			if backoff > ingestBackoffMax {
				backoff = ingestBackoffMax
			}
			continue
		}
		backoff = ingestBackoffInitial

		if payload == "" {
			continue
		}
		c.ingestResult(c.ctx, payload)
	}
}

func (c *Coordinator) ingestResult(ctx context.Context, payload string) {
	result, err := models.ResultFromJSON(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Malformed result payload, dead-lettering")
		c.deadLetter(ctx, payload)
		return
	}

	job, err := c.store.GetJob(ctx, result.JobID)
	if err != nil {
		if err == interfaces.ErrJobNotFound {
			c.logger.Warn().Str("job_id", result.JobID).Msg("Result for unknown job, dead-lettering")
		} else {
			c.logger.Error().Err(err).Str("job_id", result.JobID).Msg("Store lookup failed, dead-lettering result")
		}
		c.deadLetter(ctx, payload)
		return
	}

	c.mergeResult(job, result)

	if err := c.store.SaveJob(ctx, job); err != nil {
		c.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist result, dead-lettering")
		c.deadLetter(ctx, payload)
		return
	}

	c.broadcaster.JobUpdate(job)

	if result.IsFinalSummary {
		c.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Int("pages_crawled", result.PagesCrawled).
			Int("backlinks_found", result.BacklinksFound).
			Msg("Job finished")
	}
}

// mergeResult folds a result into the job record. Terminal statuses are
// absorbing: a final summary never resurrects a cancelled job.
func (c *Coordinator) mergeResult(job *models.Job, result *models.CrawlResult) {
	if len(result.Errors) > 0 {
		job.ErrorLog = append(job.ErrorLog, result.Errors...)
	}

	if !result.IsFinalSummary {
		job.LinksFound += len(result.LinksFound)
		if result.PagesCrawled > 0 {
			job.URLsCrawled = result.PagesCrawled
			if job.Config.MaxPages > 0 {
				job.Progress = float64(result.PagesCrawled) / float64(job.Config.MaxPages) * 100
			}
		}
		return
	}

	job.URLsCrawled = result.PagesCrawled
	job.LinksFound = result.TotalLinksFound
	job.Progress = 100

	final := result.JobStatus
	if final == "" || !final.IsTerminal() {
		final = models.JobStatusCompleted
	}
	if job.Status.CanTransitionTo(final) {
		job.Status = final
	}
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		completed := result.CrawlTimestamp
		if completed.IsZero() {
			completed = time.Now().UTC()
		}
		job.CompletedAt = &completed
	}
}

func (c *Coordinator) deadLetter(ctx context.Context, payload string) {
	if err := c.broker.Push(ctx, c.config.Queue.DeadLetterQueueName, payload); err != nil {
		c.logger.Error().Err(err).Msg("Failed to dead-letter payload")
	}
}

// sleep pauses without outliving shutdown
func (c *Coordinator) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
	case <-timer.C:
	}
}
