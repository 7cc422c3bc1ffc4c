package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aranea/internal/models"
)

func TestPromoteDueJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	past := time.Now().Add(-time.Minute)
	job.ID = "job_due"
	job.ScheduledAt = &past
	job.Status = models.JobStatusPending
	require.NoError(t, f.store.SaveJob(ctx, job))
	payload, err := job.ToJSON()
	require.NoError(t, err)
	require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.ScheduledJobsQueue, payload, float64(past.Unix())))

	require.NoError(t, f.coord.promoteDueJobs(ctx))

	setLen, _ := f.broker.ZCard(ctx, f.config.Queue.ScheduledJobsQueue)
	queueLen, _ := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	assert.Equal(t, int64(0), setLen)
	assert.Equal(t, int64(1), queueLen)

	stored, err := f.store.GetJob(ctx, "job_due")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestPromoteLeavesFutureJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	future := time.Now().Add(time.Hour)
	job.ScheduledAt = &future
	_, err := f.coord.Submit(ctx, job)
	require.NoError(t, err)

	require.NoError(t, f.coord.promoteDueJobs(ctx))

	setLen, _ := f.broker.ZCard(ctx, f.config.Queue.ScheduledJobsQueue)
	queueLen, _ := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	assert.Equal(t, int64(1), setLen)
	assert.Equal(t, int64(0), queueLen)
}

func TestPromoteOrdersByScheduledTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Insert later job first to prove ordering comes from scores
	times := []time.Time{
		time.Now().Add(-time.Minute),
		time.Now().Add(-2 * time.Minute),
	}
	ids := []string{"job_second", "job_first"}
	for i, ts := range times {
		job := validJob()
		job.ID = ids[i]
		scheduledAt := ts
		job.ScheduledAt = &scheduledAt
		job.Status = models.JobStatusPending
		require.NoError(t, f.store.SaveJob(ctx, job))
		payload, err := job.ToJSON()
		require.NoError(t, err)
		require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.ScheduledJobsQueue, payload, float64(ts.Unix())))
	}

	require.NoError(t, f.coord.promoteDueJobs(ctx))

	// Pop order follows the queue FIFO: earliest scheduled_at first
	first, err := f.broker.PopBlocking(ctx, f.config.Queue.JobQueueName, 100*time.Millisecond)
	require.NoError(t, err)
	firstJob, err := models.JobFromJSON(first)
	require.NoError(t, err)
	assert.Equal(t, "job_first", firstJob.ID)

	second, err := f.broker.PopBlocking(ctx, f.config.Queue.JobQueueName, 100*time.Millisecond)
	require.NoError(t, err)
	secondJob, err := models.JobFromJSON(second)
	require.NoError(t, err)
	assert.Equal(t, "job_second", secondJob.ID)
}

func TestSchedulerLoopPromotesEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	near := time.Now().Add(50 * time.Millisecond)
	job.ScheduledAt = &near
	jobID, err := f.coord.Submit(ctx, job)
	require.NoError(t, err)

	require.NoError(t, f.coord.Start())

	require.Eventually(t, func() bool {
		stored, err := f.store.GetJob(ctx, jobID)
		return err == nil && stored.Status == models.JobStatusQueued
	}, 2*time.Second, 20*time.Millisecond)

	setLen, _ := f.broker.ZCard(ctx, f.config.Queue.ScheduledJobsQueue)
	assert.Equal(t, int64(0), setLen)
}

func TestRefreshSatellites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := float64(time.Now().Unix())
	stale := float64(time.Now().Add(-10 * time.Minute).Unix())
	require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.HeartbeatQueueSorted, "sat_live", now))
	require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.HeartbeatQueueSorted, "sat_dead", stale))

	require.NoError(t, f.coord.refreshSatellites(ctx))

	assert.Equal(t, 1, f.coord.ActiveSatelliteCount())

	sats := f.coord.Satellites()
	require.Len(t, sats, 2)
	byID := map[string]bool{}
	for _, s := range sats {
		byID[s.ID] = s.Active
	}
	assert.True(t, byID["sat_live"])
	assert.False(t, byID["sat_dead"])
}

func TestMaintenancePrunesAndCaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.config.Queue.DeadLetterMaxLength = 3

	ancient := float64(time.Now().Add(-24 * time.Hour).Unix())
	require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.HeartbeatQueueSorted, "sat_ancient", ancient))
	require.NoError(t, f.broker.ZAdd(ctx, f.config.Queue.HeartbeatQueueSorted, "sat_live", float64(time.Now().Unix())))

	for i := 0; i < 6; i++ {
		require.NoError(t, f.broker.Push(ctx, f.config.Queue.DeadLetterQueueName, "payload"))
	}

	f.coord.runMaintenance(ctx)

	hb, err := f.broker.ZRangeByScore(ctx, f.config.Queue.HeartbeatQueueSorted, 0, maxScore)
	require.NoError(t, err)
	require.Len(t, hb, 1)
	assert.Equal(t, "sat_live", hb[0].Member)

	deadLen, err := f.broker.ListLen(ctx, f.config.Queue.DeadLetterQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deadLen)
}
