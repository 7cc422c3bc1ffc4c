package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aranea/internal/broker"
	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/models"
	"github.com/ternarybob/aranea/internal/store"
)

type coordFixture struct {
	coord  *Coordinator
	broker *broker.Memory
	store  *store.Memory
	config *common.Config
}

func newFixture(t *testing.T) *coordFixture {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Queue.SchedulerInterval = common.Duration(20 * time.Millisecond)
	config.Queue.PopTimeout = common.Duration(50 * time.Millisecond)

	b := broker.NewMemory()
	s := store.NewMemory()
	c := New(b, s, interfaces.NopBroadcaster{}, config, common.GetLogger())
	t.Cleanup(c.Stop)

	return &coordFixture{coord: c, broker: b, store: s, config: config}
}

func validJob() *models.Job {
	return &models.Job{
		TargetURL: "http://t.example/",
		SeedURLs:  []string{"http://s.example/a"},
		Config: models.CrawlConfig{
			MaxPages: 10,
			MaxDepth: 2,
		},
	}
}

func TestSubmitQueuesImmediateJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	stored, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)

	length, err := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.Job)
	}{
		{"empty seed urls", func(j *models.Job) { j.SeedURLs = nil }},
		{"zero max pages", func(j *models.Job) { j.Config.MaxPages = 0 }},
		{"bad target url", func(j *models.Job) { j.TargetURL = "not a url" }},
		{"bad seed url", func(j *models.Job) { j.SeedURLs = []string{"::::"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := validJob()
			tt.mutate(job)
			_, err := f.coord.Submit(ctx, job)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}

	// Nothing reached the queue
	length, err := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestSubmitScheduledJobLandsInSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	future := time.Now().Add(time.Hour)
	job.ScheduledAt = &future

	jobID, err := f.coord.Submit(ctx, job)
	require.NoError(t, err)

	stored, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, stored.Status)

	scheduled, err := f.broker.ZCard(ctx, f.config.Queue.ScheduledJobsQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scheduled)

	queued, err := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), queued)
}

func TestSubmitPastScheduleQueuesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	past := time.Now().Add(-time.Hour)
	job.ScheduledAt = &past

	jobID, err := f.coord.Submit(ctx, job)
	require.NoError(t, err)

	stored, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestStatusReconcilesWithBroker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := validJob()
	future := time.Now().Add(time.Hour)
	job.ScheduledAt = &future
	jobID, err := f.coord.Submit(ctx, job)
	require.NoError(t, err)

	// Store says pending, scheduled set agrees
	got, err := f.coord.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	// Store claims in_progress but the entry is still queued: queue wins
	quick := validJob()
	quickID, err := f.coord.Submit(ctx, quick)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, quickID, models.JobStatusInProgress))

	got, err = f.coord.Status(ctx, quickID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Status(context.Background(), "job_missing")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestCancelRemovesQueueEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	queuedID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	scheduledJob := validJob()
	future := time.Now().Add(time.Hour)
	scheduledJob.ScheduledAt = &future
	scheduledID, err := f.coord.Submit(ctx, scheduledJob)
	require.NoError(t, err)

	ok, err := f.coord.Cancel(ctx, queuedID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.coord.Cancel(ctx, scheduledID)
	require.NoError(t, err)
	assert.True(t, ok)

	queueLen, _ := f.broker.ListLen(ctx, f.config.Queue.JobQueueName)
	setLen, _ := f.broker.ZCard(ctx, f.config.Queue.ScheduledJobsQueue)
	assert.Equal(t, int64(0), queueLen)
	assert.Equal(t, int64(0), setLen)

	for _, id := range []string{queuedID, scheduledID} {
		stored, err := f.store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCancelled, stored.Status)
		assert.NotNil(t, stored.CompletedAt)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	ok, err := f.coord.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second cancel on the now-terminal job is a no-op returning true
	ok, err = f.coord.Cancel(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelUnknownJobReturnsFalse(t *testing.T) {
	f := newFixture(t)
	ok, err := f.coord.Cancel(context.Background(), "job_missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelPublishesControlMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.broker.Subscribe(ctx, f.config.Queue.ControlChannelPrefix+":all")
	require.NoError(t, err)
	defer sub.Close()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	ok, err := f.coord.Cancel(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case payload := <-sub.Messages():
		msg, err := models.ControlMessageFromJSON(payload)
		require.NoError(t, err)
		assert.Equal(t, models.CommandCancelJob, msg.Command)
		assert.Equal(t, jobID, msg.JobID())
	case <-time.After(time.Second):
		t.Fatal("no control message received")
	}
}

func TestPauseResumeProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.coord.PauseProcessing(ctx))
	paused, err := f.broker.GetFlag(ctx, f.config.Queue.PausedFlagKey)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, f.coord.ResumeProcessing(ctx))
	paused, err = f.broker.GetFlag(ctx, f.config.Queue.PausedFlagKey)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestHealthStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	scheduledJob := validJob()
	future := time.Now().Add(time.Hour)
	scheduledJob.ScheduledAt = &future
	_, err = f.coord.Submit(ctx, scheduledJob)
	require.NoError(t, err)

	require.NoError(t, f.coord.PauseProcessing(ctx))

	stats, err := f.coord.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingJobs)
	assert.Equal(t, int64(1), stats.ScheduledJobs)
	assert.Equal(t, int64(0), stats.ResultBacklog)
	assert.True(t, stats.ProcessingPaused)
}
