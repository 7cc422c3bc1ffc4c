package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/aranea/internal/models"
)

func pushResult(t *testing.T, f *coordFixture, result *models.CrawlResult) {
	t.Helper()
	payload, err := result.ToJSON()
	require.NoError(t, err)
	f.coord.ingestResult(context.Background(), payload)
}

func TestIngestIntermediateResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	pushResult(t, f, &models.CrawlResult{
		JobID:      jobID,
		URL:        "http://s.example/a",
		StatusCode: 200,
		LinksFound: []models.Link{
			{ID: "link_1", SourceURL: "http://s.example/a", TargetURL: "http://t.example/x"},
		},
		PagesCrawled:   1,
		CrawlTimestamp: time.Now(),
	})

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.LinksFound)
	assert.Equal(t, 1, job.URLsCrawled)
	assert.False(t, job.Status.IsTerminal())
	assert.InDelta(t, 10.0, job.Progress, 0.01) // 1 of max_pages=10
}

func TestIngestFinalSummaryCompletesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, jobID, models.JobStatusInProgress))

	pushResult(t, f, &models.CrawlResult{
		JobID:           jobID,
		StatusCode:      200,
		IsFinalSummary:  true,
		PagesCrawled:    5,
		TotalLinksFound: 12,
		JobStatus:       models.JobStatusCompleted,
		CrawlTimestamp:  time.Now(),
	})

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 5, job.URLsCrawled)
	assert.Equal(t, 12, job.LinksFound)
	assert.Equal(t, 100.0, job.Progress)
	assert.NotNil(t, job.CompletedAt)
}

func TestIngestFinalSummaryDoesNotResurrectCancelledJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)
	ok, err := f.coord.Cancel(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)

	pushResult(t, f, &models.CrawlResult{
		JobID:          jobID,
		StatusCode:     200,
		IsFinalSummary: true,
		PagesCrawled:   3,
		JobStatus:      models.JobStatusCompleted,
		CrawlTimestamp: time.Now(),
	})

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestIngestUnknownJobDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := &models.CrawlResult{JobID: "job_ghost", StatusCode: 200, CrawlTimestamp: time.Now()}
	payload, err := result.ToJSON()
	require.NoError(t, err)
	f.coord.ingestResult(ctx, payload)

	dead, err := f.broker.ListRange(ctx, f.config.Queue.DeadLetterQueueName, 0, -1)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, payload, dead[0])
}

func TestIngestMalformedPayloadDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.coord.ingestResult(ctx, "{not json")
	f.coord.ingestResult(ctx, `{"url": "http://x.example/"}`) // Missing job_id

	dead, err := f.broker.ListLen(ctx, f.config.Queue.DeadLetterQueueName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dead)
}

func TestIngestErrorsAppendToJobLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	pushResult(t, f, &models.CrawlResult{
		JobID:      jobID,
		URL:        "http://s.example/bad",
		StatusCode: 0,
		Errors: []models.CrawlError{
			{Timestamp: time.Now(), URL: "http://s.example/bad", Type: models.ErrorTypeTransport, Message: "connection refused"},
		},
		CrawlTimestamp: time.Now(),
	})

	job, err := f.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, job.ErrorLog, 1)
	assert.Equal(t, models.ErrorTypeTransport, job.ErrorLog[0].Type)
}

func TestIngestLoopDrainsResultQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID, err := f.coord.Submit(ctx, validJob())
	require.NoError(t, err)

	result := &models.CrawlResult{
		JobID:          jobID,
		StatusCode:     200,
		LinksFound:     []models.Link{{ID: "link_1", TargetURL: "http://t.example/"}},
		CrawlTimestamp: time.Now(),
	}
	payload, err := result.ToJSON()
	require.NoError(t, err)
	require.NoError(t, f.broker.Push(ctx, f.config.Queue.ResultQueueName, payload))

	require.NoError(t, f.coord.Start())

	require.Eventually(t, func() bool {
		job, err := f.store.GetJob(ctx, jobID)
		return err == nil && job.LinksFound == 1
	}, 2*time.Second, 20*time.Millisecond)
}
