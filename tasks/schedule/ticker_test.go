package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internaltesting "github.com/basilisk-ti/basilisk/internal/testing"
	"github.com/basilisk-ti/basilisk/tasks/async"
)

func TestTickerFiresDueJob(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	queue := async.NewQueue(db)

	due := time.Now().UTC().Add(-time.Second)
	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &due)
	job.Payload = []byte(`{"limit":100}`)
	require.NoError(t, store.CreateJob(job))

	ticker := NewTicker(store, queue, TickerConfig{Interval: 20 * time.Millisecond}, zap.NewNop().Sugar())
	require.NoError(t, ticker.checkScheduledJobs(time.Now().UTC()))

	// An async job was enqueued for the handler.
	queued, err := queue.ListJobs(nil, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "feed.feodotracker", queued[0].HandlerName)
	assert.Equal(t, "feodotracker", queued[0].Source)
	assert.JSONEq(t, `{"limit":100}`, string(queued[0].Payload))

	// The schedule advanced past now.
	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
	require.NotNil(t, got.LastRunAt)
	assert.NotEmpty(t, got.LastExecutionID)

	// An execution record was written and completed.
	execs, err := NewExecutionStore(db).ListExecutionsByJob(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusCompleted, execs[0].Status)
	require.NotNil(t, execs[0].AsyncJobID)
	assert.Equal(t, queued[0].ID, *execs[0].AsyncJobID)
}

func TestTickerDeduplicatesActiveJobs(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	queue := async.NewQueue(db)

	due := time.Now().UTC().Add(-time.Second)
	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &due)
	require.NoError(t, store.CreateJob(job))

	// An active async job for the same source/handler already exists.
	existing, err := async.NewJob("feed.feodotracker", "feodotracker", nil, 0)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(existing))

	ticker := NewTicker(store, queue, DefaultTickerConfig(), zap.NewNop().Sugar())
	require.NoError(t, ticker.checkScheduledJobs(time.Now().UTC()))

	// No duplicate was enqueued; the execution points at the existing job.
	jobs, err := queue.ListJobs(nil, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	execs, err := NewExecutionStore(db).ListExecutionsByJob(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.NotNil(t, execs[0].AsyncJobID)
	assert.Equal(t, existing.ID, *execs[0].AsyncJobID)
}

func TestTickerRecordsEnqueueFailure(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	queue := async.NewQueue(db)

	due := time.Now().UTC().Add(-time.Second)
	job := scheduledJob("", "broken", time.Hour, &due)
	job.HandlerName = ""
	require.NoError(t, store.CreateJob(job))

	ticker := NewTicker(store, queue, DefaultTickerConfig(), zap.NewNop().Sugar())
	require.NoError(t, ticker.checkScheduledJobs(time.Now().UTC()))

	// The failure lands on the execution record, and the schedule does not
	// advance, so the job stays due.
	execs, err := NewExecutionStore(db).ListExecutionsByJob(job.ID, 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, ExecutionStatusFailed, execs[0].Status)
	require.NotNil(t, execs[0].ErrorMessage)
	assert.Contains(t, *execs[0].ErrorMessage, "missing handler_name")

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Before(time.Now().UTC()))
}

func TestTickerStartStop(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	queue := async.NewQueue(db)

	due := time.Now().UTC().Add(-time.Second)
	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &due)
	require.NoError(t, store.CreateJob(job))

	ticker := NewTicker(store, queue, TickerConfig{Interval: 20 * time.Millisecond}, zap.NewNop().Sugar())
	ticker.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := queue.ListJobs(nil, 10)
		require.NoError(t, err)
		if len(jobs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ticker.Stop()

	jobs, err := queue.ListJobs(nil, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	stats := ticker.GetStats()
	assert.GreaterOrEqual(t, stats["ticks_since_start"].(int64), int64(1))
}
