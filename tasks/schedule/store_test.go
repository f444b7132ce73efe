package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basilisk-ti/basilisk/errors"
	internaltesting "github.com/basilisk-ti/basilisk/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(internaltesting.CreateTestDB(t))
}

func scheduledJob(handler, source string, interval time.Duration, nextRun *time.Time) *Job {
	return &Job{
		ID:              uuid.NewString(),
		HandlerName:     handler,
		Source:          source,
		IntervalSeconds: int(interval.Seconds()),
		NextRunAt:       nextRun,
		State:           StateActive,
	}
}

func TestScheduleStoreCreateGet(t *testing.T) {
	store := newTestStore(t)

	nextRun := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &nextRun)
	job.Payload = []byte(`{"limit":100}`)
	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "feed.feodotracker", got.HandlerName)
	assert.Equal(t, "feodotracker", got.Source)
	assert.Equal(t, time.Hour, got.Interval())
	assert.JSONEq(t, `{"limit":100}`, string(got.Payload))
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(nextRun))
	assert.Nil(t, got.LastRunAt)

	_, err = store.GetJob("no-such-job")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestScheduleStoreFindBySourceAndHandler(t *testing.T) {
	store := newTestStore(t)

	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, nil)
	require.NoError(t, store.CreateJob(job))

	got, err := store.FindJobBySourceAndHandler("feodotracker", "feed.feodotracker")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)

	// Soft-deleted jobs are invisible to the finder.
	require.NoError(t, store.UpdateJobState(job.ID, StateDeleted))
	got, err = store.FindJobBySourceAndHandler("feodotracker", "feed.feodotracker")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindJobBySourceAndHandler("sslblacklist", "feed.sslblacklist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScheduleStoreListJobsDue(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &past)
	notYet := scheduledJob("feed.sslblacklist", "sslblacklist", time.Hour, &future)
	unscheduled := scheduledJob("feed.manual", "manual", time.Hour, nil)
	paused := scheduledJob("feed.paused", "paused", time.Hour, &past)
	paused.State = StatePaused

	for _, job := range []*Job{due, notYet, unscheduled, paused} {
		require.NoError(t, store.CreateJob(job))
	}

	jobs, err := store.ListJobsDue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
}

func TestScheduleStoreUpdateAfterExecution(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &now)
	require.NoError(t, store.CreateJob(job))

	nextRun := now.Add(time.Hour)
	require.NoError(t, store.UpdateJobAfterExecution(job.ID, now, "exec-1", nextRun))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(now))
	assert.Equal(t, "exec-1", got.LastExecutionID)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(nextRun))

	err = store.UpdateJobAfterExecution("no-such-job", now, "exec-2", nextRun)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestScheduleStoreGetNextScheduledJob(t *testing.T) {
	store := newTestStore(t)

	next, err := store.GetNextScheduledJob()
	require.NoError(t, err)
	assert.Nil(t, next)

	soon := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	later := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	second := scheduledJob("feed.sslblacklist", "sslblacklist", time.Hour, &later)
	first := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, &soon)
	require.NoError(t, store.CreateJob(second))
	require.NoError(t, store.CreateJob(first))

	next, err = store.GetNextScheduledJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)
}

func TestScheduleStoreStateAndInterval(t *testing.T) {
	store := newTestStore(t)

	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, nil)
	require.NoError(t, store.CreateJob(job))

	require.NoError(t, store.UpdateJobState(job.ID, StatePaused))
	require.NoError(t, store.UpdateJobInterval(job.ID, 120))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, got.State)
	assert.Equal(t, 2*time.Minute, got.Interval())

	assert.True(t, errors.IsNotFoundError(store.UpdateJobState("missing", StateActive)))
	assert.True(t, errors.IsNotFoundError(store.UpdateJobInterval("missing", 60)))
}

func TestScheduleStoreListAllJobsExcludesDeleted(t *testing.T) {
	store := newTestStore(t)

	keep := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, nil)
	gone := scheduledJob("feed.sslblacklist", "sslblacklist", time.Hour, nil)
	require.NoError(t, store.CreateJob(keep))
	require.NoError(t, store.CreateJob(gone))
	require.NoError(t, store.UpdateJobState(gone.ID, StateDeleted))

	jobs, err := store.ListAllJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, keep.ID, jobs[0].ID)
}
