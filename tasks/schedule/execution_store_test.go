package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basilisk-ti/basilisk/errors"
	internaltesting "github.com/basilisk-ti/basilisk/internal/testing"
)

func TestExecutionStoreLifecycle(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	execs := NewExecutionStore(db)

	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, nil)
	require.NoError(t, store.CreateJob(job))

	started := time.Now().UTC().Truncate(time.Second)
	exec := &Execution{
		ID:             uuid.NewString(),
		ScheduledJobID: job.ID,
		Status:         ExecutionStatusRunning,
		StartedAt:      started,
		CreatedAt:      started,
		UpdatedAt:      started,
	}
	require.NoError(t, execs.CreateExecution(exec))

	got, err := execs.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.AsyncJobID)

	completed := started.Add(2 * time.Second)
	durationMs := 2000
	asyncJobID := uuid.NewString()
	summary := "created async job"
	exec.Status = ExecutionStatusCompleted
	exec.CompletedAt = &completed
	exec.DurationMs = &durationMs
	exec.AsyncJobID = &asyncJobID
	exec.ResultSummary = &summary
	exec.UpdatedAt = completed
	require.NoError(t, execs.UpdateExecution(exec))

	got, err = execs.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	require.NotNil(t, got.DurationMs)
	assert.Equal(t, 2000, *got.DurationMs)
	require.NotNil(t, got.AsyncJobID)
	assert.Equal(t, asyncJobID, *got.AsyncJobID)

	_, err = execs.GetExecution("no-such-execution")
	assert.True(t, errors.IsNotFoundError(err))

	missing := &Execution{ID: "no-such-execution", Status: ExecutionStatusFailed}
	assert.True(t, errors.IsNotFoundError(execs.UpdateExecution(missing)))
}

func TestExecutionStoreListByJob(t *testing.T) {
	db := internaltesting.CreateTestDB(t)
	store := NewStore(db)
	execs := NewExecutionStore(db)

	job := scheduledJob("feed.feodotracker", "feodotracker", time.Hour, nil)
	require.NoError(t, store.CreateJob(job))

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		started := base.Add(time.Duration(i) * time.Minute)
		exec := &Execution{
			ID:             uuid.NewString(),
			ScheduledJobID: job.ID,
			Status:         ExecutionStatusCompleted,
			StartedAt:      started,
			CreatedAt:      started,
			UpdatedAt:      started,
		}
		require.NoError(t, execs.CreateExecution(exec))
	}

	list, err := execs.ListExecutionsByJob(job.ID, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// Newest first.
	assert.True(t, list[0].StartedAt.After(list[1].StartedAt))

	list, err = execs.ListExecutionsByJob("no-such-job", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
