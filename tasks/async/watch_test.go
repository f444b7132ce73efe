package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/basilisk-ti/basilisk/errors"
)

func TestWatchJobsLogsTransitions(t *testing.T) {
	q := newTestQueue(t)
	core, logs := observer.New(zap.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	WatchJobs(ctx, q, zap.New(core).Sugar())

	job := mustNewJob(t, "feed.feodotracker", "src")
	require.NoError(t, q.Enqueue(job))

	_, err := q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.FailJob(job.ID, errors.New("fetch timed out")))

	waitFor(t, 2*time.Second, func() bool {
		return logs.FilterMessageSnippet("Job failed").Len() == 1
	})

	entry := logs.FilterMessageSnippet("Job failed").All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, job.ID, fields["job_id"])
	assert.Equal(t, "feed.feodotracker", fields["handler"])
	assert.Equal(t, "fetch timed out", fields["error"])

	// The queued and running transitions arrived at debug.
	waitFor(t, 2*time.Second, func() bool {
		return logs.FilterMessageSnippet("Job update").Len() == 2
	})
}

func TestWatchJobsCompletionCarriesDuration(t *testing.T) {
	q := newTestQueue(t)
	core, logs := observer.New(zap.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	WatchJobs(ctx, q, zap.New(core).Sugar())

	job := mustNewJob(t, "feed.sslblacklist", "src")
	require.NoError(t, q.Enqueue(job))

	_, err := q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.CompleteJob(job.ID))

	waitFor(t, 2*time.Second, func() bool {
		return logs.FilterMessageSnippet("Job completed").Len() == 1
	})

	entry := logs.FilterMessageSnippet("Job completed").All()[0]
	_, ok := entry.ContextMap()["duration"]
	assert.True(t, ok)
}
