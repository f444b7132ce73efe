package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	handler := &countingHandler{name: "feed.test"}

	assert.False(t, registry.Has("feed.test"))
	registry.Register(handler)
	assert.True(t, registry.Has("feed.test"))
	assert.Equal(t, handler, registry.Get("feed.test"))
	assert.Nil(t, registry.Get("feed.unknown"))
	assert.Equal(t, []string{"feed.test"}, registry.Names())

	assert.Panics(t, func() { registry.Register(handler) }, "duplicate registration panics")
}

func TestRegistryExecutor(t *testing.T) {
	registry := NewHandlerRegistry()
	handler := &countingHandler{name: "feed.test"}
	registry.Register(handler)

	executor := NewRegistryExecutor(registry)
	ctx := context.Background()

	job := mustNewJob(t, "feed.test", "src")
	require.NoError(t, executor.Execute(ctx, job))
	assert.Equal(t, int32(1), handler.executed.Load())

	// Unregistered handler name errors.
	unknown := mustNewJob(t, "feed.unknown", "src")
	assert.Error(t, executor.Execute(ctx, unknown))

	// Missing handler name errors.
	job.HandlerName = ""
	assert.Error(t, executor.Execute(ctx, job))
}
