package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/kb"
	internaltesting "github.com/basilisk-ti/basilisk/internal/testing"
)

func newTestTagStore(t *testing.T) *TagStore {
	t.Helper()
	return NewTagStore(internaltesting.CreateTestDB(t), zap.NewNop().Sugar())
}

func TestTagStoreGetOrCreate(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	tag, err := store.GetOrCreate(ctx, "  C2 ")
	require.NoError(t, err)
	assert.Equal(t, "c2", tag.Name, "name is normalized before storage")
	assert.Empty(t, tag.Replaces)
	assert.Empty(t, tag.Produces)
	assert.Nil(t, tag.DefaultExpiration)

	again, err := store.GetOrCreate(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, tag.Created.UTC(), again.Created.UTC(), "second create returns the existing row")

	_, err = store.GetOrCreate(ctx, "   ")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestTagStoreAliasResolution(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	canonical, err := store.GetOrCreate(ctx, "emotet")
	require.NoError(t, err)
	canonical.Replaces = []string{"heodo", "geodo"}
	require.NoError(t, store.Update(ctx, canonical))

	// Creating through a deprecated name yields the canonical tag.
	resolved, err := store.GetOrCreate(ctx, "Heodo")
	require.NoError(t, err)
	assert.Equal(t, "emotet", resolved.Name)

	resolved, err = store.ResolveCanonical(ctx, "geodo")
	require.NoError(t, err)
	assert.Equal(t, "emotet", resolved.Name)

	// ResolveCanonical never creates.
	_, err = store.ResolveCanonical(ctx, "unknown-tag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, kb.ErrUnknownTag))
	assert.True(t, errors.IsNotFoundError(err))
	_, err = store.Get(ctx, "unknown-tag")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTagStoreUpdate(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	tag, err := store.GetOrCreate(ctx, "blocklist")
	require.NoError(t, err)

	week := 7 * 24 * time.Hour
	tag.Produces = []string{"Malicious "}
	tag.DefaultExpiration = &week
	require.NoError(t, store.Update(ctx, tag))

	got, err := store.Get(ctx, "blocklist")
	require.NoError(t, err)
	assert.Equal(t, []string{"malicious"}, got.Produces, "produces entries are normalized")
	require.NotNil(t, got.DefaultExpiration)
	assert.Equal(t, week, *got.DefaultExpiration)

	missing := &kb.Tag{Name: "never-created"}
	err = store.Update(ctx, missing)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTagStoreIncrementUsage(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "c2")
	require.NoError(t, err)

	store.IncrementUsage(ctx, "c2")
	store.IncrementUsage(ctx, "c2")
	store.IncrementUsage(ctx, "no-such-tag") // swallowed

	tag, err := store.Get(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tag.Count)
}

func TestTagStoreMerge(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	from, err := store.GetOrCreate(ctx, "zeus")
	require.NoError(t, err)
	from.Replaces = []string{"zbot"}
	from.Produces = []string{"banker"}
	require.NoError(t, store.Update(ctx, from))
	store.IncrementUsage(ctx, "zeus")

	_, err = store.GetOrCreate(ctx, "zloader")
	require.NoError(t, err)

	require.NoError(t, store.Merge(ctx, "zeus", "zloader"))

	// The source row is gone and the target absorbed its sets and count.
	_, err = store.Get(ctx, "zeus")
	assert.True(t, errors.IsNotFoundError(err))

	into, err := store.Get(ctx, "zloader")
	require.NoError(t, err)
	assert.Contains(t, into.Replaces, "zeus")
	assert.Contains(t, into.Replaces, "zbot")
	assert.Contains(t, into.Produces, "banker")
	assert.Equal(t, int64(1), into.Count)

	// The merged name now resolves as an alias.
	resolved, err := store.ResolveCanonical(ctx, "zeus")
	require.NoError(t, err)
	assert.Equal(t, "zloader", resolved.Name)

	assert.Error(t, store.Merge(ctx, "zloader", "zloader"), "self-merge is rejected")
}

func TestTagStoreList(t *testing.T) {
	store := newTestTagStore(t)
	ctx := context.Background()

	for _, name := range []string{"c2", "blocklist", "emotet"} {
		_, err := store.GetOrCreate(ctx, name)
		require.NoError(t, err)
	}

	tags, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 3)
	assert.Equal(t, "blocklist", tags[0].Name)
	assert.Equal(t, "c2", tags[1].Name)
	assert.Equal(t, "emotet", tags[2].Name)
}
