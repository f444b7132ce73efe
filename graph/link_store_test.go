package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	internaltesting "github.com/basilisk-ti/basilisk/internal/testing"
)

func newTestLinkStore(t *testing.T) *LinkStore {
	t.Helper()
	return NewLinkStore(internaltesting.CreateTestDB(t), zap.NewNop().Sugar())
}

func TestNodeRefString(t *testing.T) {
	assert.Equal(t, "observable:obs-1", ObservableRef("obs-1").String())
	assert.Equal(t, "entity:ent-1", EntityRef("ent-1").String())
}

func TestLinkStoreUpsertEdgeCleanOld(t *testing.T) {
	store := newTestLinkStore(t)
	ctx := context.Background()

	src := ObservableRef("obs-1")
	dst := ObservableRef("obs-2")

	first, err := store.UpsertEdge(ctx, src, dst, "cert_sha1", "", UpsertOptions{CleanOld: true})
	require.NoError(t, err)

	second, err := store.UpsertEdge(ctx, src, dst, "cert_sha1", "", UpsertOptions{CleanOld: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Only the latest edge survives the clean.
	edges, err := store.ListEdges(ctx, src, "cert_sha1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, second.ID, edges[0].ID)

	// Without CleanOld, duplicates accumulate.
	_, err = store.UpsertEdge(ctx, src, dst, "cert_sha1", "", UpsertOptions{})
	require.NoError(t, err)
	edges, err = store.ListEdges(ctx, src, "cert_sha1")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestLinkStoreUpsertTagEdge(t *testing.T) {
	store := newTestLinkStore(t)
	ctx := context.Background()

	src := ObservableRef("obs-1")
	dst := EntityRef("ent-1")
	t0 := time.Now().UTC().Truncate(time.Second)

	edge, err := store.UpsertTagEdge(ctx, src, dst, "tags", t0)
	require.NoError(t, err)
	assert.Equal(t, RelTagged, edge.Type)
	assert.Equal(t, t0, edge.FirstSeen.UTC())
	assert.Equal(t, t0, edge.LastSeen.UTC())
	assert.True(t, edge.Fresh)

	// Re-upsert advances last_seen but preserves first_seen, and exactly one
	// edge remains.
	t1 := t0.Add(time.Hour)
	edge, err = store.UpsertTagEdge(ctx, src, dst, "tags", t1)
	require.NoError(t, err)
	assert.Equal(t, t0, edge.FirstSeen.UTC())
	assert.Equal(t, t1, edge.LastSeen.UTC())

	stored, err := store.GetTagEdge(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, t0, stored.FirstSeen.UTC())
	assert.Equal(t, t1, stored.LastSeen.UTC())

	edges, err := store.ListEdges(ctx, src, RelTagged)
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	_, err = store.GetTagEdge(ctx, src, EntityRef("ent-2"))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestLinkStoreListNeighbors(t *testing.T) {
	store := newTestLinkStore(t)
	ctx := context.Background()

	obs := ObservableRef("obs-1")
	entity := EntityRef("ent-1")
	cert := ObservableRef("obs-cert")

	_, err := store.UpsertTagEdge(ctx, obs, entity, "tags", time.Now().UTC())
	require.NoError(t, err)
	_, err = store.LinkTo(ctx, cert, obs, "cert_sha1", "extracted fingerprint")
	require.NoError(t, err)

	// Both the outgoing Tagged edge and the incoming cert edge show up.
	neighbors, err := store.ListNeighbors(ctx, obs)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)

	types := []string{neighbors[0].Type, neighbors[1].Type}
	assert.ElementsMatch(t, []string{RelTagged, "cert_sha1"}, types)

	neighbors, err = store.ListNeighbors(ctx, EntityRef("ent-unlinked"))
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
