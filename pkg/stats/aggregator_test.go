package stats

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanvault/pkg/logger"
	"fanvault/pkg/models"
	"fanvault/pkg/statusstore"
	"fanvault/pkg/statusstore/sqlite"
)

func newTestStore(t *testing.T) statusstore.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store statusstore.Store, id, creator string, status models.Phase2Status) {
	t.Helper()
	_, err := store.Upsert(context.Background(), id, statusstore.Patch{
		CreatorID:    statusstore.Ptr(creator),
		Phase2Status: statusstore.Ptr(status),
	})
	require.NoError(t, err)
}

func TestRecomputeBuckets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed(t, store, "a", "c1", models.Phase2Completed)
	seed(t, store, "b", "c1", models.Phase2Completed)
	seed(t, store, "c", "c1", models.Phase2Failed)
	seed(t, store, "d", "c1", models.Phase2Abandoned)
	seed(t, store, "e", "c1", models.Phase2Pending)
	seed(t, store, "f", "c1", models.Phase2Processing)
	seed(t, store, "other", "c2", models.Phase2Completed)

	got, err := New(store).Recompute(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", got.CreatorID)
	assert.Equal(t, 6, got.Total)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, 2, got.Failed) // failed + abandoned
	assert.Equal(t, 2, got.Pending)
	assert.False(t, got.LastUpdated.IsZero())
}

func TestRecomputeExcludesDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed(t, store, "a", "c1", models.Phase2Completed)
	seed(t, store, "b", "c1", models.Phase2Completed)
	require.NoError(t, store.SoftDelete(ctx, "b"))

	got, err := New(store).Recompute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 1, got.Completed)
}

func TestRecomputeReflectsOutOfBandEdits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	agg := New(store)

	seed(t, store, "a", "c1", models.Phase2Pending)
	before, err := agg.Recompute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, before.Pending)
	assert.Equal(t, 0, before.Completed)

	// Simulate maintenance tooling flipping the status directly.
	_, err = store.Upsert(ctx, "a", statusstore.Patch{
		Phase2Status: statusstore.Ptr(models.Phase2Completed),
	})
	require.NoError(t, err)

	after, err := agg.Recompute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, after.Pending)
	assert.Equal(t, 1, after.Completed)
}

func TestRecomputeEmptyCreator(t *testing.T) {
	store := newTestStore(t)
	got, err := New(store).Recompute(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Total)
	assert.True(t, got.LastUpdated.IsZero())
}
