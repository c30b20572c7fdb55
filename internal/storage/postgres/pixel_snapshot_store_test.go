package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-canvas/internal/storage"
)

func TestPixelSnapshotStore_UpsertAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPixelSnapshotStore(pool)
	ctx := context.Background()

	snap := &storage.PixelSnapshot{X: 3, Y: 7, Owner: "0xAlice", Color: "#ff0000", UpdatedAt: 1000}
	require.NoError(t, s.Upsert(ctx, snap))

	got, err := s.GetByPoint(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	// Upsert replaces the previous state for the coordinate.
	require.NoError(t, s.Upsert(ctx, &storage.PixelSnapshot{X: 3, Y: 7, Owner: "0xBob", Color: "#00ff00", UpdatedAt: 2000}))
	got, err = s.GetByPoint(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, "0xBob", got.Owner)
	assert.Equal(t, int64(2000), got.UpdatedAt)

	_, err = s.GetByPoint(ctx, 9, 9)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, s.Upsert(ctx, nil), storage.ErrInvalidInput)
}

func TestPixelSnapshotStore_UpsertBulkAndLoadAll(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPixelSnapshotStore(pool)
	ctx := context.Background()

	snaps := []*storage.PixelSnapshot{
		{X: 0, Y: 0, Owner: "0xA", Color: "#111111", UpdatedAt: 1},
		{X: 1, Y: 0, Owner: "0xB", Color: "#222222", UpdatedAt: 2},
		{X: 0, Y: 1, Owner: "0xC", Color: "#333333", UpdatedAt: 3},
	}
	require.NoError(t, s.UpsertBulk(ctx, snaps))

	// Bulk upserts overwrite too.
	require.NoError(t, s.UpsertBulk(ctx, []*storage.PixelSnapshot{
		{X: 0, Y: 0, Owner: "0xA", Color: "#999999", UpdatedAt: 9},
	}))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// LoadAll orders by (y, x).
	assert.Equal(t, "#999999", all[0].Color)
	assert.Equal(t, 1, all[1].X)
	assert.Equal(t, 1, all[2].Y)

	require.NoError(t, s.UpsertBulk(ctx, nil))
}

func TestPixelSnapshotStore_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewPixelSnapshotStore(pool)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &storage.PixelSnapshot{X: 5, Y: 5, Owner: "0xA", Color: "#444444"}))
	require.NoError(t, s.Delete(ctx, 5, 5))

	_, err := s.GetByPoint(ctx, 5, 5)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a missing snapshot is not an error.
	require.NoError(t, s.Delete(ctx, 5, 5))
}
