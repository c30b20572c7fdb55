// Package storage defines the persistence boundary for pixel snapshots.
// A snapshot is the last state a session confirmed for a pixel; warming the
// cache from it paints the canvas instantly while live chunk fetches catch
// up.
package storage

import "context"

// PixelSnapshot is one persisted pixel state.
type PixelSnapshot struct {
	X         int
	Y         int
	Owner     string
	Color     string
	UpdatedAt int64 // unix milliseconds
}

// PixelSnapshotStore persists confirmed pixel state across sessions.
type PixelSnapshotStore interface {
	// Upsert writes one snapshot, replacing any previous state for the
	// coordinate.
	Upsert(ctx context.Context, s *PixelSnapshot) error

	// UpsertBulk writes several snapshots in one round trip.
	UpsertBulk(ctx context.Context, snapshots []*PixelSnapshot) error

	// GetByPoint retrieves the snapshot for a coordinate. Returns
	// ErrNotFound if none exists.
	GetByPoint(ctx context.Context, x, y int) (*PixelSnapshot, error)

	// LoadAll returns every persisted snapshot.
	LoadAll(ctx context.Context) ([]*PixelSnapshot, error)

	// Delete removes the snapshot for a coordinate, if any. Used when a
	// fetch finds the pixel unminted after all.
	Delete(ctx context.Context, x, y int) error
}
