package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"pixel-canvas/internal/storage"
)

// PixelSnapshotStore is a PostgreSQL implementation of
// storage.PixelSnapshotStore backed by the pixel_snapshots table.
type PixelSnapshotStore struct {
	pool *Pool
}

// NewPixelSnapshotStore creates a new PostgreSQL pixel snapshot store.
func NewPixelSnapshotStore(pool *Pool) *PixelSnapshotStore {
	return &PixelSnapshotStore{pool: pool}
}

const upsertSnapshotSQL = `
	INSERT INTO pixel_snapshots (x, y, owner, color, updated_at_ms)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (x, y) DO UPDATE
	SET owner = EXCLUDED.owner,
	    color = EXCLUDED.color,
	    updated_at_ms = EXCLUDED.updated_at_ms
`

// Upsert writes one snapshot.
func (s *PixelSnapshotStore) Upsert(ctx context.Context, snap *storage.PixelSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx, upsertSnapshotSQL, snap.X, snap.Y, snap.Owner, snap.Color, snap.UpdatedAt)
	return err
}

// UpsertBulk writes several snapshots in a single batch round trip.
func (s *PixelSnapshotStore) UpsertBulk(ctx context.Context, snapshots []*storage.PixelSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		batch.Queue(upsertSnapshotSQL, snap.X, snap.Y, snap.Owner, snap.Color, snap.UpdatedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snapshots {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetByPoint retrieves the snapshot for a coordinate.
func (s *PixelSnapshotStore) GetByPoint(ctx context.Context, x, y int) (*storage.PixelSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT x, y, owner, color, updated_at_ms
		FROM pixel_snapshots
		WHERE x = $1 AND y = $2
	`, x, y)

	var snap storage.PixelSnapshot
	err := row.Scan(&snap.X, &snap.Y, &snap.Owner, &snap.Color, &snap.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// LoadAll returns every persisted snapshot.
func (s *PixelSnapshotStore) LoadAll(ctx context.Context) ([]*storage.PixelSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT x, y, owner, color, updated_at_ms
		FROM pixel_snapshots
		ORDER BY y, x
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*storage.PixelSnapshot
	for rows.Next() {
		var snap storage.PixelSnapshot
		if err := rows.Scan(&snap.X, &snap.Y, &snap.Owner, &snap.Color, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, &snap)
	}
	return snapshots, rows.Err()
}

// Delete removes the snapshot for a coordinate.
func (s *PixelSnapshotStore) Delete(ctx context.Context, x, y int) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM pixel_snapshots WHERE x = $1 AND y = $2
	`, x, y)
	return err
}
