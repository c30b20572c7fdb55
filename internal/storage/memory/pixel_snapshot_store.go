// Package memory provides in-memory storage implementations for tests and
// runs without a database.
package memory

import (
	"context"
	"sync"

	"pixel-canvas/internal/storage"
)

type pointKey struct {
	x, y int
}

// PixelSnapshotStore is an in-memory implementation of
// storage.PixelSnapshotStore.
type PixelSnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[pointKey]*storage.PixelSnapshot
}

// NewPixelSnapshotStore creates an empty in-memory snapshot store.
func NewPixelSnapshotStore() *PixelSnapshotStore {
	return &PixelSnapshotStore{snapshots: make(map[pointKey]*storage.PixelSnapshot)}
}

// Upsert writes one snapshot.
func (s *PixelSnapshotStore) Upsert(_ context.Context, snap *storage.PixelSnapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snapshots[pointKey{snap.X, snap.Y}] = &cp
	return nil
}

// UpsertBulk writes several snapshots.
func (s *PixelSnapshotStore) UpsertBulk(_ context.Context, snapshots []*storage.PixelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		cp := *snap
		s.snapshots[pointKey{snap.X, snap.Y}] = &cp
	}
	return nil
}

// GetByPoint retrieves the snapshot for a coordinate.
func (s *PixelSnapshotStore) GetByPoint(_ context.Context, x, y int) (*storage.PixelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[pointKey{x, y}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// LoadAll returns every snapshot.
func (s *PixelSnapshotStore) LoadAll(_ context.Context) ([]*storage.PixelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.PixelSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		cp := *snap
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes the snapshot for a coordinate.
func (s *PixelSnapshotStore) Delete(_ context.Context, x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, pointKey{x, y})
	return nil
}
