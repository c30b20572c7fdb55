// Package store holds the in-memory pixel cache. It is the single source of
// confirmed on-chain state for rendering: chunk fetches and contract events
// both merge into it, and eviction trims it as the viewport moves away.
package store

import (
	"sync"

	"pixel-canvas/internal/contract"
	"pixel-canvas/internal/grid"
)

// Pixel is the cached state of one coordinate. Minted false means the chunk
// containing the coordinate was fetched and the pixel has no token.
type Pixel struct {
	Point  grid.Point
	Owner  string
	Color  string
	Minted bool
}

// Store is a concurrency-safe pixel cache with per-chunk load tracking.
type Store struct {
	partitioner *grid.Partitioner

	mu     sync.RWMutex
	pixels map[grid.Point]Pixel
	loaded map[grid.ChunkKey]struct{}
}

// New creates an empty store partitioned by p.
func New(p *grid.Partitioner) *Store {
	return &Store{
		partitioner: p,
		pixels:      make(map[grid.Point]Pixel),
		loaded:      make(map[grid.ChunkKey]struct{}),
	}
}

// MergeChunk installs a fetched chunk. Every cell is written, including
// unminted ones, so a later eviction-and-refetch cannot resurrect stale
// state. The chunk is marked loaded.
func (s *Store) MergeChunk(key grid.ChunkKey, cells []contract.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cells {
		s.pixels[c.Point] = Pixel{
			Point:  c.Point,
			Owner:  c.Owner,
			Color:  c.Color,
			Minted: c.Minted,
		}
	}
	s.loaded[key] = struct{}{}
}

// ApplyEvent overwrites one pixel with confirmed event state. Events apply
// unconditionally: they are newer than any fetched chunk, and they land even
// in chunks that were never fetched.
func (s *Store) ApplyEvent(p grid.Point, owner, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pixels[p] = Pixel{Point: p, Owner: owner, Color: color, Minted: true}
}

// Warm seeds pixels from a persisted snapshot without marking any chunk
// loaded, so on-chain truth is still fetched for every viewport.
func (s *Store) Warm(pixels []Pixel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, px := range pixels {
		if _, exists := s.pixels[px.Point]; exists {
			continue
		}
		s.pixels[px.Point] = px
	}
}

// Pixel returns the cached state of one coordinate.
func (s *Store) Pixel(p grid.Point) (Pixel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	px, ok := s.pixels[p]
	return px, ok
}

// IsLoaded reports whether the chunk's data is present.
func (s *Store) IsLoaded(key grid.ChunkKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loaded[key]
	return ok
}

// LoadedChunks returns the keys of all loaded chunks.
func (s *Store) LoadedChunks() []grid.ChunkKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]grid.ChunkKey, 0, len(s.loaded))
	for k := range s.loaded {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of cached pixels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pixels)
}

// Evict drops every chunk for which keep returns false, removing its pixels
// and its loaded mark. Pixels applied by events into never-loaded chunks are
// subject to the same predicate. Returns the number of chunks evicted.
func (s *Store) Evict(keep func(grid.ChunkKey) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key := range s.loaded {
		if keep(key) {
			continue
		}
		delete(s.loaded, key)
		evicted++
	}
	for p := range s.pixels {
		if !keep(s.partitioner.ChunkOf(p)) {
			delete(s.pixels, p)
		}
	}
	return evicted
}

// Minted returns every minted pixel in the viewport rectangle.
func (s *Store) Minted(vp grid.Viewport) []Pixel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Pixel
	for y := vp.Y; y < vp.Y+vp.Size; y++ {
		for x := vp.X; x < vp.X+vp.Size; x++ {
			if px, ok := s.pixels[grid.Point{X: x, Y: y}]; ok && px.Minted {
				out = append(out, px)
			}
		}
	}
	return out
}

// All returns every minted pixel in the cache.
func (s *Store) All() []Pixel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Pixel, 0, len(s.pixels))
	for _, px := range s.pixels {
		if px.Minted {
			out = append(out, px)
		}
	}
	return out
}
