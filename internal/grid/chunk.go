package grid

import (
	"fmt"
	"math"
	"sort"
)

// ChunkKey identifies one fixed-size rectangular partition of the canvas.
type ChunkKey struct {
	X int
	Y int
}

// String renders the canonical "chunkX-chunkY" form.
func (k ChunkKey) String() string {
	return fmt.Sprintf("%d-%d", k.X, k.Y)
}

// ChebyshevDistance returns max(|dx|,|dy|) between two chunk keys. This is
// the distance the eviction radius is measured in.
func (k ChunkKey) ChebyshevDistance(o ChunkKey) int {
	dx := k.X - o.X
	if dx < 0 {
		dx = -dx
	}
	dy := k.Y - o.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// ChunkDescriptor is one chunk selected for loading, tagged with a
// distance-based priority (lower loads first).
type ChunkDescriptor struct {
	Key      ChunkKey
	StartX   int
	StartY   int
	EndX     int // exclusive, clipped to canvas bounds
	EndY     int // exclusive, clipped to canvas bounds
	Priority float64
}

// RangeKey renders the "startX-startY-endX-endY" range form of the chunk,
// used by range-based contract reads.
func (d ChunkDescriptor) RangeKey() string {
	return fmt.Sprintf("%d-%d-%d-%d", d.StartX, d.StartY, d.EndX, d.EndY)
}

// Points returns every coordinate covered by the chunk in row-major order.
// The order matters: chunk fetch results are positional.
func (d ChunkDescriptor) Points() []Point {
	pts := make([]Point, 0, (d.EndX-d.StartX)*(d.EndY-d.StartY))
	for y := d.StartY; y < d.EndY; y++ {
		for x := d.StartX; x < d.EndX; x++ {
			pts = append(pts, Point{X: x, Y: y})
		}
	}
	return pts
}

// Partitioner divides the canvas into chunkSize x chunkSize chunks and
// computes which chunks a viewport needs.
type Partitioner struct {
	codec     Codec
	chunkSize int
	buffer    int // extra margin around the viewport, in pixels
}

// NewPartitioner creates a partitioner. buffer may be zero.
func NewPartitioner(codec Codec, chunkSize, buffer int) (*Partitioner, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", chunkSize)
	}
	if buffer < 0 {
		return nil, fmt.Errorf("invalid buffer %d", buffer)
	}
	return &Partitioner{codec: codec, chunkSize: chunkSize, buffer: buffer}, nil
}

// ChunkSize returns the configured chunk edge length.
func (p *Partitioner) ChunkSize() int { return p.chunkSize }

// ChunkOf returns the key of the chunk containing the point.
func (p *Partitioner) ChunkOf(pt Point) ChunkKey {
	return ChunkKey{X: pt.X / p.chunkSize, Y: pt.Y / p.chunkSize}
}

// chunksAcross returns chunk-grid dimensions, rounding up for partial chunks.
func (p *Partitioner) chunksAcross() (int, int) {
	w := (p.codec.Width() + p.chunkSize - 1) / p.chunkSize
	h := (p.codec.Height() + p.chunkSize - 1) / p.chunkSize
	return w, h
}

// Describe builds the descriptor for a chunk key, clipping its rectangle to
// canvas bounds.
func (p *Partitioner) Describe(key ChunkKey) ChunkDescriptor {
	startX := key.X * p.chunkSize
	startY := key.Y * p.chunkSize
	endX := startX + p.chunkSize
	endY := startY + p.chunkSize
	if endX > p.codec.Width() {
		endX = p.codec.Width()
	}
	if endY > p.codec.Height() {
		endY = p.codec.Height()
	}
	return ChunkDescriptor{Key: key, StartX: startX, StartY: startY, EndX: endX, EndY: endY}
}

// Required returns the chunks intersecting the buffered viewport, clipped to
// canvas bounds, ordered nearest-first by Euclidean distance from chunk
// center to viewport center. Output is deterministic for identical inputs:
// equal priorities tie-break on (chunkY, chunkX).
func (p *Partitioner) Required(vp Viewport) []ChunkDescriptor {
	minX := vp.X - p.buffer
	minY := vp.Y - p.buffer
	maxX := vp.X + vp.Size + p.buffer // exclusive
	maxY := vp.Y + vp.Size + p.buffer

	startChunkX := floorDiv(minX, p.chunkSize)
	startChunkY := floorDiv(minY, p.chunkSize)
	endChunkX := floorDiv(maxX-1, p.chunkSize)
	endChunkY := floorDiv(maxY-1, p.chunkSize)

	chunksW, chunksH := p.chunksAcross()
	centerX := vp.CenterX()
	centerY := vp.CenterY()

	var out []ChunkDescriptor
	for cy := startChunkY; cy <= endChunkY; cy++ {
		for cx := startChunkX; cx <= endChunkX; cx++ {
			if cx < 0 || cy < 0 || cx >= chunksW || cy >= chunksH {
				continue
			}
			d := p.Describe(ChunkKey{X: cx, Y: cy})
			chunkCenterX := float64(d.StartX+d.EndX) / 2
			chunkCenterY := float64(d.StartY+d.EndY) / 2
			d.Priority = math.Hypot(chunkCenterX-centerX, chunkCenterY-centerY)
			out = append(out, d)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].Key.Y != out[j].Key.Y {
			return out[i].Key.Y < out[j].Key.Y
		}
		return out[i].Key.X < out[j].Key.X
	})
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
