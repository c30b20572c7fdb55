// Package grid provides the canvas coordinate system: the token id codec,
// viewport geometry, and chunk partitioning. All other packages resolve
// coordinates through a single injected Codec instead of inlining the
// arithmetic.
package grid

import (
	"errors"
	"fmt"
)

// CompositeIDBase is the first token id reserved for composite (multi-pixel
// aggregate) tokens. Ids at or above this value do not map to a coordinate.
const CompositeIDBase = 100000

// ErrCompositeToken is returned when decoding an id in the composite range.
var ErrCompositeToken = errors.New("composite token id has no coordinate")

// ErrOutOfBounds is returned for coordinates or ids outside the canvas.
var ErrOutOfBounds = errors.New("coordinate out of canvas bounds")

// Point is a pixel coordinate on the canvas.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Key returns the canonical "x-y" map key for the point.
func (p Point) Key() string {
	return fmt.Sprintf("%d-%d", p.X, p.Y)
}

// Codec maps between 2D pixel coordinates and linear token ids.
// Grid dimensions vary by deployment (10x10 or 100x100), so they are
// configuration, never constants.
type Codec struct {
	width  int
	height int
}

// NewCodec creates a codec for a width x height canvas.
func NewCodec(width, height int) (Codec, error) {
	if width <= 0 || height <= 0 {
		return Codec{}, fmt.Errorf("invalid canvas dimensions %dx%d", width, height)
	}
	if width*height > CompositeIDBase {
		return Codec{}, fmt.Errorf("canvas %dx%d overlaps composite id space", width, height)
	}
	return Codec{width: width, height: height}, nil
}

// Width returns the canvas width in pixels.
func (c Codec) Width() int { return c.width }

// Height returns the canvas height in pixels.
func (c Codec) Height() int { return c.height }

// Contains reports whether the point lies on the canvas.
func (c Codec) Contains(p Point) bool {
	return p.X >= 0 && p.X < c.width && p.Y >= 0 && p.Y < c.height
}

// Encode returns the token id for a coordinate: tokenId = y*WIDTH + x.
func (c Codec) Encode(p Point) (int64, error) {
	if !c.Contains(p) {
		return 0, fmt.Errorf("encode (%d,%d): %w", p.X, p.Y, ErrOutOfBounds)
	}
	return int64(p.Y)*int64(c.width) + int64(p.X), nil
}

// Decode returns the coordinate for a token id. Callers must branch on
// IsComposite before decoding; composite ids are rejected here.
func (c Codec) Decode(tokenID int64) (Point, error) {
	if IsComposite(tokenID) {
		return Point{}, fmt.Errorf("decode %d: %w", tokenID, ErrCompositeToken)
	}
	if tokenID < 0 || tokenID >= int64(c.width)*int64(c.height) {
		return Point{}, fmt.Errorf("decode %d: %w", tokenID, ErrOutOfBounds)
	}
	return Point{
		X: int(tokenID % int64(c.width)),
		Y: int(tokenID / int64(c.width)),
	}, nil
}

// IsComposite reports whether the token id lives in the composite id space.
func IsComposite(tokenID int64) bool {
	return tokenID >= CompositeIDBase
}
