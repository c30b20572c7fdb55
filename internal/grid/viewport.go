package grid

// Viewport is a square sub-window of the canvas. X,Y is the top-left corner.
type Viewport struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Size int `json:"size"`
}

// CenterX returns the horizontal center of the viewport in grid units.
func (v Viewport) CenterX() float64 { return float64(v.X) + float64(v.Size)/2 }

// CenterY returns the vertical center of the viewport in grid units.
func (v Viewport) CenterY() float64 { return float64(v.Y) + float64(v.Size)/2 }

// Contains reports whether the point is inside the viewport window.
func (v Viewport) Contains(p Point) bool {
	return p.X >= v.X && p.X < v.X+v.Size && p.Y >= v.Y && p.Y < v.Y+v.Size
}

// Clamp returns the viewport constrained so that size fits [minSize, maxSize]
// and the window lies fully inside the canvas.
func (v Viewport) Clamp(c Codec, minSize, maxSize int) Viewport {
	out := v
	if out.Size < minSize {
		out.Size = minSize
	}
	if out.Size > maxSize {
		out.Size = maxSize
	}
	if out.Size > c.Width() {
		out.Size = c.Width()
	}
	if out.Size > c.Height() {
		out.Size = c.Height()
	}
	out.X = clampInt(out.X, 0, c.Width()-out.Size)
	out.Y = clampInt(out.Y, 0, c.Height()-out.Size)
	return out
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
