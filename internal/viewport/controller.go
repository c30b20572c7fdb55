// Package viewport tracks the visible window over the canvas. Pan, zoom and
// goto mutate the window immediately; data loading is driven by a debounced
// settle callback so a continuous gesture fires one load, not dozens.
package viewport

import (
	"errors"
	"log"
	"sync"
	"time"

	"pixel-canvas/internal/grid"
)

// Defaults for interactive behavior.
const (
	DefaultPixelSize         = 4
	DefaultZoomStep          = 5
	DefaultMinSize           = 10
	DefaultDebounceDelay     = 300 * time.Millisecond
	DefaultHighlightDuration = 3 * time.Second
)

// Options configures a Controller.
type Options struct {
	// Codec bounds the viewport to the canvas.
	Codec grid.Codec
	// Initial is the starting viewport. A zero Size defaults to the
	// maximum.
	Initial grid.Viewport
	// PixelSize is the screen-pixel edge of one cell. The pan dead zone is
	// twice this value.
	PixelSize int
	// ZoomStep is the viewport size change per zoom action.
	ZoomStep int
	// MinSize and MaxSize bound the viewport edge. MaxSize defaults to the
	// smaller canvas dimension.
	MinSize int
	MaxSize int
	// DebounceDelay is the quiet period before OnSettle fires.
	DebounceDelay time.Duration
	// HighlightDuration is how long a goto target stays highlighted.
	HighlightDuration time.Duration
	// OnSettle receives the viewport after movement quiets down. Required.
	OnSettle func(grid.Viewport)
	// Logger is required.
	Logger *log.Logger
}

// Controller owns the viewport state.
type Controller struct {
	codec             grid.Codec
	pixelSize         int
	panThreshold      int
	zoomStep          int
	minSize           int
	maxSize           int
	debounceDelay     time.Duration
	highlightDuration time.Duration
	onSettle          func(grid.Viewport)
	logger            *log.Logger

	mu         sync.Mutex
	vp         grid.Viewport
	accX, accY int
	panning    bool
	highlight  grid.Point
	highlightT time.Time
	timer      *time.Timer
	closed     bool
}

// New creates a Controller positioned at opts.Initial.
func New(opts Options) (*Controller, error) {
	if opts.OnSettle == nil {
		return nil, errors.New("settle callback is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.PixelSize <= 0 {
		opts.PixelSize = DefaultPixelSize
	}
	if opts.ZoomStep <= 0 {
		opts.ZoomStep = DefaultZoomStep
	}
	if opts.MinSize <= 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = opts.Codec.Width()
		if opts.Codec.Height() < opts.MaxSize {
			opts.MaxSize = opts.Codec.Height()
		}
	}
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultDebounceDelay
	}
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = DefaultHighlightDuration
	}
	if opts.Initial.Size == 0 {
		opts.Initial.Size = opts.MaxSize
	}

	c := &Controller{
		codec:             opts.Codec,
		pixelSize:         opts.PixelSize,
		panThreshold:      2 * opts.PixelSize,
		zoomStep:          opts.ZoomStep,
		minSize:           opts.MinSize,
		maxSize:           opts.MaxSize,
		debounceDelay:     opts.DebounceDelay,
		highlightDuration: opts.HighlightDuration,
		onSettle:          opts.OnSettle,
		logger:            opts.Logger,
	}
	c.vp = opts.Initial.Clamp(opts.Codec, c.minSize, c.maxSize)
	return c, nil
}

// Viewport returns the current window.
func (c *Controller) Viewport() grid.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp
}

// Pan accumulates a drag delta in screen pixels. Drags inside the dead zone
// do not move the viewport, so a sloppy click never pans. Dragging right
// moves the window left over the canvas.
func (c *Controller) Pan(dxPixels, dyPixels int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accX += dxPixels
	c.accY += dyPixels
	if !c.panning {
		if abs(c.accX) < c.panThreshold && abs(c.accY) < c.panThreshold {
			return
		}
		c.panning = true
	}

	cellsX := c.accX / c.pixelSize
	cellsY := c.accY / c.pixelSize
	if cellsX == 0 && cellsY == 0 {
		return
	}
	c.accX -= cellsX * c.pixelSize
	c.accY -= cellsY * c.pixelSize

	moved := grid.Viewport{X: c.vp.X - cellsX, Y: c.vp.Y - cellsY, Size: c.vp.Size}
	c.applyLocked(moved)
}

// EndPan finishes a drag gesture, clearing the accumulated remainder.
func (c *Controller) EndPan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accX, c.accY = 0, 0
	c.panning = false
}

// ZoomIn shrinks the viewport around its center.
func (c *Controller) ZoomIn() {
	c.zoom(-c.zoomStep)
}

// ZoomOut grows the viewport around its center.
func (c *Controller) ZoomOut() {
	c.zoom(c.zoomStep)
}

func (c *Controller) zoom(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.vp.Size + delta
	if size < c.minSize {
		size = c.minSize
	}
	if size > c.maxSize {
		size = c.maxSize
	}
	if size == c.vp.Size {
		return
	}

	// Keep the center fixed while the edge changes.
	zoomed := grid.Viewport{
		X:    int(c.vp.CenterX() - float64(size)/2),
		Y:    int(c.vp.CenterY() - float64(size)/2),
		Size: size,
	}
	c.applyLocked(zoomed)
}

// GoTo centers the viewport on the point and highlights it.
func (c *Controller) GoTo(p grid.Point) error {
	if !c.codec.Contains(p) {
		return grid.ErrOutOfBounds
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.highlight = p
	c.highlightT = time.Now().Add(c.highlightDuration)
	centered := grid.Viewport{
		X:    p.X - c.vp.Size/2,
		Y:    p.Y - c.vp.Size/2,
		Size: c.vp.Size,
	}
	c.applyLocked(centered)
	return nil
}

// Highlight returns the active goto target, if its timer has not expired.
func (c *Controller) Highlight() (grid.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Now().After(c.highlightT) {
		return grid.Point{}, false
	}
	return c.highlight, true
}

// Settle cancels the debounce and fires the settle callback immediately.
func (c *Controller) Settle() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	vp := c.vp
	c.mu.Unlock()
	c.onSettle(vp)
}

// Close stops the debounce timer; no further settles fire.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// applyLocked clamps and installs a new viewport, resetting the debounce.
// Movement that clamps to the current viewport still counts as activity.
func (c *Controller) applyLocked(vp grid.Viewport) {
	c.vp = vp.Clamp(c.codec, c.minSize, c.maxSize)
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounceDelay, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		vp := c.vp
		c.mu.Unlock()
		c.onSettle(vp)
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
