package engine

import (
	"pixel-canvas/internal/grid"
)

// PixelState is one rendered cell.
type PixelState struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Owner   string `json:"owner"`
	Color   string `json:"color"`
	Pending bool   `json:"pending,omitempty"`
}

// CanvasState is the renderable view of the engine.
type CanvasState struct {
	Viewport      grid.Viewport `json:"viewport"`
	Pixels        []PixelState  `json:"pixels"`
	Highlight     *grid.Point   `json:"highlight,omitempty"`
	TotalMinted   int64         `json:"totalMinted"`
	EventsEnabled bool          `json:"eventsEnabled"`
	QueueDepth    int           `json:"queueDepth"`
	Loading       bool          `json:"loading"`
}

// State snapshots the current viewport's renderable pixels, their pending
// flags, and the session counters.
func (e *Engine) State() CanvasState {
	vp := e.controller.Viewport()

	minted := e.store.Minted(vp)
	pixels := make([]PixelState, 0, len(minted))
	for _, px := range minted {
		pixels = append(pixels, PixelState{
			X:       px.Point.X,
			Y:       px.Point.Y,
			Owner:   px.Owner,
			Color:   px.Color,
			Pending: e.tracker.IsPending(px.Point),
		})
	}

	// Pending pixels without confirmed state still render as pending.
	for _, p := range e.tracker.Pending() {
		if p.X < vp.X || p.X >= vp.X+vp.Size || p.Y < vp.Y || p.Y >= vp.Y+vp.Size {
			continue
		}
		if px, ok := e.store.Pixel(p); ok && px.Minted {
			continue
		}
		pixels = append(pixels, PixelState{X: p.X, Y: p.Y, Pending: true})
	}

	state := CanvasState{
		Viewport:      vp,
		Pixels:        pixels,
		TotalMinted:   e.TotalMinted(),
		EventsEnabled: e.EventsEnabled(),
		QueueDepth:    e.scheduler.QueueDepth(),
		Loading:       !e.scheduler.Idle(),
	}
	if hl, ok := e.controller.Highlight(); ok {
		state.Highlight = &hl
	}
	return state
}
