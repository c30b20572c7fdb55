package viewport

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-canvas/internal/grid"
)

type settleRecorder struct {
	mu    sync.Mutex
	calls []grid.Viewport
}

func (r *settleRecorder) record(vp grid.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, vp)
}

func (r *settleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *settleRecorder) last() grid.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newTestController(t *testing.T, rec *settleRecorder, debounce time.Duration) *Controller {
	t.Helper()
	codec, err := grid.NewCodec(100, 100)
	require.NoError(t, err)
	c, err := New(Options{
		Codec:         codec,
		Initial:       grid.Viewport{X: 40, Y: 40, Size: 20},
		PixelSize:     4,
		DebounceDelay: debounce,
		OnSettle:      rec.record,
		Logger:        log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestController_PanDeadZone(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	// 7 screen pixels is under the 2*pixelSize threshold.
	c.Pan(7, 0)
	assert.Equal(t, grid.Viewport{X: 40, Y: 40, Size: 20}, c.Viewport())

	// One more pixel crosses it: 8px = 2 cells, moving the window left.
	c.Pan(1, 0)
	assert.Equal(t, grid.Viewport{X: 38, Y: 40, Size: 20}, c.Viewport())
}

func TestController_PanAccumulatesSubCellRemainder(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	c.Pan(0, -10) // crosses threshold: 10px down-drag is 2 cells, remainder 2px
	assert.Equal(t, grid.Viewport{X: 40, Y: 42, Size: 20}, c.Viewport())

	c.Pan(0, -2) // remainder reaches one full cell
	assert.Equal(t, grid.Viewport{X: 40, Y: 43, Size: 20}, c.Viewport())

	c.EndPan()
	c.Pan(0, -3) // fresh gesture, back inside the dead zone
	assert.Equal(t, grid.Viewport{X: 40, Y: 43, Size: 20}, c.Viewport())
}

func TestController_PanClampsAtEdges(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	c.Pan(10000, 10000)
	vp := c.Viewport()
	assert.Equal(t, 0, vp.X)
	assert.Equal(t, 0, vp.Y)
}

func TestController_ZoomKeepsCenter(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	c.ZoomIn() // 20 -> 15 around center (50,50)
	vp := c.Viewport()
	assert.Equal(t, 15, vp.Size)
	assert.InDelta(t, 50, vp.CenterX(), 1)
	assert.InDelta(t, 50, vp.CenterY(), 1)

	c.ZoomOut()
	assert.Equal(t, 20, c.Viewport().Size)
}

func TestController_ZoomClampsSize(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	for i := 0; i < 10; i++ {
		c.ZoomIn()
	}
	assert.Equal(t, DefaultMinSize, c.Viewport().Size)

	for i := 0; i < 30; i++ {
		c.ZoomOut()
	}
	vp := c.Viewport()
	assert.Equal(t, 100, vp.Size)
	assert.Equal(t, 0, vp.X)
	assert.Equal(t, 0, vp.Y)
}

func TestController_GoToCentersAndHighlights(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	target := grid.Point{X: 80, Y: 15}
	require.NoError(t, c.GoTo(target))

	vp := c.Viewport()
	assert.InDelta(t, float64(target.X), vp.CenterX(), 1)
	assert.InDelta(t, float64(target.Y), vp.CenterY(), 1)

	hl, active := c.Highlight()
	require.True(t, active)
	assert.Equal(t, target, hl)

	assert.ErrorIs(t, c.GoTo(grid.Point{X: 200, Y: 0}), grid.ErrOutOfBounds)
}

func TestController_HighlightExpires(t *testing.T) {
	codec, err := grid.NewCodec(100, 100)
	require.NoError(t, err)
	c, err := New(Options{
		Codec:             codec,
		HighlightDuration: 30 * time.Millisecond,
		DebounceDelay:     time.Hour,
		OnSettle:          func(grid.Viewport) {},
		Logger:            log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.GoTo(grid.Point{X: 5, Y: 5}))
	_, active := c.Highlight()
	require.True(t, active)

	require.Eventually(t, func() bool {
		_, active := c.Highlight()
		return !active
	}, time.Second, 10*time.Millisecond)
}

func TestController_DebounceCoalescesMovement(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, 60*time.Millisecond)

	// A burst of movement fires a single settle with the final viewport.
	for i := 0; i < 5; i++ {
		c.Pan(12, 0)
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, c.Viewport(), rec.last())
}

func TestController_SettleFiresImmediately(t *testing.T) {
	rec := &settleRecorder{}
	c := newTestController(t, rec, time.Hour)

	c.Pan(100, 0)
	c.Settle()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, c.Viewport(), rec.last())
}
