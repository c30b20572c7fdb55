package engine

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixel-canvas/internal/chain/stub"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/notify"
	"pixel-canvas/internal/storage"
	"pixel-canvas/internal/storage/memory"
)

func newTestEngine(t *testing.T, tune func(*Options)) (*Engine, *stub.Client) {
	t.Helper()

	client := stub.NewClient(100, 100)
	codec, err := grid.NewCodec(100, 100)
	require.NoError(t, err)

	opts := Options{
		Client:          client,
		Watcher:         client,
		Address:         "0xCanvas",
		Codec:           codec,
		ChunkSize:       5,
		RequestInterval: time.Millisecond,
		FallbackDelay:   50 * time.Millisecond,
		EnableDelay:     time.Millisecond,
		DebounceDelay:   10 * time.Millisecond,
		Notifier:        notify.NewRing(20),
		Logger:          log.New(io.Discard, "", 0),
	}
	if tune != nil {
		tune(&opts)
	}

	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, client
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, e.Idle, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_InitialLoadFillsViewport(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.SetPixel(3, 7, "#ff0000", "0xAlice")
	client.SetPixel(42, 42, "#00ff00", "0xBob")

	e.Start(context.Background())
	waitIdle(t, e)

	px, ok := e.Store().Pixel(grid.Point{X: 3, Y: 7})
	require.True(t, ok)
	assert.Equal(t, "#ff0000", px.Color)

	px, ok = e.Store().Pixel(grid.Point{X: 42, Y: 42})
	require.True(t, ok)
	assert.Equal(t, "0xBob", px.Owner)

	assert.Equal(t, int64(2), e.TotalMinted())
}

func TestEngine_MintConfirmedByEvent(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.AutoEmit = true

	e.Start(context.Background())
	waitIdle(t, e)
	require.Eventually(t, e.EventsEnabled, 2*time.Second, 10*time.Millisecond)

	p := grid.Point{X: 10, Y: 10}
	txHash, err := e.MintPixel(context.Background(), p, "#123456")
	require.NoError(t, err)
	require.NotEmpty(t, txHash)

	require.Eventually(t, func() bool { return !e.Tracker().IsPending(p) },
		2*time.Second, 10*time.Millisecond)

	px, ok := e.Store().Pixel(p)
	require.True(t, ok)
	assert.True(t, px.Minted)
	assert.Equal(t, "#123456", px.Color)
}

func TestEngine_EventDuringSubmissionConfirmsPixel(t *testing.T) {
	// The stub pushes events synchronously inside the write call, so the
	// pixel must already be marked pending when they arrive. The fallback
	// delay is set far out: only the event path can clear the mark.
	e, client := newTestEngine(t, func(o *Options) {
		o.FallbackDelay = time.Hour
	})
	client.AutoEmit = true

	e.Start(context.Background())
	waitIdle(t, e)
	require.Eventually(t, e.EventsEnabled, 2*time.Second, 10*time.Millisecond)

	p := grid.Point{X: 30, Y: 30}
	_, err := e.MintPixel(context.Background(), p, "#0055aa")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		px, ok := e.Store().Pixel(p)
		return ok && px.Minted && !e.Tracker().IsPending(p)
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return e.Tracker().ActiveTxs() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestEngine_MintConfirmedByFallbackWhenEventsSilent(t *testing.T) {
	// AutoEmit off: the mint happens on chain but no event is ever pushed.
	e, _ := newTestEngine(t, nil)

	e.Start(context.Background())
	waitIdle(t, e)

	p := grid.Point{X: 20, Y: 20}
	_, err := e.MintPixel(context.Background(), p, "#abcdef")
	require.NoError(t, err)

	// The fallback timer re-reads the pixel and clears the pending mark.
	require.Eventually(t, func() bool {
		px, ok := e.Store().Pixel(p)
		return ok && px.Minted && !e.Tracker().IsPending(p)
	}, 3*time.Second, 10*time.Millisecond)

	px, _ := e.Store().Pixel(p)
	assert.Equal(t, "#abcdef", px.Color)
}

func TestEngine_RevertAbortsPending(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.SetPixel(5, 5, "#ffffff", "0xSomeoneElse")

	e.Start(context.Background())
	waitIdle(t, e)

	// Minting an already-minted pixel reverts at submission.
	p := grid.Point{X: 5, Y: 5}
	_, err := e.MintPixel(context.Background(), p, "#000000")
	require.Error(t, err)
	assert.False(t, e.Tracker().IsPending(p))
}

func TestEngine_SelectionCommitSplitsMintsAndUpdates(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.AutoEmit = true
	client.SetPixel(1, 1, "#111111", client.Sender)

	e.Start(context.Background())
	waitIdle(t, e)

	require.NoError(t, e.Select(grid.Point{X: 1, Y: 1}, "#aaaaaa")) // owned, minted
	require.NoError(t, e.Select(grid.Point{X: 2, Y: 1}, "#bbbbbb")) // unminted
	require.NoError(t, e.Select(grid.Point{X: 3, Y: 1}, "#cccccc")) // unminted
	assert.Len(t, e.Selection(), 3)

	hashes, err := e.CommitSelection(context.Background())
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Empty(t, e.Selection())

	require.Eventually(t, func() bool {
		a, okA := e.Store().Pixel(grid.Point{X: 1, Y: 1})
		b, okB := e.Store().Pixel(grid.Point{X: 2, Y: 1})
		return okA && okB && a.Color == "#aaaaaa" && b.Color == "#bbbbbb"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestEngine_SelectionValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	assert.ErrorIs(t, e.Select(grid.Point{X: 500, Y: 0}, "#fff"), grid.ErrOutOfBounds)

	_, err := e.CommitSelection(context.Background())
	require.Error(t, err)

	require.NoError(t, e.Select(grid.Point{X: 1, Y: 1}, "#fff"))
	e.Deselect(grid.Point{X: 1, Y: 1})
	assert.Empty(t, e.Selection())
}

func TestEngine_RejectsMalformedInput(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.SetPixel(8, 8, "#ffffff", client.Sender)

	e.Start(context.Background())
	waitIdle(t, e)

	p := grid.Point{X: 8, Y: 8}
	_, err := e.MintPixel(context.Background(), grid.Point{X: 9, Y: 8}, "banana")
	require.Error(t, err)
	assert.False(t, e.Tracker().IsPending(grid.Point{X: 9, Y: 8}))

	_, err = e.UpdatePixelColor(context.Background(), p, "#12345")
	require.Error(t, err)

	assert.Error(t, e.Select(p, "red"))
	require.NoError(t, e.Select(p, "#a1B2c3"))

	_, err = e.ApprovePixel(context.Background(), p, "0xOperator")
	require.Error(t, err)
	_, err = e.BatchApprove(context.Background(), []grid.Point{p}, "not-an-address")
	require.Error(t, err)
	_, err = e.BatchApproveMultipleAddresses(context.Background(), []grid.Point{p},
		[]string{"0x" + strings.Repeat("a", 40), "0xshort"})
	require.Error(t, err)

	_, err = e.ApprovePixel(context.Background(), p, "0x"+strings.Repeat("A", 40))
	require.NoError(t, err)
}

func TestEngine_EvictionOnViewportMove(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.KeepRadius = 1
	})

	e.Start(context.Background())
	waitIdle(t, e)

	// Zoom in tight at the origin, then jump far away; origin chunks fall
	// outside the keep radius and get evicted.
	for i := 0; i < 20; i++ {
		e.Viewport().ZoomIn()
	}
	e.Viewport().Settle()
	waitIdle(t, e)
	require.True(t, e.Store().IsLoaded(grid.ChunkKey{X: 9, Y: 9}))

	require.NoError(t, e.Viewport().GoTo(grid.Point{X: 5, Y: 5}))
	e.Viewport().Settle()
	waitIdle(t, e)

	assert.False(t, e.Store().IsLoaded(grid.ChunkKey{X: 15, Y: 15}))
	assert.True(t, e.Store().IsLoaded(grid.ChunkKey{X: 1, Y: 1}))
}

func TestEngine_WarmFromSnapshots(t *testing.T) {
	snaps := memory.NewPixelSnapshotStore()
	e, _ := newTestEngine(t, func(o *Options) {
		o.Snapshots = snaps
	})

	ctx := context.Background()
	require.NoError(t, snaps.Upsert(ctx, snapshotAt(60, 60, "0xAlice", "#ff00ff")))

	e.Start(ctx)

	// Warmed pixels render before any chunk fetch confirms them.
	px, ok := e.Store().Pixel(grid.Point{X: 60, Y: 60})
	require.True(t, ok)
	assert.Equal(t, "#ff00ff", px.Color)

	waitIdle(t, e)

	// The live fetch corrects the warmed snapshot: the chain has no such
	// pixel, so after loading it is unminted.
	px, ok = e.Store().Pixel(grid.Point{X: 60, Y: 60})
	require.True(t, ok)
	assert.False(t, px.Minted)
}

func TestEngine_SnapshotsPersistFetchedPixels(t *testing.T) {
	snaps := memory.NewPixelSnapshotStore()
	e, client := newTestEngine(t, func(o *Options) {
		o.Snapshots = snaps
	})
	client.SetPixel(7, 7, "#00aa00", "0xAlice")

	e.Start(context.Background())
	waitIdle(t, e)

	got, err := snaps.GetByPoint(context.Background(), 7, 7)
	require.NoError(t, err)
	assert.Equal(t, "#00aa00", got.Color)
	assert.Equal(t, "0xAlice", got.Owner)
}

func TestEngine_State(t *testing.T) {
	e, client := newTestEngine(t, nil)
	client.SetPixel(2, 2, "#123123", "0xAlice")

	e.Start(context.Background())
	waitIdle(t, e)

	require.NoError(t, e.Viewport().GoTo(grid.Point{X: 2, Y: 2}))
	state := e.State()

	require.NotNil(t, state.Highlight)
	assert.Equal(t, grid.Point{X: 2, Y: 2}, *state.Highlight)
	assert.Equal(t, int64(1), state.TotalMinted)

	var found bool
	for _, px := range state.Pixels {
		if px.X == 2 && px.Y == 2 {
			found = true
			assert.Equal(t, "#123123", px.Color)
		}
	}
	assert.True(t, found, "minted pixel missing from state")
}

func snapshotAt(x, y int, owner, color string) *storage.PixelSnapshot {
	return &storage.PixelSnapshot{X: x, Y: y, Owner: owner, Color: color, UpdatedAt: time.Now().UnixMilli()}
}
