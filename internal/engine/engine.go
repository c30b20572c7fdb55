// Package engine wires the canvas subsystems together: viewport settles
// drive chunk scheduling, fetched chunks merge into the pixel cache, writes
// flow through the pending tracker, and contract events (or fallback reads)
// confirm them.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/contract"
	"pixel-canvas/internal/events"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/notify"
	"pixel-canvas/internal/observability"
	"pixel-canvas/internal/pending"
	"pixel-canvas/internal/scheduler"
	"pixel-canvas/internal/storage"
	"pixel-canvas/internal/store"
	"pixel-canvas/internal/viewport"
)

// DefaultKeepRadius is how far, in chunks, cached data survives beyond the
// viewport before eviction reclaims it.
const DefaultKeepRadius = 3

// Options configures an Engine.
type Options struct {
	// Client is the chain read/write surface. Required.
	Client chain.Client
	// Watcher provides the event stream. Optional; without it the engine
	// relies on fallback reads alone.
	Watcher chain.Watcher
	// Address is the canvas contract address. Required.
	Address string
	// Codec defines the canvas dimensions. Required.
	Codec grid.Codec

	// ChunkSize and Buffer shape the partitioner. ChunkSize defaults to 5.
	ChunkSize int
	Buffer    int
	// KeepRadius overrides DefaultKeepRadius.
	KeepRadius int

	// MaxInFlight, RequestInterval tune the scheduler.
	MaxInFlight     int
	RequestInterval time.Duration
	// FallbackDelay tunes the pending tracker.
	FallbackDelay time.Duration
	// EnableDelay tunes the event listener.
	EnableDelay time.Duration
	// DebounceDelay tunes the viewport controller.
	DebounceDelay time.Duration

	// Snapshots persists confirmed pixels across sessions. Optional.
	Snapshots storage.PixelSnapshotStore
	// Notifier receives user-facing messages. Optional.
	Notifier notify.Notifier
	// Metrics records observability data. Optional.
	Metrics *observability.Metrics
	// Logger is required.
	Logger *log.Logger
}

// Engine is the canvas application core.
type Engine struct {
	binding     *contract.Binding
	partitioner *grid.Partitioner
	store       *store.Store
	scheduler   *scheduler.Scheduler
	tracker     *pending.Tracker
	listener    *events.Listener
	controller  *viewport.Controller
	snapshots   storage.PixelSnapshotStore
	notifier    notify.Notifier
	metrics     *observability.Metrics
	logger      *log.Logger
	keepRadius  int

	totalMinted atomic.Int64

	mu        sync.Mutex
	selection map[grid.Point]string

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New assembles an Engine from its parts.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("chain client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	if opts.KeepRadius <= 0 {
		opts.KeepRadius = DefaultKeepRadius
	}

	binding, err := contract.NewBinding(opts.Client, opts.Address, opts.Codec)
	if err != nil {
		return nil, err
	}
	partitioner, err := grid.NewPartitioner(opts.Codec, opts.ChunkSize, opts.Buffer)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		binding:     binding,
		partitioner: partitioner,
		store:       store.New(partitioner),
		snapshots:   opts.Snapshots,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		keepRadius:  opts.KeepRadius,
		selection:   make(map[grid.Point]string),
	}

	e.scheduler, err = scheduler.New(scheduler.Options{
		Fetch:           e.fetchChunk,
		MaxInFlight:     opts.MaxInFlight,
		RequestInterval: opts.RequestInterval,
		Logger:          opts.Logger,
		OnResult:        e.observeFetch,
	})
	if err != nil {
		return nil, err
	}

	e.tracker, err = pending.New(pending.Options{
		FallbackDelay: opts.FallbackDelay,
		Fallback:      e.reconcilePoints,
		OnResolved:    e.observeResolved,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if opts.Watcher != nil {
		e.listener, err = events.New(events.Options{
			Watcher:     opts.Watcher,
			Binding:     binding,
			Store:       e.store,
			Tracker:     e.tracker,
			EnableDelay: opts.EnableDelay,
			OnEnabled:   e.observeStreamUp,
			OnApplied:   e.observeEventApplied,
			OnDisabled:  e.observeStreamDown,
			Logger:      opts.Logger,
		})
		if err != nil {
			return nil, err
		}
	}

	e.controller, err = viewport.New(viewport.Options{
		Codec:         opts.Codec,
		DebounceDelay: opts.DebounceDelay,
		OnSettle:      e.onSettle,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return e, nil
}

// Start launches the scheduler and the event listener and loads the initial
// viewport.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.runCancel = context.WithCancel(ctx)
	e.scheduler.Start(e.runCtx)
	if e.listener != nil {
		e.listener.Start(e.runCtx)
	}
	if e.snapshots != nil {
		e.warmFromSnapshots(e.runCtx)
	}
	e.refreshTotalMinted(e.runCtx)
	e.controller.Settle()
}

// Close stops all background work.
func (e *Engine) Close() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.controller.Close()
	if e.listener != nil {
		e.listener.Close()
	}
	e.tracker.Close()
	e.scheduler.Stop()
	e.wg.Wait()
}

// Viewport exposes the viewport controller for input handling.
func (e *Engine) Viewport() *viewport.Controller {
	return e.controller
}

// Store exposes the pixel cache for rendering.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Tracker exposes pending state for rendering.
func (e *Engine) Tracker() *pending.Tracker {
	return e.tracker
}

// TotalMinted returns the last known minted-token count.
func (e *Engine) TotalMinted() int64 {
	return e.totalMinted.Load()
}

// EventsEnabled reports whether the live event stream is active.
func (e *Engine) EventsEnabled() bool {
	return e.listener != nil && e.listener.Enabled()
}

// QueueDepth returns the number of chunks waiting to be fetched.
func (e *Engine) QueueDepth() int {
	return e.scheduler.QueueDepth()
}

// InFlight returns the number of chunk fetches currently running.
func (e *Engine) InFlight() int {
	return e.scheduler.InFlight()
}

// TokenImages reads the current images for a set of token ids in one
// multicall, for gallery refreshes.
func (e *Engine) TokenImages(ctx context.Context, tokenIDs []int64) ([]contract.TokenImage, error) {
	return e.binding.GetBatchTokenImages(ctx, tokenIDs)
}

// Idle reports whether no chunk work is queued or running.
func (e *Engine) Idle() bool {
	return e.scheduler.Idle()
}

// Refresh drops the current viewport's chunks and re-fetches them, and
// re-reads the minted-token counter.
func (e *Engine) Refresh(ctx context.Context) {
	required := e.partitioner.Required(e.controller.Viewport())
	requiredSet := make(map[grid.ChunkKey]struct{}, len(required))
	for _, d := range required {
		requiredSet[d.Key] = struct{}{}
	}
	e.store.Evict(func(key grid.ChunkKey) bool {
		_, drop := requiredSet[key]
		return !drop
	})
	e.refreshTotalMinted(ctx)
	e.controller.Settle()
}

// onSettle is the debounced viewport callback: schedule what the viewport
// needs, drop queued work it no longer needs, and evict distant chunks.
func (e *Engine) onSettle(vp grid.Viewport) {
	if e.metrics != nil {
		e.metrics.ViewportSettles.Inc()
	}

	required := e.partitioner.Required(vp)

	var toSchedule []grid.ChunkDescriptor
	requiredSet := make(map[grid.ChunkKey]struct{}, len(required))
	for _, d := range required {
		requiredSet[d.Key] = struct{}{}
		if !e.store.IsLoaded(d.Key) {
			toSchedule = append(toSchedule, d)
		}
	}

	keep := func(key grid.ChunkKey) bool {
		return e.distanceToRequired(key, required) <= e.keepRadius
	}
	e.scheduler.Trim(func(key grid.ChunkKey) bool {
		_, ok := requiredSet[key]
		return ok
	})
	evicted := e.store.Evict(keep)

	added := e.scheduler.Schedule(toSchedule)
	e.logger.Printf("viewport settled at (%d,%d) size %d: %d chunk(s) scheduled, %d evicted",
		vp.X, vp.Y, vp.Size, added, evicted)

	if e.metrics != nil {
		e.metrics.ChunkQueueDepth.Set(float64(e.scheduler.QueueDepth()))
		e.metrics.ChunksLoaded.Set(float64(len(e.store.LoadedChunks())))
		if evicted > 0 {
			e.metrics.ChunksEvicted.Add(float64(evicted))
		}
	}
}

// distanceToRequired is the Chebyshev distance from key to the nearest
// required chunk, zero when key itself is required.
func (e *Engine) distanceToRequired(key grid.ChunkKey, required []grid.ChunkDescriptor) int {
	best := int(^uint(0) >> 1)
	for _, d := range required {
		if dist := key.ChebyshevDistance(d.Key); dist < best {
			best = dist
		}
	}
	return best
}

// fetchChunk is the scheduler's fetch body.
func (e *Engine) fetchChunk(ctx context.Context, desc grid.ChunkDescriptor) error {
	start := time.Now()
	cells, err := e.binding.FetchChunk(ctx, desc)
	if err != nil {
		return err
	}
	e.store.MergeChunk(desc.Key, cells)
	if e.metrics != nil {
		e.metrics.ChunkFetchDuration.Observe(time.Since(start).Seconds())
	}
	e.persistCells(ctx, cells)
	return nil
}

func (e *Engine) observeFetch(_ grid.ChunkKey, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ChunkFetchesTotal.WithLabelValues(outcome).Inc()
	e.metrics.ChunkQueueDepth.Set(float64(e.scheduler.QueueDepth()))
	e.metrics.ChunkFetchesInFlight.Set(float64(e.scheduler.InFlight()))
}

// persistCells writes minted cells to the snapshot store and clears
// snapshots for cells found unminted. Best effort.
func (e *Engine) persistCells(ctx context.Context, cells []contract.Cell) {
	if e.snapshots == nil {
		return
	}
	now := time.Now().UnixMilli()
	var minted []*storage.PixelSnapshot
	for _, c := range cells {
		if !c.Minted {
			continue
		}
		minted = append(minted, &storage.PixelSnapshot{
			X: c.Point.X, Y: c.Point.Y,
			Owner: c.Owner, Color: c.Color,
			UpdatedAt: now,
		})
	}
	if len(minted) == 0 {
		return
	}
	if err := e.snapshots.UpsertBulk(ctx, minted); err != nil {
		e.logger.Printf("snapshot persist failed: %v", err)
		if e.metrics != nil {
			e.metrics.SnapshotErrors.Inc()
		}
		return
	}
	if e.metrics != nil {
		e.metrics.SnapshotWrites.Add(float64(len(minted)))
	}
}

func (e *Engine) warmFromSnapshots(ctx context.Context) {
	snaps, err := e.snapshots.LoadAll(ctx)
	if err != nil {
		e.logger.Printf("snapshot warm load failed: %v", err)
		return
	}
	pixels := make([]store.Pixel, 0, len(snaps))
	for _, s := range snaps {
		p := grid.Point{X: s.X, Y: s.Y}
		if !e.binding.Codec().Contains(p) {
			continue
		}
		pixels = append(pixels, store.Pixel{Point: p, Owner: s.Owner, Color: s.Color, Minted: true})
	}
	e.store.Warm(pixels)
	e.logger.Printf("warmed cache with %d persisted pixel(s)", len(pixels))
}

func (e *Engine) refreshTotalMinted(ctx context.Context) {
	total, err := e.binding.TotalMinted(ctx)
	if err != nil {
		e.logger.Printf("total minted read failed: %v", err)
		return
	}
	e.totalMinted.Store(total)
}

// reconcilePoints is the tracker's fallback: events never came, so read the
// affected pixels directly and fold the answers into the cache.
func (e *Engine) reconcilePoints(txHash string, points []grid.Point) {
	if len(points) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, p := range points {
		owner, err := e.binding.OwnerOf(ctx, p)
		if err != nil {
			if errors.Is(err, contract.ErrNotMinted) {
				continue
			}
			e.logger.Printf("tx %s: fallback read for %s failed: %v", txHash, p.Key(), err)
			continue
		}
		color, err := e.binding.GetColor(ctx, p)
		if err != nil {
			color = contract.DefaultColor
		}
		e.store.ApplyEvent(p, owner, color)
	}
	e.refreshTotalMinted(ctx)
}

func (e *Engine) observeResolved(txHash string, viaFallback bool) {
	path := "event"
	if viaFallback {
		path = "fallback"
	}
	if e.metrics != nil {
		e.metrics.TxResolved.WithLabelValues(path).Inc()
		e.metrics.PendingPixels.Set(float64(len(e.tracker.Pending())))
	}
	e.logger.Printf("tx %s resolved via %s", txHash, path)
}

func (e *Engine) observeStreamUp() {
	if e.metrics != nil {
		e.metrics.EventStreamEnabled.Set(1)
	}
}

func (e *Engine) observeEventApplied(event string) {
	if e.metrics != nil {
		e.metrics.EventsApplied.WithLabelValues(event).Inc()
		e.metrics.PendingPixels.Set(float64(len(e.tracker.Pending())))
	}
}

func (e *Engine) observeStreamDown(err error) {
	if e.metrics != nil {
		e.metrics.EventStreamEnabled.Set(0)
	}
	e.notify(notify.LevelInfo, "live updates unavailable, falling back to periodic reads", "")
}

func (e *Engine) notify(level notify.Level, message, txHash string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(notify.Notification{Level: level, Message: message, TxHash: txHash})
}
