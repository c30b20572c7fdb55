// Package events subscribes to contract event streams and folds confirmed
// state into the pixel cache. The subscription is best-effort: it enables
// after a grace period, and on any stream error it disables itself for the
// session, leaving reconciliation to the per-transaction fallback timers.
package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/contract"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/pending"
	"pixel-canvas/internal/store"
)

// DefaultEnableDelay is how long after startup the subscription activates.
// The initial viewport load lands first, so the first event batch never
// races a cold cache.
const DefaultEnableDelay = 2 * time.Second

// Options configures a Listener.
type Options struct {
	// Watcher provides the event stream. Required.
	Watcher chain.Watcher
	// Binding reads pixel colors for mint transfers. Required.
	Binding *contract.Binding
	// Store receives confirmed state. Required.
	Store *store.Store
	// Tracker is notified of confirmed points. Required.
	Tracker *pending.Tracker
	// EnableDelay overrides DefaultEnableDelay.
	EnableDelay time.Duration
	// OnEnabled, if set, observes the subscription going live.
	OnEnabled func()
	// OnApplied, if set, observes each applied event by name.
	OnApplied func(event string)
	// OnDisabled, if set, observes the stream error that disabled the
	// listener.
	OnDisabled func(error)
	// Logger is required.
	Logger *log.Logger
}

// Listener wires contract events into the store and the pending tracker.
type Listener struct {
	watcher     chain.Watcher
	binding     *contract.Binding
	store       *store.Store
	tracker     *pending.Tracker
	enableDelay time.Duration
	onEnabled   func()
	onApplied   func(string)
	onDisabled  func(error)
	logger      *log.Logger

	mu       sync.Mutex
	enabled  bool
	disabled bool
	unsubs   []func()
	timer    *time.Timer
}

// New creates a Listener; call Start to arm it.
func New(opts Options) (*Listener, error) {
	if opts.Watcher == nil {
		return nil, errors.New("watcher is required")
	}
	if opts.Binding == nil {
		return nil, errors.New("binding is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.EnableDelay <= 0 {
		opts.EnableDelay = DefaultEnableDelay
	}
	return &Listener{
		watcher:     opts.Watcher,
		binding:     opts.Binding,
		store:       opts.Store,
		tracker:     opts.Tracker,
		enableDelay: opts.EnableDelay,
		onEnabled:   opts.OnEnabled,
		onApplied:   opts.OnApplied,
		onDisabled:  opts.OnDisabled,
		logger:      opts.Logger,
	}, nil
}

// Start arms the delayed subscription.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled || l.disabled || l.timer != nil {
		return
	}
	l.timer = time.AfterFunc(l.enableDelay, func() { l.enable(ctx) })
}

// Enabled reports whether the subscription is live.
func (l *Listener) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Close cancels the subscription.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	unsubs := l.unsubs
	l.unsubs = nil
	l.enabled = false
	l.disabled = true
	l.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (l *Listener) enable(ctx context.Context) {
	address := l.binding.Address()

	transferUnsub, err := l.watcher.WatchEvent(ctx,
		chain.EventFilter{Address: address, Event: contract.EventTransfer},
		l.handleTransferLogs, l.disable)
	if err != nil {
		l.logger.Printf("event subscription unavailable, relying on fallback reads: %v", err)
		l.disable(err)
		return
	}

	colorUnsub, err := l.watcher.WatchEvent(ctx,
		chain.EventFilter{Address: address, Event: contract.EventColorUpdated},
		l.handleColorLogs, l.disable)
	if err != nil {
		transferUnsub()
		l.logger.Printf("event subscription unavailable, relying on fallback reads: %v", err)
		l.disable(err)
		return
	}

	l.mu.Lock()
	if l.disabled {
		l.mu.Unlock()
		transferUnsub()
		colorUnsub()
		return
	}
	l.enabled = true
	l.timer = nil
	l.unsubs = []func(){transferUnsub, colorUnsub}
	l.mu.Unlock()
	l.logger.Printf("event subscription active for %s", address)
	if l.onEnabled != nil {
		l.onEnabled()
	}
}

// disable turns the listener off for the rest of the session.
func (l *Listener) disable(err error) {
	l.mu.Lock()
	if l.disabled {
		l.mu.Unlock()
		return
	}
	l.disabled = true
	l.enabled = false
	l.unsubs = nil
	l.mu.Unlock()

	l.logger.Printf("event stream failed, disabled for this session: %v", err)
	if l.onDisabled != nil {
		l.onDisabled(err)
	}
}

func (l *Listener) handleTransferLogs(logs []chain.EventLog) {
	transfers, err := contract.DecodeTransfers(logs)
	if err != nil {
		l.logger.Printf("dropping malformed Transfer batch: %v", err)
		return
	}
	codec := l.binding.Codec()

	for _, ev := range transfers {
		if grid.IsComposite(ev.TokenID) {
			continue
		}
		p, err := codec.Decode(ev.TokenID)
		if err != nil {
			l.logger.Printf("dropping Transfer for token %d: %v", ev.TokenID, err)
			continue
		}

		color := l.colorFor(p)
		l.store.ApplyEvent(p, ev.To, color)
		if ev.IsMint() {
			l.tracker.ConfirmPoint(p)
		}
		if l.onApplied != nil {
			l.onApplied(contract.EventTransfer)
		}
	}
}

func (l *Listener) handleColorLogs(logs []chain.EventLog) {
	updates, err := contract.DecodeColorUpdates(logs)
	if err != nil {
		l.logger.Printf("dropping malformed ColorUpdated batch: %v", err)
		return
	}

	for _, ev := range updates {
		p := grid.Point{X: ev.X, Y: ev.Y}
		l.store.ApplyEvent(p, ev.Owner, ev.Color)
		l.tracker.ConfirmPoint(p)
		if l.onApplied != nil {
			l.onApplied(contract.EventColorUpdated)
		}
	}
}

// colorFor resolves a pixel's color for a transfer, which does not carry
// one. The cache is tried first, then the contract, then the default.
func (l *Listener) colorFor(p grid.Point) string {
	if px, ok := l.store.Pixel(p); ok && px.Minted && px.Color != "" {
		return px.Color
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	color, err := l.binding.GetColor(ctx, p)
	if err != nil {
		return contract.DefaultColor
	}
	return color
}
