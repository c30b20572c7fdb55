// Package pending tracks submitted transactions until their effects are
// confirmed. Confirmation has two producers: pushed contract events and a
// per-transaction fallback timer that re-reads the affected pixels when the
// event stream is silent. Both paths are idempotent, so a pixel confirmed
// twice settles in the same state.
package pending

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pixel-canvas/internal/grid"
)

// DefaultFallbackDelay is how long after mining we wait for events before
// re-reading the affected pixels directly.
const DefaultFallbackDelay = 2 * time.Second

// ErrUnknownTx is returned for operations on a transaction hash the tracker
// never saw or already resolved.
var ErrUnknownTx = errors.New("unknown transaction")

// Options configures a Tracker.
type Options struct {
	// FallbackDelay overrides DefaultFallbackDelay.
	FallbackDelay time.Duration
	// Fallback is invoked with the points still unconfirmed when a
	// transaction's timer fires. Required.
	Fallback func(txHash string, points []grid.Point)
	// OnResolved, if set, observes each fully confirmed transaction.
	// viaFallback is true when the timer, not events, finished it.
	OnResolved func(txHash string, viaFallback bool)
	// Logger is required.
	Logger *log.Logger
}

// Tracker is the pending-transaction registry.
type Tracker struct {
	fallbackDelay time.Duration
	fallback      func(string, []grid.Point)
	onResolved    func(string, bool)
	logger        *log.Logger

	mu       sync.Mutex
	txs      map[string]*trackedTx
	points   map[grid.Point]string // point -> hash of the latest tx touching it
	stageSeq uint64
	closed   bool
}

type trackedTx struct {
	hash   string
	points map[grid.Point]struct{}
	timer  *time.Timer
	mined  bool
}

// New creates a Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.Fallback == nil {
		return nil, errors.New("fallback function is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = DefaultFallbackDelay
	}
	return &Tracker{
		fallbackDelay: opts.FallbackDelay,
		fallback:      opts.Fallback,
		onResolved:    opts.OnResolved,
		logger:        opts.Logger,
		txs:           make(map[string]*trackedTx),
		points:        make(map[grid.Point]string),
	}, nil
}

// Track registers a submitted transaction and marks its points pending.
// A point already pending under an earlier transaction moves to the new one;
// the later submission is the one whose effect will land last.
func (t *Tracker) Track(txHash string, points []grid.Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.trackLocked(txHash, points)
}

// Stage marks points pending before their transaction hash exists, so an
// event racing the write call still finds them. The returned id goes to
// Commit once the write returns a hash, or to Abort if it fails. Returns ""
// when the tracker is closed.
func (t *Tracker) Stage(points []grid.Point) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ""
	}
	t.stageSeq++
	id := fmt.Sprintf("staged-%d", t.stageSeq)
	t.trackLocked(id, points)
	return id
}

// Commit rekeys a staged submission to its transaction hash. Points already
// confirmed while the write was in flight stay confirmed.
func (t *Tracker) Commit(stagedID, txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.txs[stagedID]
	if !ok {
		return ErrUnknownTx
	}
	delete(t.txs, stagedID)
	tx.hash = txHash
	t.txs[txHash] = tx
	for p := range tx.points {
		if t.points[p] == stagedID {
			t.points[p] = txHash
		}
	}
	return nil
}

func (t *Tracker) trackLocked(txHash string, points []grid.Point) {
	tx := &trackedTx{hash: txHash, points: make(map[grid.Point]struct{}, len(points))}
	for _, p := range points {
		if prevHash, ok := t.points[p]; ok && prevHash != txHash {
			if prev := t.txs[prevHash]; prev != nil {
				delete(prev.points, p)
				t.maybeResolveLocked(prev, false)
			}
		}
		tx.points[p] = struct{}{}
		t.points[p] = txHash
	}
	t.txs[txHash] = tx
}

// Abort drops a transaction that failed before taking effect (revert or
// wallet rejection) and clears its pending marks.
func (t *Tracker) Abort(txHash string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.txs[txHash]
	if !ok {
		return
	}
	t.removeLocked(tx)
}

// ReceiptMined records that the transaction is on chain and starts its
// fallback timer. If events already confirmed every point, the transaction
// resolves immediately.
func (t *Tracker) ReceiptMined(txHash string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.txs[txHash]
	if !ok {
		return ErrUnknownTx
	}
	tx.mined = true
	if t.maybeResolveLocked(tx, false) {
		return nil
	}
	tx.timer = time.AfterFunc(t.fallbackDelay, func() { t.fire(txHash) })
	return nil
}

// ConfirmPoint records that a confirmed contract event covered the point.
// Confirming a point that is not pending is a no-op.
func (t *Tracker) ConfirmPoint(p grid.Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	txHash, ok := t.points[p]
	if !ok {
		return
	}
	delete(t.points, p)

	tx := t.txs[txHash]
	if tx == nil {
		return
	}
	delete(tx.points, p)
	t.maybeResolveLocked(tx, false)
}

// IsPending reports whether the point has an unconfirmed transaction.
func (t *Tracker) IsPending(p grid.Point) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.points[p]
	return ok
}

// Pending returns every point with an unconfirmed transaction.
func (t *Tracker) Pending() []grid.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]grid.Point, 0, len(t.points))
	for p := range t.points {
		out = append(out, p)
	}
	return out
}

// ActiveTxs returns the number of unresolved transactions.
func (t *Tracker) ActiveTxs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.txs)
}

// Close cancels every fallback timer. Pending marks are left in place; the
// process is shutting down.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, tx := range t.txs {
		if tx.timer != nil {
			tx.timer.Stop()
		}
	}
}

// fire is the fallback timer body. It clears the transaction's remaining
// points and hands them to the fallback re-reader.
func (t *Tracker) fire(txHash string) {
	t.mu.Lock()
	tx, ok := t.txs[txHash]
	if !ok || t.closed {
		t.mu.Unlock()
		return
	}
	remaining := make([]grid.Point, 0, len(tx.points))
	for p := range tx.points {
		remaining = append(remaining, p)
	}
	t.removeLocked(tx)
	t.mu.Unlock()

	t.logger.Printf("tx %s: no events for %d pixel(s) after %v, re-reading", txHash, len(remaining), t.fallbackDelay)
	t.fallback(txHash, remaining)
	if t.onResolved != nil {
		t.onResolved(txHash, true)
	}
}

// maybeResolveLocked finishes a mined transaction whose point set drained.
func (t *Tracker) maybeResolveLocked(tx *trackedTx, viaFallback bool) bool {
	if !tx.mined || len(tx.points) != 0 {
		return false
	}
	t.removeLocked(tx)
	if t.onResolved != nil {
		// The observer may call back into the tracker.
		go t.onResolved(tx.hash, viaFallback)
	}
	return true
}

func (t *Tracker) removeLocked(tx *trackedTx) {
	if tx.timer != nil {
		tx.timer.Stop()
	}
	for p := range tx.points {
		if t.points[p] == tx.hash {
			delete(t.points, p)
		}
	}
	delete(t.txs, tx.hash)
}
