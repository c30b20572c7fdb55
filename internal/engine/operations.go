package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/contract"
	"pixel-canvas/internal/grid"
	"pixel-canvas/internal/notify"
)

var (
	colorPattern   = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

func validateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return fmt.Errorf("invalid color %q, want #rgb or #rrggbb", color)
	}
	return nil
}

func validateAddress(addr string) error {
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("invalid address %q", addr)
	}
	return nil
}

// MintPixel mints one pixel and tracks the transaction until its effect is
// confirmed. Returns the transaction hash.
func (e *Engine) MintPixel(ctx context.Context, p grid.Point, color string) (string, error) {
	if err := validateColor(color); err != nil {
		return "", err
	}
	return e.submit(ctx, "mint", []grid.Point{p}, func() (string, error) {
		return e.binding.Mint(ctx, p, color)
	})
}

// UpdatePixelColor repaints one owned pixel.
func (e *Engine) UpdatePixelColor(ctx context.Context, p grid.Point, color string) (string, error) {
	if err := validateColor(color); err != nil {
		return "", err
	}
	return e.submit(ctx, "updateColor", []grid.Point{p}, func() (string, error) {
		return e.binding.UpdateColor(ctx, p, color)
	})
}

// ApprovePixel grants operator rights on one pixel.
func (e *Engine) ApprovePixel(ctx context.Context, p grid.Point, operator string) (string, error) {
	if err := validateAddress(operator); err != nil {
		return "", err
	}
	return e.submit(ctx, "approvePixel", nil, func() (string, error) {
		return e.binding.ApprovePixel(ctx, p, operator)
	})
}

// BatchApprove grants one operator rights on several pixels.
func (e *Engine) BatchApprove(ctx context.Context, points []grid.Point, operator string) (string, error) {
	if err := validateAddress(operator); err != nil {
		return "", err
	}
	return e.submit(ctx, "batchApprove", nil, func() (string, error) {
		return e.binding.BatchApprove(ctx, points, operator)
	})
}

// BatchApproveMultipleAddresses grants per-pixel operators in one
// transaction.
func (e *Engine) BatchApproveMultipleAddresses(ctx context.Context, points []grid.Point, operators []string) (string, error) {
	for _, op := range operators {
		if err := validateAddress(op); err != nil {
			return "", err
		}
	}
	return e.submit(ctx, "batchApproveMultipleAddresses", nil, func() (string, error) {
		return e.binding.BatchApproveMultipleAddresses(ctx, points, operators)
	})
}

// ComposeRegion merges an owned rectangle into a composite token. Bounds
// are inclusive.
func (e *Engine) ComposeRegion(ctx context.Context, startX, startY, endX, endY int) (string, error) {
	return e.submit(ctx, "composePixels", nil, func() (string, error) {
		return e.binding.ComposePixels(ctx, startX, startY, endX, endY)
	})
}

// Select stages a pixel color in the draw selection. Selecting a point
// twice keeps the latest color. Points with a transaction in flight cannot
// be staged.
func (e *Engine) Select(p grid.Point, color string) error {
	if !e.binding.Codec().Contains(p) {
		return grid.ErrOutOfBounds
	}
	if err := validateColor(color); err != nil {
		return err
	}
	if e.tracker.IsPending(p) {
		return fmt.Errorf("pixel %s has a pending transaction", p.Key())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selection[p] = color
	return nil
}

// Deselect removes a point from the draw selection.
func (e *Engine) Deselect(p grid.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.selection, p)
}

// ClearSelection empties the draw selection.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selection = make(map[grid.Point]string)
}

// Selection returns the staged changes in row-major order.
func (e *Engine) Selection() []contract.PixelChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]contract.PixelChange, 0, len(e.selection))
	for p, color := range e.selection {
		out = append(out, contract.PixelChange{Point: p, Color: color})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Point.Y != out[j].Point.Y {
			return out[i].Point.Y < out[j].Point.Y
		}
		return out[i].Point.X < out[j].Point.X
	})
	return out
}

// CommitSelection submits the staged changes, splitting them into one batch
// mint for unminted pixels and one batch repaint for minted ones. The
// selection is cleared only for the parts that were submitted. Returns the
// transaction hashes.
func (e *Engine) CommitSelection(ctx context.Context) ([]string, error) {
	staged := e.Selection()
	if len(staged) == 0 {
		return nil, fmt.Errorf("selection is empty")
	}

	var mints, updates []contract.PixelChange
	for _, ch := range staged {
		if px, ok := e.store.Pixel(ch.Point); ok && px.Minted {
			updates = append(updates, ch)
			continue
		}
		mints = append(mints, ch)
	}

	var hashes []string
	if len(mints) > 0 {
		points := changePoints(mints)
		txHash, err := e.submit(ctx, "batchMint", points, func() (string, error) {
			return e.binding.BatchMint(ctx, mints)
		})
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, txHash)
		e.clearSelected(points)
	}
	if len(updates) > 0 {
		points := changePoints(updates)
		txHash, err := e.submit(ctx, "batchUpdateColor", points, func() (string, error) {
			return e.binding.BatchUpdateColor(ctx, updates)
		})
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, txHash)
		e.clearSelected(points)
	}
	return hashes, nil
}

func changePoints(changes []contract.PixelChange) []grid.Point {
	points := make([]grid.Point, len(changes))
	for i, ch := range changes {
		points[i] = ch.Point
	}
	return points
}

func (e *Engine) clearSelected(points []grid.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range points {
		delete(e.selection, p)
	}
}

// submit runs one write operation: mark the affected points pending, send
// the transaction, then confirm the receipt in the background. Points are
// staged before the write goes out, so an event arriving mid-submission
// still confirms them. A wallet rejection is reported as a cancellation,
// not an error state.
func (e *Engine) submit(ctx context.Context, operation string, points []grid.Point, write func() (string, error)) (string, error) {
	var staged string
	if len(points) > 0 {
		staged = e.tracker.Stage(points)
		e.observePending()
	}

	txHash, err := write()
	if err != nil {
		if staged != "" {
			e.tracker.Abort(staged)
			e.observePending()
		}
		if chain.IsUserRejected(err) {
			e.logger.Printf("%s cancelled in wallet", operation)
			e.notify(notify.LevelInfo, fmt.Sprintf("%s cancelled", operation), "")
			return "", err
		}
		e.logger.Printf("%s submit failed: %v", operation, err)
		e.notify(notify.LevelError, fmt.Sprintf("%s failed: %v", operation, err), "")
		return "", err
	}

	if e.metrics != nil {
		e.metrics.TxSubmitted.WithLabelValues(operation).Inc()
	}
	tracked := staged != ""
	if tracked {
		if err := e.tracker.Commit(staged, txHash); err != nil {
			e.logger.Printf("%s: staged points for %s resolved before commit", operation, txHash)
			tracked = false
		}
	}

	e.wg.Add(1)
	go e.awaitReceipt(operation, txHash, tracked)
	return txHash, nil
}

func (e *Engine) observePending() {
	if e.metrics != nil {
		e.metrics.PendingPixels.Set(float64(len(e.tracker.Pending())))
	}
}

// awaitReceipt resolves a submitted transaction's receipt.
func (e *Engine) awaitReceipt(operation, txHash string, tracked bool) {
	defer e.wg.Done()

	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	receipt, err := e.binding.WaitForReceipt(ctx, txHash)
	if err != nil {
		e.logger.Printf("%s receipt wait failed for %s: %v", operation, txHash, err)
		if tracked {
			e.tracker.Abort(txHash)
		}
		e.notify(notify.LevelError, fmt.Sprintf("%s confirmation failed", operation), txHash)
		return
	}

	if receipt.Status != chain.ReceiptSuccess {
		e.logger.Printf("%s reverted in tx %s", operation, txHash)
		if tracked {
			e.tracker.Abort(txHash)
		}
		if e.metrics != nil {
			e.metrics.TxResolved.WithLabelValues("abort").Inc()
		}
		e.notify(notify.LevelError, fmt.Sprintf("%s reverted", operation), txHash)
		return
	}

	e.notify(notify.LevelSuccess, fmt.Sprintf("%s confirmed", operation), txHash)
	if tracked {
		if err := e.tracker.ReceiptMined(txHash); err != nil {
			e.logger.Printf("%s receipt for %s arrived after resolution", operation, txHash)
		}
	}
}
