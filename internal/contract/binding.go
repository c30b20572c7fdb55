// Package contract is the typed binding for the pixel canvas contract. It
// translates grid coordinates into contract calls and decodes the results.
package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pixel-canvas/internal/chain"
	"pixel-canvas/internal/grid"
)

// DefaultColor is assumed for minted pixels whose color lookup failed.
const DefaultColor = "#ffffff"

// ErrNotMinted is returned when a read targets an unminted pixel.
var ErrNotMinted = errors.New("pixel not minted")

// Cell is the on-chain state of one pixel as seen by a chunk fetch.
// Minted false means the owner lookup reverted, so the pixel has no token.
type Cell struct {
	Point  grid.Point
	Owner  string
	Color  string
	Minted bool
}

// PixelChange pairs a coordinate with a color for batch writes.
type PixelChange struct {
	Point grid.Point
	Color string
}

// TokenImage is one entry of a batch image lookup.
type TokenImage struct {
	Image  string
	Exists bool
}

// CompositionInfo describes a composite token's member region.
type CompositionInfo struct {
	MemberIDs []int64
	StartX    int
	StartY    int
	EndX      int
	EndY      int
}

// Binding executes typed calls against one deployed canvas contract.
type Binding struct {
	client  chain.Client
	address string
	codec   grid.Codec
}

// NewBinding creates a binding for the contract at address.
func NewBinding(client chain.Client, address string, codec grid.Codec) (*Binding, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if address == "" {
		return nil, errors.New("contract address is required")
	}
	return &Binding{client: client, address: address, codec: codec}, nil
}

// Address returns the bound contract address.
func (b *Binding) Address() string {
	return b.address
}

// Codec returns the coordinate codec the binding was built with.
func (b *Binding) Codec() grid.Codec {
	return b.codec
}

func (b *Binding) call(function string, args ...any) chain.Call {
	return chain.Call{Address: b.address, Function: function, Args: args}
}

func (b *Binding) read(ctx context.Context, result any, function string, args ...any) error {
	raw, err := b.client.ReadContract(ctx, b.call(function, args...))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", function, err)
	}
	return nil
}

// isNonexistentToken reports whether an error is the contract's revert for a
// token that was never minted.
func isNonexistentToken(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonexistenttoken") || strings.Contains(msg, "not minted")
}

// OwnerOf returns the owner of the pixel, or ErrNotMinted.
func (b *Binding) OwnerOf(ctx context.Context, p grid.Point) (string, error) {
	tokenID, err := b.codec.Encode(p)
	if err != nil {
		return "", err
	}
	var owner string
	if err := b.read(ctx, &owner, "ownerOf", tokenID); err != nil {
		if isNonexistentToken(err) {
			return "", ErrNotMinted
		}
		return "", err
	}
	return owner, nil
}

// GetColor returns the pixel's color, or ErrNotMinted.
func (b *Binding) GetColor(ctx context.Context, p grid.Point) (string, error) {
	if !b.codec.Contains(p) {
		return "", grid.ErrOutOfBounds
	}
	var color string
	if err := b.read(ctx, &color, "getColor", p.X, p.Y); err != nil {
		if isNonexistentToken(err) {
			return "", ErrNotMinted
		}
		return "", err
	}
	return color, nil
}

// TotalMinted returns the number of minted pixel tokens.
func (b *Binding) TotalMinted(ctx context.Context) (int64, error) {
	var total int64
	if err := b.read(ctx, &total, "totalMinted"); err != nil {
		return 0, err
	}
	return total, nil
}

// TokenURI returns the raw token metadata URI.
func (b *Binding) TokenURI(ctx context.Context, tokenID int64) (string, error) {
	var uri string
	if err := b.read(ctx, &uri, "tokenURI", tokenID); err != nil {
		if isNonexistentToken(err) {
			return "", ErrNotMinted
		}
		return "", err
	}
	return uri, nil
}

// ContractURI returns the collection-level metadata URI.
func (b *Binding) ContractURI(ctx context.Context) (string, error) {
	var uri string
	if err := b.read(ctx, &uri, "contractURI"); err != nil {
		return "", err
	}
	return uri, nil
}

// IsPixelAuthorized reports whether addr may repaint the pixel.
func (b *Binding) IsPixelAuthorized(ctx context.Context, p grid.Point, addr string) (bool, error) {
	var authorized bool
	if err := b.read(ctx, &authorized, "isPixelAuthorized", p.X, p.Y, addr); err != nil {
		return false, err
	}
	return authorized, nil
}

// GetMintedPixelsInRange returns the minted points inside the half-open
// rectangle [startX,endX) x [startY,endY).
func (b *Binding) GetMintedPixelsInRange(ctx context.Context, startX, startY, endX, endY int) ([]grid.Point, error) {
	var ids []int64
	if err := b.read(ctx, &ids, "getMintedPixelsInRange", startX, startY, endX, endY); err != nil {
		return nil, err
	}
	return b.decodePoints(ids)
}

// GetOwnedPixelsInArea returns the points inside the rectangle owned by addr.
func (b *Binding) GetOwnedPixelsInArea(ctx context.Context, startX, startY, endX, endY int, addr string) ([]grid.Point, error) {
	var ids []int64
	if err := b.read(ctx, &ids, "getOwnedPixelsInArea", startX, startY, endX, endY, addr); err != nil {
		return nil, err
	}
	return b.decodePoints(ids)
}

func (b *Binding) decodePoints(ids []int64) ([]grid.Point, error) {
	points := make([]grid.Point, 0, len(ids))
	for _, id := range ids {
		p, err := b.codec.Decode(id)
		if err != nil {
			if errors.Is(err, grid.ErrCompositeToken) {
				continue
			}
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}

// GetBatchTokenImages returns image data for each token id in one call.
func (b *Binding) GetBatchTokenImages(ctx context.Context, tokenIDs []int64) ([]TokenImage, error) {
	// The contract returns a (string[], bool[]) pair.
	var pair []json.RawMessage
	if err := b.read(ctx, &pair, "getBatchTokenImages", tokenIDs); err != nil {
		return nil, err
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("getBatchTokenImages returned %d components, want 2", len(pair))
	}

	var images []string
	var exists []bool
	if err := json.Unmarshal(pair[0], &images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if err := json.Unmarshal(pair[1], &exists); err != nil {
		return nil, fmt.Errorf("decode existence flags: %w", err)
	}
	if len(images) != len(exists) || len(images) != len(tokenIDs) {
		return nil, fmt.Errorf("getBatchTokenImages length mismatch: %d images, %d flags, %d ids",
			len(images), len(exists), len(tokenIDs))
	}

	out := make([]TokenImage, len(images))
	for i := range images {
		out[i] = TokenImage{Image: images[i], Exists: exists[i]}
	}
	return out, nil
}

// GetCompositionInfo returns the member region of a composite token.
func (b *Binding) GetCompositionInfo(ctx context.Context, tokenID int64) (*CompositionInfo, error) {
	if !grid.IsComposite(tokenID) {
		return nil, fmt.Errorf("token %d is not a composite", tokenID)
	}
	var parts []json.RawMessage
	if err := b.read(ctx, &parts, "getCompositionInfo", tokenID); err != nil {
		return nil, err
	}
	if len(parts) != 5 {
		return nil, fmt.Errorf("getCompositionInfo returned %d components, want 5", len(parts))
	}

	info := &CompositionInfo{}
	if err := json.Unmarshal(parts[0], &info.MemberIDs); err != nil {
		return nil, fmt.Errorf("decode member ids: %w", err)
	}
	for i, dst := range []*int{&info.StartX, &info.StartY, &info.EndX, &info.EndY} {
		if err := json.Unmarshal(parts[i+1], dst); err != nil {
			return nil, fmt.Errorf("decode bounds: %w", err)
		}
	}
	return info, nil
}

// FetchChunk loads the full on-chain state of one chunk. It issues an owner
// multicall over every coordinate, then a color multicall over the minted
// ones. A failed owner lookup marks the cell unminted; a failed color lookup
// falls back to DefaultColor.
func (b *Binding) FetchChunk(ctx context.Context, desc grid.ChunkDescriptor) ([]Cell, error) {
	points := desc.Points()
	if len(points) == 0 {
		return nil, nil
	}

	ownerCalls := make([]chain.Call, len(points))
	for i, p := range points {
		tokenID, err := b.codec.Encode(p)
		if err != nil {
			return nil, err
		}
		ownerCalls[i] = b.call("ownerOf", tokenID)
	}
	ownerResults, err := b.client.Multicall(ctx, ownerCalls)
	if err != nil {
		return nil, fmt.Errorf("owner multicall for chunk %s: %w", desc.Key, err)
	}
	if len(ownerResults) != len(points) {
		return nil, fmt.Errorf("owner multicall returned %d results for %d points", len(ownerResults), len(points))
	}

	cells := make([]Cell, len(points))
	var mintedIdx []int
	for i, p := range points {
		cells[i] = Cell{Point: p}
		res := ownerResults[i]
		if !res.Success {
			continue
		}
		var owner string
		if err := json.Unmarshal(res.Result, &owner); err != nil {
			continue
		}
		cells[i].Owner = owner
		cells[i].Minted = true
		mintedIdx = append(mintedIdx, i)
	}

	if len(mintedIdx) == 0 {
		return cells, nil
	}

	colorCalls := make([]chain.Call, len(mintedIdx))
	for j, i := range mintedIdx {
		p := points[i]
		colorCalls[j] = b.call("getColor", p.X, p.Y)
	}
	colorResults, err := b.client.Multicall(ctx, colorCalls)
	if err != nil {
		return nil, fmt.Errorf("color multicall for chunk %s: %w", desc.Key, err)
	}
	if len(colorResults) != len(mintedIdx) {
		return nil, fmt.Errorf("color multicall returned %d results for %d points", len(colorResults), len(mintedIdx))
	}

	for j, i := range mintedIdx {
		cells[i].Color = DefaultColor
		res := colorResults[j]
		if !res.Success {
			continue
		}
		var color string
		if err := json.Unmarshal(res.Result, &color); err == nil && color != "" {
			cells[i].Color = color
		}
	}
	return cells, nil
}

// Mint submits a mint for one pixel and returns the transaction hash.
func (b *Binding) Mint(ctx context.Context, p grid.Point, color string) (string, error) {
	if !b.codec.Contains(p) {
		return "", grid.ErrOutOfBounds
	}
	return b.client.WriteContract(ctx, b.call("mint", p.X, p.Y, color))
}

// UpdateColor repaints one owned pixel and returns the transaction hash.
func (b *Binding) UpdateColor(ctx context.Context, p grid.Point, color string) (string, error) {
	if !b.codec.Contains(p) {
		return "", grid.ErrOutOfBounds
	}
	return b.client.WriteContract(ctx, b.call("updateColor", p.X, p.Y, color))
}

func splitChanges(changes []PixelChange) (xs, ys []int, colors []string) {
	xs = make([]int, len(changes))
	ys = make([]int, len(changes))
	colors = make([]string, len(changes))
	for i, ch := range changes {
		xs[i] = ch.Point.X
		ys[i] = ch.Point.Y
		colors[i] = ch.Color
	}
	return xs, ys, colors
}

// BatchMint mints several pixels in one transaction.
func (b *Binding) BatchMint(ctx context.Context, changes []PixelChange) (string, error) {
	if len(changes) == 0 {
		return "", errors.New("empty batch")
	}
	xs, ys, colors := splitChanges(changes)
	return b.client.WriteContract(ctx, b.call("batchMint", xs, ys, colors))
}

// BatchUpdateColor repaints several owned pixels in one transaction.
func (b *Binding) BatchUpdateColor(ctx context.Context, changes []PixelChange) (string, error) {
	if len(changes) == 0 {
		return "", errors.New("empty batch")
	}
	xs, ys, colors := splitChanges(changes)
	return b.client.WriteContract(ctx, b.call("batchUpdateColor", xs, ys, colors))
}

// ApprovePixel grants operator rights on one pixel.
func (b *Binding) ApprovePixel(ctx context.Context, p grid.Point, operator string) (string, error) {
	return b.client.WriteContract(ctx, b.call("approvePixel", p.X, p.Y, operator))
}

// BatchApprove grants one operator rights on several pixels.
func (b *Binding) BatchApprove(ctx context.Context, points []grid.Point, operator string) (string, error) {
	if len(points) == 0 {
		return "", errors.New("empty batch")
	}
	xs := make([]int, len(points))
	ys := make([]int, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return b.client.WriteContract(ctx, b.call("batchApprove", xs, ys, operator))
}

// BatchApproveMultipleAddresses grants per-pixel operators in one transaction.
func (b *Binding) BatchApproveMultipleAddresses(ctx context.Context, points []grid.Point, operators []string) (string, error) {
	if len(points) == 0 {
		return "", errors.New("empty batch")
	}
	if len(points) != len(operators) {
		return "", fmt.Errorf("%d points for %d operators", len(points), len(operators))
	}
	xs := make([]int, len(points))
	ys := make([]int, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return b.client.WriteContract(ctx, b.call("batchApproveMultipleAddresses", xs, ys, operators))
}

// ComposePixels merges an owned rectangle into a composite token. Bounds are
// inclusive.
func (b *Binding) ComposePixels(ctx context.Context, startX, startY, endX, endY int) (string, error) {
	if startX > endX || startY > endY {
		return "", fmt.Errorf("invalid region (%d,%d)-(%d,%d)", startX, startY, endX, endY)
	}
	return b.client.WriteContract(ctx, b.call("composePixels", startX, startY, endX, endY))
}

// WaitForReceipt blocks until the transaction is mined.
func (b *Binding) WaitForReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return b.client.WaitForReceipt(ctx, txHash)
}
