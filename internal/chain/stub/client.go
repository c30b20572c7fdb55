// Package stub provides an in-memory chain client that simulates the pixel
// contract for tests and offline runs.
package stub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"pixel-canvas/internal/chain"
)

// ZeroAddress is the mint source address in Transfer events.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

const compositeIDBase = 100000

// Client implements chain.Client and chain.Watcher against an in-memory
// contract simulation.
type Client struct {
	mu sync.Mutex

	// Canvas dimensions for token id arithmetic.
	Width  int
	Height int

	// Sender is the address writes are attributed to.
	Sender string

	owners     map[int64]string  // tokenID -> owner
	colors     map[string]string // "x-y" -> color
	operators  map[int64]string  // tokenID -> approved operator
	composites map[int64][]int64 // compositeID -> member tokenIDs

	txCounter     int
	nextComposite int64
	receipts      map[string]*chain.Receipt

	watchers map[string][]*watcher
	watchSeq int

	// ReadErr, if set, fails every read and multicall entry.
	ReadErr error
	// WriteErr, if set, fails every write.
	WriteErr error
	// AutoEmit dispatches Transfer/ColorUpdated events synchronously on
	// writes, simulating a healthy event subscription.
	AutoEmit bool
}

type watcher struct {
	id      int
	event   string
	onLogs  func([]chain.EventLog)
	onError func(error)
}

// NewClient creates a stub client for a width x height canvas.
func NewClient(width, height int) *Client {
	return &Client{
		Width:         width,
		Height:        height,
		Sender:        "0xStubSender000000000000000000000000000000",
		owners:        make(map[int64]string),
		colors:        make(map[string]string),
		operators:     make(map[int64]string),
		composites:    make(map[int64][]int64),
		nextComposite: compositeIDBase,
		receipts:      make(map[string]*chain.Receipt),
		watchers:      make(map[string][]*watcher),
	}
}

var _ chain.Client = (*Client)(nil)
var _ chain.Watcher = (*Client)(nil)

// SetPixel seeds a minted pixel.
func (c *Client) SetPixel(x, y int, color, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[c.tokenID(x, y)] = owner
	c.colors[pixelKey(x, y)] = color
}

func (c *Client) tokenID(x, y int) int64 {
	return int64(y)*int64(c.Width) + int64(x)
}

func pixelKey(x, y int) string {
	return fmt.Sprintf("%d-%d", x, y)
}

// ReadContract executes a read against the simulated contract.
func (c *Client) ReadContract(_ context.Context, call chain.Call) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	return c.read(call)
}

func (c *Client) read(call chain.Call) (json.RawMessage, error) {
	switch call.Function {
	case "ownerOf":
		id := argInt(call.Args, 0)
		owner, ok := c.owners[id]
		if !ok {
			return nil, &chain.RPCError{Code: 3, Message: "execution reverted: ERC721NonexistentToken"}
		}
		return marshal(owner)

	case "getColor":
		x, y := argInt(call.Args, 0), argInt(call.Args, 1)
		color, ok := c.colors[pixelKey(int(x), int(y))]
		if !ok {
			return nil, &chain.RPCError{Code: 3, Message: "execution reverted: pixel not minted"}
		}
		return marshal(color)

	case "totalMinted":
		return marshal(len(c.owners))

	case "tokenURI":
		id := argInt(call.Args, 0)
		if _, ok := c.owners[id]; !ok {
			return nil, &chain.RPCError{Code: 3, Message: "execution reverted: ERC721NonexistentToken"}
		}
		return marshal(c.tokenURI(id))

	case "contractURI":
		return marshal(encodeDataURI(map[string]any{
			"name":        "Pixel Canvas",
			"description": fmt.Sprintf("A %dx%d on-chain pixel canvas", c.Width, c.Height),
		}))

	case "isPixelAuthorized":
		x, y := argInt(call.Args, 0), argInt(call.Args, 1)
		addr := argString(call.Args, 2)
		id := c.tokenID(int(x), int(y))
		authorized := strings.EqualFold(c.owners[id], addr) || strings.EqualFold(c.operators[id], addr)
		return marshal(authorized)

	case "getMintedPixelsInRange":
		sx, sy := argInt(call.Args, 0), argInt(call.Args, 1)
		ex, ey := argInt(call.Args, 2), argInt(call.Args, 3)
		var ids []int64
		for y := sy; y < ey; y++ {
			for x := sx; x < ex; x++ {
				id := c.tokenID(int(x), int(y))
				if _, ok := c.owners[id]; ok {
					ids = append(ids, id)
				}
			}
		}
		return marshal(ids)

	case "getOwnedPixelsInArea":
		sx, sy := argInt(call.Args, 0), argInt(call.Args, 1)
		ex, ey := argInt(call.Args, 2), argInt(call.Args, 3)
		addr := argString(call.Args, 4)
		var ids []int64
		for y := sy; y < ey; y++ {
			for x := sx; x < ex; x++ {
				id := c.tokenID(int(x), int(y))
				if strings.EqualFold(c.owners[id], addr) {
					ids = append(ids, id)
				}
			}
		}
		return marshal(ids)

	case "getBatchTokenImages":
		raw := call.Args[0]
		ids := argInts(raw)
		images := make([]string, len(ids))
		exists := make([]bool, len(ids))
		for i, id := range ids {
			if _, ok := c.owners[id]; ok {
				images[i] = c.tokenImage(id)
				exists[i] = true
			}
		}
		return marshal([]any{images, exists})

	case "getCompositionInfo":
		id := argInt(call.Args, 0)
		members, ok := c.composites[id]
		if !ok {
			return nil, &chain.RPCError{Code: 3, Message: "execution reverted: not a composite"}
		}
		minX, minY := c.Width, c.Height
		maxX, maxY := 0, 0
		for _, m := range members {
			x := int(m % int64(c.Width))
			y := int(m / int64(c.Width))
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			if y > maxY {
				maxY = y
			}
		}
		return marshal([]any{members, minX, minY, maxX, maxY})

	default:
		return nil, &chain.RPCError{Code: -32601, Message: "unknown function " + call.Function}
	}
}

// Multicall executes calls individually; per-call failures become failed
// entries, they do not fail the batch.
func (c *Client) Multicall(_ context.Context, calls []chain.Call) ([]chain.CallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}

	results := make([]chain.CallResult, len(calls))
	for i, call := range calls {
		raw, err := c.read(call)
		if err != nil {
			results[i] = chain.CallResult{Success: false, Err: err.Error()}
			continue
		}
		results[i] = chain.CallResult{Success: true, Result: raw}
	}
	return results, nil
}

// WriteContract applies a state-changing call and returns a synthetic hash.
func (c *Client) WriteContract(_ context.Context, call chain.Call) (string, error) {
	c.mu.Lock()
	if c.WriteErr != nil {
		c.mu.Unlock()
		return "", c.WriteErr
	}

	var logs []chain.EventLog
	var err error

	switch call.Function {
	case "mint":
		logs, err = c.mint(argInt(call.Args, 0), argInt(call.Args, 1), argString(call.Args, 2))
	case "updateColor":
		logs, err = c.updateColor(argInt(call.Args, 0), argInt(call.Args, 1), argString(call.Args, 2))
	case "batchMint":
		logs, err = c.batchApply(call.Args, c.mint)
	case "batchUpdateColor":
		logs, err = c.batchApply(call.Args, c.updateColor)
	case "approvePixel":
		c.operators[c.tokenID(int(argInt(call.Args, 0)), int(argInt(call.Args, 1)))] = argString(call.Args, 2)
	case "batchApprove":
		xs, ys := argInts(call.Args[0]), argInts(call.Args[1])
		op := argString(call.Args, 2)
		for i := range xs {
			c.operators[c.tokenID(int(xs[i]), int(ys[i]))] = op
		}
	case "batchApproveMultipleAddresses":
		xs, ys := argInts(call.Args[0]), argInts(call.Args[1])
		ops := argStrings(call.Args[2])
		for i := range xs {
			c.operators[c.tokenID(int(xs[i]), int(ys[i]))] = ops[i]
		}
	case "composePixels":
		err = c.compose(int(argInt(call.Args, 0)), int(argInt(call.Args, 1)), int(argInt(call.Args, 2)), int(argInt(call.Args, 3)))
	default:
		err = &chain.RPCError{Code: -32601, Message: "unknown function " + call.Function}
	}

	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	c.txCounter++
	txHash := fmt.Sprintf("0xstub%08d", c.txCounter)
	c.receipts[txHash] = &chain.Receipt{TxHash: txHash, Status: chain.ReceiptSuccess, BlockNumber: uint64(c.txCounter)}
	for i := range logs {
		logs[i].TxHash = txHash
		logs[i].BlockNumber = uint64(c.txCounter)
	}
	autoEmit := c.AutoEmit
	c.mu.Unlock()

	if autoEmit {
		c.dispatch(logs)
	}
	return txHash, nil
}

func (c *Client) mint(x, y int64, color string) ([]chain.EventLog, error) {
	id := c.tokenID(int(x), int(y))
	if _, ok := c.owners[id]; ok {
		return nil, &chain.RPCError{Code: 3, Message: "execution reverted: pixel already minted"}
	}
	c.owners[id] = c.Sender
	c.colors[pixelKey(int(x), int(y))] = color
	return []chain.EventLog{transferLog(ZeroAddress, c.Sender, id)}, nil
}

func (c *Client) updateColor(x, y int64, color string) ([]chain.EventLog, error) {
	id := c.tokenID(int(x), int(y))
	owner, ok := c.owners[id]
	if !ok {
		return nil, &chain.RPCError{Code: 3, Message: "execution reverted: pixel not minted"}
	}
	if !strings.EqualFold(owner, c.Sender) && !strings.EqualFold(c.operators[id], c.Sender) {
		return nil, &chain.RPCError{Code: 3, Message: "execution reverted: not authorized"}
	}
	c.colors[pixelKey(int(x), int(y))] = color
	return []chain.EventLog{colorUpdatedLog(id, x, y, color, owner)}, nil
}

func (c *Client) batchApply(args []any, op func(x, y int64, color string) ([]chain.EventLog, error)) ([]chain.EventLog, error) {
	xs, ys := argInts(args[0]), argInts(args[1])
	colors := argStrings(args[2])
	if len(xs) != len(ys) || len(xs) != len(colors) {
		return nil, &chain.RPCError{Code: 3, Message: "execution reverted: length mismatch"}
	}
	var logs []chain.EventLog
	for i := range xs {
		l, err := op(xs[i], ys[i], colors[i])
		if err != nil {
			return nil, err
		}
		logs = append(logs, l...)
	}
	return logs, nil
}

func (c *Client) compose(startX, startY, endX, endY int) error {
	var members []int64
	for y := startY; y <= endY; y++ {
		for x := startX; x <= endX; x++ {
			id := c.tokenID(x, y)
			if !strings.EqualFold(c.owners[id], c.Sender) {
				return &chain.RPCError{Code: 3, Message: "execution reverted: region not fully owned"}
			}
			members = append(members, id)
		}
	}
	compositeID := c.nextComposite
	c.nextComposite++
	c.composites[compositeID] = members
	c.owners[compositeID] = c.Sender
	return nil
}

// WaitForReceipt returns the receipt recorded for the hash.
func (c *Client) WaitForReceipt(_ context.Context, txHash string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash)
	}
	return r, nil
}

// WatchEvent registers a watcher for the event name.
func (c *Client) WatchEvent(_ context.Context, filter chain.EventFilter, onLogs func([]chain.EventLog), onError func(error)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.watchSeq++
	w := &watcher{id: c.watchSeq, event: filter.Event, onLogs: onLogs, onError: onError}
	c.watchers[filter.Event] = append(c.watchers[filter.Event], w)

	unsubscribe := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ws := c.watchers[filter.Event]
		for i, cand := range ws {
			if cand.id == w.id {
				c.watchers[filter.Event] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
	}
	return unsubscribe, nil
}

// Emit pushes logs to the watchers of each log's event.
func (c *Client) Emit(logs []chain.EventLog) {
	c.dispatch(logs)
}

// FailWatchers reports an error to every watcher, simulating a broken
// subscription.
func (c *Client) FailWatchers(err error) {
	c.mu.Lock()
	var all []*watcher
	for _, ws := range c.watchers {
		all = append(all, ws...)
	}
	c.mu.Unlock()
	for _, w := range all {
		if w.onError != nil {
			w.onError(err)
		}
	}
}

func (c *Client) dispatch(logs []chain.EventLog) {
	byEvent := make(map[string][]chain.EventLog)
	for _, l := range logs {
		byEvent[l.Event] = append(byEvent[l.Event], l)
	}
	for event, batch := range byEvent {
		c.mu.Lock()
		ws := append([]*watcher(nil), c.watchers[event]...)
		c.mu.Unlock()
		for _, w := range ws {
			w.onLogs(batch)
		}
	}
}

// tokenURI builds the data-URI metadata the real contract emits.
func (c *Client) tokenURI(id int64) string {
	x := int(id % int64(c.Width))
	y := int(id / int64(c.Width))
	color := c.colors[pixelKey(x, y)]
	return encodeDataURI(map[string]any{
		"name":        fmt.Sprintf("Pixel (%d,%d)", x, y),
		"description": "One pixel of the on-chain canvas",
		"image":       c.tokenImage(id),
		"attributes": []map[string]any{
			{"trait_type": "X", "value": x},
			{"trait_type": "Y", "value": y},
			{"trait_type": "Color", "value": color},
		},
	})
}

func (c *Client) tokenImage(id int64) string {
	x := int(id % int64(c.Width))
	y := int(id / int64(c.Width))
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"><rect fill="%s"/></svg>`, c.colors[pixelKey(x, y)])
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}

func marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func encodeDataURI(v any) string {
	data, _ := json.Marshal(v)
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(data)
}

func transferLog(from, to string, tokenID int64) chain.EventLog {
	args, _ := json.Marshal(map[string]any{"from": from, "to": to, "tokenId": tokenID})
	return chain.EventLog{Event: "Transfer", Args: args}
}

func colorUpdatedLog(tokenID, x, y int64, color, owner string) chain.EventLog {
	args, _ := json.Marshal(map[string]any{"tokenId": tokenID, "x": x, "y": y, "color": color, "owner": owner})
	return chain.EventLog{Event: "ColorUpdated", Args: args}
}

// Arg decoding helpers. Args arrive as native values in-process and as JSON
// numbers when round-tripped through the HTTP client.
func argInt(args []any, i int) int64 {
	return toInt64(args[i])
}

func argString(args []any, i int) string {
	s, _ := args[i].(string)
	return s
}

func argInts(v any) []int64 {
	switch vv := v.(type) {
	case []int64:
		return vv
	case []int:
		out := make([]int64, len(vv))
		for i, n := range vv {
			out[i] = int64(n)
		}
		return out
	case []any:
		out := make([]int64, len(vv))
		for i, n := range vv {
			out[i] = toInt64(n)
		}
		return out
	}
	return nil
}

func argStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, len(vv))
		for i, s := range vv {
			out[i], _ = s.(string)
		}
		return out
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
