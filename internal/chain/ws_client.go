package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSClient implements Watcher over the wallet gateway's WebSocket endpoint.
// There is no automatic reconnect: on a broken connection every watcher's
// onError fires once and the client stays down, so the event listener can
// disable itself and fall back to timer-based reconciliation.
type WSClient struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps subscription ID to its callbacks
	subs   map[int64]*wsSubscription
	subsMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

type wsSubscription struct {
	onLogs  func([]EventLog)
	onError func(error)
}

// NewWSClient creates a WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		subs:        make(map[int64]*wsSubscription),
		pendingSubs: make(map[uint64]chan int64),
		done:        make(chan struct{}),
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

var _ Watcher = (*WSClient)(nil)

// wsRequest is a JSON-RPC 2.0 request frame.
type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// wsSubscribeResponse confirms a subscription with its ID.
type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"`
}

// wsNotification is a pushed event batch.
type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64      `json:"subscription"`
	Logs         []EventLog `json:"logs"`
}

// WatchEvent subscribes to an event stream. onLogs receives each pushed
// batch; onError fires once if the connection fails. The returned function
// cancels the subscription.
func (c *WSClient) WatchEvent(ctx context.Context, filter EventFilter, onLogs func([]EventLog), onError func(error)) (func(), error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "watchContractEvent",
		Params:  []any{filter},
	}

	confirmCh := make(chan int64, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.writeJSON(req); err != nil {
		dropPending()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	var subID int64
	select {
	case subID = <-confirmCh:
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return nil, fmt.Errorf("subscription timeout after %v", c.config.SubscribeTimeout)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	case <-ctx.Done():
		dropPending()
		return nil, ctx.Err()
	}

	c.subsMu.Lock()
	c.subs[subID] = &wsSubscription{onLogs: onLogs, onError: onError}
	c.subsMu.Unlock()

	unsubscribe := func() {
		c.subsMu.Lock()
		_, active := c.subs[subID]
		delete(c.subs, subID)
		c.subsMu.Unlock()
		if !active || c.closed.Load() {
			return
		}
		_ = c.writeJSON(wsRequest{
			JSONRPC: "2.0",
			ID:      c.requestID.Add(1),
			Method:  "unwatchContractEvent",
			Params:  []any{subID},
		})
	}
	return unsubscribe, nil
}

func (c *WSClient) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// readLoop dispatches incoming frames to pending subscriptions and active
// watchers until the connection breaks or the client closes.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.failAll(fmt.Errorf("websocket read: %w", err))
			return
		}

		// Subscription confirmations carry an id; notifications a method.
		var confirm wsSubscribeResponse
		if err := json.Unmarshal(msg, &confirm); err == nil && confirm.ID != 0 {
			c.pendingSubsMu.Lock()
			ch, ok := c.pendingSubs[confirm.ID]
			if ok {
				delete(c.pendingSubs, confirm.ID)
			}
			c.pendingSubsMu.Unlock()
			if ok {
				ch <- confirm.Result
				continue
			}
		}

		var notif wsNotification
		if err := json.Unmarshal(msg, &notif); err != nil || notif.Params == nil {
			continue
		}
		if notif.Method != "eventNotification" {
			continue
		}

		c.subsMu.RLock()
		sub, ok := c.subs[notif.Params.Subscription]
		c.subsMu.RUnlock()
		if ok && len(notif.Params.Logs) > 0 {
			sub.onLogs(notif.Params.Logs)
		}
	}
}

// failAll reports the connection error to every watcher and shuts down.
func (c *WSClient) failAll(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[int64]*wsSubscription)
	c.subsMu.Unlock()

	for _, sub := range subs {
		if sub.onError != nil {
			sub.onError(err)
		}
	}
}

// pingLoop keeps the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return err
}
