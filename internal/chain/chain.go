// Package chain defines the contract-RPC boundary the canvas core consumes.
// The wallet/session layer and the chain node behind it are external
// collaborators; the core only needs the call surface below.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Call is one contract invocation, read or write.
type Call struct {
	Address  string `json:"address"`
	Function string `json:"functionName"`
	Args     []any  `json:"args,omitempty"`
}

// CallResult is a per-call multicall outcome. A failed call carries the
// failure reason in Err and an empty Result.
type CallResult struct {
	Success bool
	Result  json.RawMessage
	Err     string
}

// ReceiptStatus is the final status of a mined transaction.
type ReceiptStatus string

// Receipt statuses.
const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is a mined transaction receipt.
type Receipt struct {
	TxHash      string        `json:"transactionHash"`
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"blockNumber"`
}

// EventLog is one decoded contract event entry. Args is the raw argument
// object; the contract package decodes it per event type.
type EventLog struct {
	Event       string          `json:"eventName"`
	Args        json.RawMessage `json:"args"`
	TxHash      string          `json:"transactionHash"`
	BlockNumber uint64          `json:"blockNumber"`
}

// EventFilter selects a contract event stream to watch.
type EventFilter struct {
	Address string `json:"address"`
	Event   string `json:"eventName"`
}

// Client is the read/write contract surface.
type Client interface {
	// ReadContract executes a single read-only call.
	ReadContract(ctx context.Context, call Call) (json.RawMessage, error)

	// Multicall executes calls in one batch and returns per-call outcomes.
	// The batch itself can fail; individual failures do not.
	Multicall(ctx context.Context, calls []Call) ([]CallResult, error)

	// WriteContract submits a state-changing transaction and returns its hash.
	WriteContract(ctx context.Context, call Call) (string, error)

	// WaitForReceipt blocks until the transaction is mined.
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Watcher subscribes to contract event streams. The returned function
// cancels the subscription.
type Watcher interface {
	WatchEvent(ctx context.Context, filter EventFilter, onLogs func([]EventLog), onError func(error)) (func(), error)
}

// userRejectedCode is the EIP-1193 error code for a declined signature.
const userRejectedCode = 4001

// ErrUserRejected is reported when the user declines to sign a transaction.
var ErrUserRejected = errors.New("user rejected the request")

// IsUserRejected reports whether the error is a wallet-side signature
// rejection, as opposed to a revert or transport failure.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == userRejectedCode
	}
	return strings.Contains(strings.ToLower(err.Error()), "user rejected")
}
