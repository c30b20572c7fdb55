package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"pixel-canvas/internal/chain"
)

// Contract event names.
const (
	EventTransfer     = "Transfer"
	EventColorUpdated = "ColorUpdated"
)

// ZeroAddress is the from address of mint transfers.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// TransferEvent is a decoded ERC-721 Transfer log.
type TransferEvent struct {
	From        string `json:"from"`
	To          string `json:"to"`
	TokenID     int64  `json:"tokenId"`
	TxHash      string `json:"-"`
	BlockNumber uint64 `json:"-"`
}

// IsMint reports whether the transfer is a fresh mint.
func (e TransferEvent) IsMint() bool {
	return strings.EqualFold(e.From, ZeroAddress)
}

// ColorUpdatedEvent is a decoded repaint log.
type ColorUpdatedEvent struct {
	TokenID     int64  `json:"tokenId"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	Color       string `json:"color"`
	Owner       string `json:"owner"`
	TxHash      string `json:"-"`
	BlockNumber uint64 `json:"-"`
}

// DecodeTransfers decodes Transfer logs, skipping entries of other events.
func DecodeTransfers(logs []chain.EventLog) ([]TransferEvent, error) {
	var events []TransferEvent
	for _, l := range logs {
		if l.Event != EventTransfer {
			continue
		}
		var ev TransferEvent
		if err := json.Unmarshal(l.Args, &ev); err != nil {
			return nil, fmt.Errorf("decode Transfer args in tx %s: %w", l.TxHash, err)
		}
		ev.TxHash = l.TxHash
		ev.BlockNumber = l.BlockNumber
		events = append(events, ev)
	}
	return events, nil
}

// DecodeColorUpdates decodes ColorUpdated logs, skipping other events.
func DecodeColorUpdates(logs []chain.EventLog) ([]ColorUpdatedEvent, error) {
	var events []ColorUpdatedEvent
	for _, l := range logs {
		if l.Event != EventColorUpdated {
			continue
		}
		var ev ColorUpdatedEvent
		if err := json.Unmarshal(l.Args, &ev); err != nil {
			return nil, fmt.Errorf("decode ColorUpdated args in tx %s: %w", l.TxHash, err)
		}
		ev.TxHash = l.TxHash
		ev.BlockNumber = l.BlockNumber
		events = append(events, ev)
	}
	return events, nil
}
