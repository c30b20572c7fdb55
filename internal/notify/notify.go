// Package notify carries user-facing status messages out of the engine.
package notify

import (
	"sync"
	"time"
)

// Level classifies a notification.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one user-facing message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	TxHash  string    `json:"txHash,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier receives notifications.
type Notifier interface {
	Notify(n Notification)
}

// Ring is a fixed-capacity in-memory notifier keeping the latest messages.
type Ring struct {
	mu      sync.Mutex
	entries []Notification
	next    int
	full    bool
}

// NewRing creates a ring notifier holding up to capacity messages.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 50
	}
	return &Ring{entries: make([]Notification, capacity)}
}

// Notify records a notification, evicting the oldest when full.
func (r *Ring) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = n
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns the stored notifications, oldest first.
func (r *Ring) Recent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Notification, r.next)
		copy(out, r.entries[:r.next])
		return out
	}
	out := make([]Notification, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
