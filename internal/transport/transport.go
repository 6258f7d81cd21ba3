// Package transport maintains the single live push channel for a chat
// session: connect, ordered inbound delivery, reconnection and teardown.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for transport operations.
var (
	ErrAuthRejected       = errors.New("auth rejected")
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNotConnected       = errors.New("not connected")
	ErrClosed             = errors.New("link closed")
)

// State is the lifecycle state of a Link.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is one inbound message pushed by the server. ToID is empty when the
// server does not include the recipient.
type Event struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId,omitempty"`
	Body   string `json:"body"`
}

// Status is a connectivity signal emitted on every state transition.
type Status struct {
	State   State
	Attempt int   // reconnect attempt, 0 outside Reconnecting
	Err     error // cause of the transition, if any
}

// Channel is one established connection to the push server.
type Channel interface {
	// Receive blocks until the next event arrives. It returns an error when
	// the channel drops or is closed.
	Receive(ctx context.Context) (Event, error)
	// Close releases the channel and unblocks a pending Receive. It may be
	// called more than once.
	Close() error
}

// Dialer establishes channels. Implementations must wrap authentication
// failures with ErrAuthRejected and transport failures with
// ErrNetworkUnavailable.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, token string) (Channel, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, token string) (Channel, error) {
	return f(ctx, token)
}
