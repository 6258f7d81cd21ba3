// Package transporttest provides in-memory channels and dialers for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/quitline/carechat/internal/transport"
)

// ErrDropped is returned by Receive after Drop is called without a cause.
var ErrDropped = errors.New("channel dropped")

// Channel is an in-memory transport.Channel fed by Push.
type Channel struct {
	events chan transport.Event
	drop   chan error
	closed chan struct{}
	once   sync.Once
}

// NewChannel creates an open channel.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan transport.Event, 64),
		drop:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

// Push queues an inbound event.
func (c *Channel) Push(ev transport.Event) {
	c.events <- ev
}

// Drop makes the next Receive fail with err, simulating a lost connection.
func (c *Channel) Drop(err error) {
	if err == nil {
		err = ErrDropped
	}
	select {
	case c.drop <- err:
	default:
	}
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Receive implements transport.Channel. Queued events are delivered before
// a pending drop.
func (c *Channel) Receive(ctx context.Context) (transport.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}

	select {
	case ev := <-c.events:
		return ev, nil
	case err := <-c.drop:
		return transport.Event{}, err
	case <-c.closed:
		return transport.Event{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Event{}, ctx.Err()
	}
}

// Close implements transport.Channel.
func (c *Channel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Result is a scripted outcome for one Dial call.
type Result struct {
	Channel *Channel
	Err     error
}

// Dialer hands out scripted results in order and fresh channels once the
// script is exhausted.
type Dialer struct {
	mu       sync.Mutex
	script   []Result
	tokens   []string
	channels []*Channel
}

// NewDialer creates a dialer that plays results in order.
func NewDialer(results ...Result) *Dialer {
	return &Dialer{script: results}
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, token string) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.tokens = append(d.tokens, token)

	var res Result
	if len(d.script) > 0 {
		res = d.script[0]
		d.script = d.script[1:]
	}
	if res.Err == nil && res.Channel == nil {
		res.Channel = NewChannel()
	}
	if res.Channel != nil && res.Err == nil {
		d.channels = append(d.channels, res.Channel)
	}
	d.mu.Unlock()

	if res.Err != nil {
		return nil, res.Err
	}
	return res.Channel, nil
}

// Tokens returns the tokens passed to every Dial call.
func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Last returns the most recently established channel, or nil.
func (d *Dialer) Last() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// Connections returns the number of successful dials.
func (d *Dialer) Connections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}
