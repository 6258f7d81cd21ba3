package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Options configures reconnection behavior.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultOptions returns the reconnection defaults.
func DefaultOptions() Options {
	return Options{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Link owns at most one live Channel at a time. It delivers inbound events
// sequentially to a single handler and redials with the same token when the
// channel drops.
//
// Handlers must not block for long and must not call Disconnect.
type Link struct {
	dialer Dialer
	opts   Options
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	token     string
	ch        Channel
	closed    bool
	done      chan struct{}
	onMessage func(Event)
	onStatus  func(Status)

	// dispatchMu serializes handler calls with Disconnect.
	dispatchMu sync.Mutex
	stopped    bool
}

// NewLink creates an idle link that dials through d.
func NewLink(d Dialer, opts Options, log zerolog.Logger) *Link {
	defaults := DefaultOptions()
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaults.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(defaults.MaxBackoff, opts.InitialBackoff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		dialer: d,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// OnMessage registers the inbound handler, replacing any previous one.
func (l *Link) OnMessage(h func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMessage = h
}

// OnStatus registers the connectivity handler, replacing any previous one.
func (l *Link) OnStatus(h func(Status)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = h
}

// State returns the current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connect dials the server with token. It returns an error wrapping
// ErrAuthRejected or ErrNetworkUnavailable on failure, leaving the link Idle
// so Connect can be retried.
func (l *Link) Connect(ctx context.Context, token string) error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return ErrClosed
	case l.state != StateIdle:
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("connect: link is %s", state)
	}
	l.state = StateConnecting
	l.token = token
	l.mu.Unlock()

	l.emit(Status{State: StateConnecting})

	dialCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(l.ctx, cancel)
	ch, err := l.dialer.Dial(dialCtx, token)
	stopAfter()
	cancel()

	if err != nil {
		err = classify(err)
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		l.state = StateIdle
		l.mu.Unlock()

		l.log.Warn().Err(err).Msg("connect failed")
		l.emit(Status{State: StateIdle, Err: err})
		return fmt.Errorf("connect: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = ch.Close()
		return ErrClosed
	}
	l.ch = ch
	l.state = StateConnected
	l.done = make(chan struct{})
	done := l.done
	l.mu.Unlock()

	l.log.Info().Msg("connected")
	l.emit(Status{State: StateConnected})

	go l.run(ch, done)
	return nil
}

// Disconnect closes the channel and stops reconnection. It is idempotent.
// Once it returns no handler is running and none will be invoked again.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state = StateDisconnected
	ch := l.ch
	l.ch = nil
	done := l.done
	l.mu.Unlock()

	l.cancel()

	var err error
	if ch != nil {
		err = ch.Close()
	}

	l.dispatchMu.Lock()
	l.callStatus(Status{State: StateDisconnected})
	l.stopped = true
	l.dispatchMu.Unlock()

	if done != nil {
		<-done
	}

	l.log.Info().Msg("disconnected")
	return err
}

// run pumps events from ch until it drops, then reconnects.
func (l *Link) run(ch Channel, done chan struct{}) {
	defer close(done)

	for ch != nil {
		err := l.pump(ch)
		if l.ctx.Err() != nil {
			return
		}
		l.log.Warn().Err(err).Msg("channel dropped")
		ch = l.reconnect(err)
	}
}

func (l *Link) pump(ch Channel) error {
	defer ch.Close() //nolint:errcheck

	for {
		ev, err := ch.Receive(l.ctx)
		if err != nil {
			return err
		}
		l.dispatch(ev)
	}
}

// reconnect redials with backoff until it succeeds, the link is closed, or
// the server rejects the token. It returns nil when the link should stop.
func (l *Link) reconnect(cause error) Channel {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateReconnecting
	l.ch = nil
	token := l.token
	l.mu.Unlock()

	l.emit(Status{State: StateReconnecting, Err: classify(cause)})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.InitialBackoff
	b.MaxInterval = l.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		timer.Reset(b.NextBackOff())
		select {
		case <-l.ctx.Done():
			return nil
		case <-timer.C:
		}

		ch, err := l.dialer.Dial(l.ctx, token)
		if err == nil {
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				_ = ch.Close()
				return nil
			}
			l.ch = ch
			l.state = StateConnected
			l.mu.Unlock()

			l.log.Info().Int("attempt", attempt).Msg("reconnected")
			l.emit(Status{State: StateConnected, Attempt: attempt})
			return ch
		}

		err = classify(err)
		if l.ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, ErrAuthRejected) {
			l.mu.Lock()
			l.state = StateDisconnected
			l.mu.Unlock()

			l.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect rejected")
			l.emit(Status{State: StateDisconnected, Attempt: attempt, Err: err})
			return nil
		}

		l.log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		l.emit(Status{State: StateReconnecting, Attempt: attempt, Err: err})
	}
}

func (l *Link) dispatch(ev Event) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	if l.stopped || l.ctx.Err() != nil {
		return
	}

	l.mu.Lock()
	h := l.onMessage
	l.mu.Unlock()

	if h != nil {
		h(ev)
	}
}

func (l *Link) emit(st Status) {
	l.dispatchMu.Lock()
	defer l.dispatchMu.Unlock()
	if l.stopped || l.ctx.Err() != nil {
		return
	}
	l.callStatus(st)
}

// callStatus invokes the status handler. Caller must hold dispatchMu.
func (l *Link) callStatus(st Status) {
	l.mu.Lock()
	h := l.onStatus
	l.mu.Unlock()

	if h != nil {
		h(st)
	}
}

// classify makes sure err carries one of the dial sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrNetworkUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
}
