package transport_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/internal/transport/transporttest"
)

const waitFor = 2 * time.Second

func fastOptions() transport.Options {
	return transport.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

// recorder collects events and statuses from link handlers.
type recorder struct {
	mu       sync.Mutex
	events   []transport.Event
	statuses []transport.Status
}

func (r *recorder) onMessage(ev transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) onStatus(st transport.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) Events() []transport.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Event(nil), r.events...)
}

func (r *recorder) States() []transport.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.State, len(r.statuses))
	for i, st := range r.statuses {
		out[i] = st.State
	}
	return out
}

func (r *recorder) LastStatus() transport.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return transport.Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func newLink(d transport.Dialer) (*transport.Link, *recorder) {
	rec := &recorder{}
	l := transport.NewLink(d, fastOptions(), zerolog.Nop())
	l.OnMessage(rec.onMessage)
	l.OnStatus(rec.onStatus)
	return l, rec
}

func TestLink_ConnectDeliversInOrder(t *testing.T) {
	dialer := transporttest.NewDialer()
	link, rec := newLink(dialer)
	t.Cleanup(func() { _ = link.Disconnect() })

	require.NoError(t, link.Connect(context.Background(), "tok"))
	assert.Equal(t, transport.StateConnected, link.State())

	ch := dialer.Last()
	for i := range 50 {
		ch.Push(transport.Event{FromID: "2", Body: fmt.Sprintf("m%d", i)})
	}

	require.Eventually(t, func() bool { return len(rec.Events()) == 50 }, waitFor, time.Millisecond)
	for i, ev := range rec.Events() {
		assert.Equal(t, fmt.Sprintf("m%d", i), ev.Body)
	}
	assert.Equal(t, []string{"tok"}, dialer.Tokens())
}

func TestLink_ConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
		want    error
	}{
		{
			name:    "auth rejected",
			dialErr: fmt.Errorf("%w: status 401", transport.ErrAuthRejected),
			want:    transport.ErrAuthRejected,
		},
		{
			name:    "network unavailable",
			dialErr: fmt.Errorf("%w: connection refused", transport.ErrNetworkUnavailable),
			want:    transport.ErrNetworkUnavailable,
		},
		{
			name:    "unclassified error is a network failure",
			dialErr: errors.New("boom"),
			want:    transport.ErrNetworkUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := transporttest.NewDialer(transporttest.Result{Err: tt.dialErr})
			link, rec := newLink(dialer)

			err := link.Connect(context.Background(), "tok")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, transport.StateIdle, link.State())
			assert.Equal(t, []transport.State{transport.StateConnecting, transport.StateIdle}, rec.States())

			// idle link can be retried
			require.NoError(t, link.Connect(context.Background(), "tok"))
			require.NoError(t, link.Disconnect())
		})
	}
}

func TestLink_ConnectTwiceFails(t *testing.T) {
	link, _ := newLink(transporttest.NewDialer())
	t.Cleanup(func() { _ = link.Disconnect() })

	require.NoError(t, link.Connect(context.Background(), "tok"))
	assert.Error(t, link.Connect(context.Background(), "tok"))
}

func TestLink_ReconnectsAfterDrop(t *testing.T) {
	dialer := transporttest.NewDialer(
		transporttest.Result{},
		transporttest.Result{Err: fmt.Errorf("%w: refused", transport.ErrNetworkUnavailable)},
		transporttest.Result{Err: errors.New("timeout")},
	)
	link, rec := newLink(dialer)
	t.Cleanup(func() { _ = link.Disconnect() })

	require.NoError(t, link.Connect(context.Background(), "tok"))
	first := dialer.Last()
	first.Push(transport.Event{FromID: "2", Body: "before"})
	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, waitFor, time.Millisecond)

	first.Drop(nil)

	require.Eventually(t, func() bool {
		return dialer.Connections() == 2 && link.State() == transport.StateConnected
	}, waitFor, time.Millisecond)
	assert.True(t, first.Closed())
	assert.Equal(t, []string{"tok", "tok", "tok", "tok"}, dialer.Tokens())
	assert.Contains(t, rec.States(), transport.StateReconnecting)
	require.Eventually(t, func() bool { return rec.LastStatus().Attempt == 3 }, waitFor, time.Millisecond)

	// the same handler stays subscribed on the new channel
	dialer.Last().Push(transport.Event{FromID: "2", Body: "after"})
	require.Eventually(t, func() bool { return len(rec.Events()) == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, "after", rec.Events()[1].Body)
}

func TestLink_ReconnectRejectedIsTerminal(t *testing.T) {
	dialer := transporttest.NewDialer(
		transporttest.Result{},
		transporttest.Result{Err: fmt.Errorf("%w: token expired", transport.ErrAuthRejected)},
	)
	link, rec := newLink(dialer)
	t.Cleanup(func() { _ = link.Disconnect() })

	require.NoError(t, link.Connect(context.Background(), "tok"))
	dialer.Last().Drop(nil)

	require.Eventually(t, func() bool {
		return rec.LastStatus().State == transport.StateDisconnected
	}, waitFor, time.Millisecond)
	assert.Equal(t, transport.StateDisconnected, link.State())
	assert.ErrorIs(t, rec.LastStatus().Err, transport.ErrAuthRejected)

	// no further dial attempts
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, dialer.Tokens(), 2)
}

func TestLink_DisconnectStopsDelivery(t *testing.T) {
	dialer := transporttest.NewDialer()
	link, rec := newLink(dialer)

	require.NoError(t, link.Connect(context.Background(), "tok"))
	ch := dialer.Last()

	require.NoError(t, link.Disconnect())
	assert.Equal(t, transport.StateDisconnected, link.State())
	assert.True(t, ch.Closed())

	ch.Push(transport.Event{FromID: "2", Body: "stale"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.Events())

	// idempotent and terminal
	require.NoError(t, link.Disconnect())
	require.ErrorIs(t, link.Connect(context.Background(), "tok"), transport.ErrClosed)
	assert.Equal(t, transport.StateDisconnected, rec.LastStatus().State)
}

func TestLink_DisconnectWaitsForRunningHandler(t *testing.T) {
	dialer := transporttest.NewDialer()
	link := transport.NewLink(dialer, fastOptions(), zerolog.Nop())

	started := make(chan struct{})
	var once sync.Once
	var finished, calls atomic.Int32
	link.OnMessage(func(transport.Event) {
		calls.Add(1)
		once.Do(func() { close(started) })
		time.Sleep(30 * time.Millisecond)
		finished.Store(1)
	})

	require.NoError(t, link.Connect(context.Background(), "tok"))
	dialer.Last().Push(transport.Event{FromID: "2", Body: "slow"})
	dialer.Last().Push(transport.Event{FromID: "2", Body: "never"})

	<-started
	require.NoError(t, link.Disconnect())
	assert.Equal(t, int32(1), finished.Load(), "handler completed before Disconnect returned")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLink_OnMessageReplacesHandler(t *testing.T) {
	dialer := transporttest.NewDialer()
	link := transport.NewLink(dialer, fastOptions(), zerolog.Nop())
	t.Cleanup(func() { _ = link.Disconnect() })

	var first, second atomic.Int32
	link.OnMessage(func(transport.Event) { first.Add(1) })
	link.OnMessage(func(transport.Event) { second.Add(1) })

	require.NoError(t, link.Connect(context.Background(), "tok"))
	dialer.Last().Push(transport.Event{FromID: "2", Body: "x"})

	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", transport.StateConnected.String())
	assert.Equal(t, "reconnecting", transport.StateReconnecting.String())
	assert.Equal(t, "state(42)", transport.State(42).String())
}
