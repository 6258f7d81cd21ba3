package signalr_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/internal/transport/signalr"
)

const rs = "\x1e"

// hub is a minimal SignalR JSON hub. Each accepted connection completes the
// handshake and then writes the scripted messages.
type hub struct {
	script []string
	pings  atomic.Int32
	token  atomic.Value
	auth   atomic.Value
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	h.token.Store(token)
	h.auth.Store(r.Header.Get("Authorization"))
	if token == "bad" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	up := websocket.Upgrader{}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	if _, _, err := ws.ReadMessage(); err != nil {
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{}"+rs)); err != nil {
		return
	}
	for _, msg := range h.script {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, rec := range strings.Split(string(data), rs) {
			var f struct {
				Type int `json:"type"`
			}
			if json.Unmarshal([]byte(rec), &f) == nil && f.Type == 6 {
				h.pings.Add(1)
			}
		}
	}
}

func start(t *testing.T, h *hub) *signalr.Dialer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return signalr.NewDialer(srv.URL+"/hubs/chat", zerolog.Nop())
}

func TestDialer_ReceivesInvocations(t *testing.T) {
	h := &hub{script: []string{
		`{"type":6}` + rs + `{"type":1,"target":"ReceiveMessage","arguments":[12,"hello"]}` + rs,
		`{"type":1,"target":"SomethingElse","arguments":[]}` + rs,
		`{"type":1,"target":"ReceiveMessage","arguments":["7","hi","3"]}` + rs,
	}}
	d := start(t, h)

	ch, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	assert.Equal(t, "tok", h.token.Load())
	assert.Equal(t, "Bearer tok", h.auth.Load())

	ev, err := ch.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.Event{FromID: "12", Body: "hello"}, ev)

	ev, err = ch.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.Event{FromID: "7", ToID: "3", Body: "hi"}, ev)
}

func TestDialer_Unauthorized(t *testing.T) {
	d := start(t, &hub{})

	_, err := d.Dial(context.Background(), "bad")
	require.ErrorIs(t, err, transport.ErrAuthRejected)
}

func TestDialer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := signalr.NewDialer(url, zerolog.Nop()).Dial(context.Background(), "tok")
	require.ErrorIs(t, err, transport.ErrNetworkUnavailable)
}

func TestDialer_CloseFrameDropsChannel(t *testing.T) {
	h := &hub{script: []string{`{"type":7,"error":"server shutting down"}` + rs}}
	d := start(t, h)

	ch, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	_, err = ch.Receive(context.Background())
	require.ErrorIs(t, err, transport.ErrNetworkUnavailable)
	assert.Contains(t, err.Error(), "server shutting down")
}

func TestDialer_SendsKeepAlivePings(t *testing.T) {
	h := &hub{}
	d := start(t, h).WithKeepAlive(5*time.Millisecond, time.Second)

	ch, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	require.Eventually(t, func() bool { return h.pings.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestDialer_ReceiveStopsOnCancel(t *testing.T) {
	d := start(t, &hub{})

	ch, err := d.Dial(context.Background(), "tok")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := ch.Receive(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}

	assert.NoError(t, ch.Close())
}
