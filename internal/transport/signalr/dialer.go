package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quitline/carechat/internal/transport"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	// DefaultKeepAlive is how often the client pings the hub.
	DefaultKeepAlive = 15 * time.Second
	// DefaultServerTimeout is how long the client waits for any frame
	// before treating the connection as dropped.
	DefaultServerTimeout = 30 * time.Second
)

// Dialer connects to a SignalR hub endpoint. The zero value is not usable;
// construct with NewDialer.
type Dialer struct {
	hubURL        string
	keepAlive     time.Duration
	serverTimeout time.Duration
	ws            *websocket.Dialer
	log           zerolog.Logger
}

// NewDialer creates a dialer for the hub at hubURL. http and https URLs are
// rewritten to ws and wss.
func NewDialer(hubURL string, log zerolog.Logger) *Dialer {
	return &Dialer{
		hubURL:        hubURL,
		keepAlive:     DefaultKeepAlive,
		serverTimeout: DefaultServerTimeout,
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: log.With().Str("component", "signalr").Logger(),
	}
}

// WithKeepAlive sets the ping interval and server timeout.
func (d *Dialer) WithKeepAlive(keepAlive, serverTimeout time.Duration) *Dialer {
	if keepAlive > 0 {
		d.keepAlive = keepAlive
	}
	if serverTimeout > 0 {
		d.serverTimeout = serverTimeout
	}
	return d
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, token string) (transport.Channel, error) {
	target, err := d.endpoint(token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := d.ws.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: hub returned %d", transport.ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial hub: %w", transport.ErrNetworkUnavailable, err)
	}

	c := &conn{
		ws:      ws,
		timeout: d.serverTimeout,
		done:    make(chan struct{}),
		log:     d.log,
	}

	if err := c.handshake(ctx); err != nil {
		_ = ws.Close()
		return nil, err
	}

	go c.keepAlive(d.keepAlive)
	d.log.Debug().Str("hub", d.hubURL).Msg("hub connected")
	return c, nil
}

func (d *Dialer) endpoint(token string) (string, error) {
	u, err := url.Parse(d.hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// conn is one hub connection. Reads happen on the Receive caller's
// goroutine; writes are serialized by writeMu.
type conn struct {
	ws      *websocket.Conn
	timeout time.Duration
	log     zerolog.Logger

	writeMu sync.Mutex
	pending [][]byte

	once sync.Once
	done chan struct{}
}

func (c *conn) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.write(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		return fmt.Errorf("%w: send handshake: %w", transport.ErrNetworkUnavailable, err)
	}

	_ = c.ws.SetReadDeadline(deadline)
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: read handshake: %w", transport.ErrNetworkUnavailable, err)
	}

	records := split(data)
	if len(records) == 0 {
		return fmt.Errorf("%w: empty handshake response", transport.ErrNetworkUnavailable)
	}

	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return fmt.Errorf("%w: decode handshake: %w", transport.ErrNetworkUnavailable, err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: handshake: %s", transport.ErrNetworkUnavailable, resp.Error)
	}

	// frames batched with the handshake response
	c.pending = records[1:]
	return nil
}

// Receive implements transport.Channel.
func (c *conn) Receive(ctx context.Context) (transport.Event, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		for len(c.pending) > 0 {
			record := c.pending[0]
			c.pending = c.pending[1:]

			ev, ok, err := c.decode(record)
			if err != nil {
				return transport.Event{}, err
			}
			if ok {
				return ev, nil
			}
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(c.timeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return transport.Event{}, ctx.Err()
			}
			select {
			case <-c.done:
				return transport.Event{}, transport.ErrClosed
			default:
			}
			return transport.Event{}, fmt.Errorf("%w: read: %w", transport.ErrNetworkUnavailable, err)
		}
		c.pending = split(data)
	}
}

// decode returns ok=false for frames that carry no event.
func (c *conn) decode(record []byte) (transport.Event, bool, error) {
	var f frame
	if err := json.Unmarshal(record, &f); err != nil {
		c.log.Warn().Err(err).Msg("skipping malformed frame")
		return transport.Event{}, false, nil
	}

	switch f.Type {
	case typeInvocation:
		if f.Target != receiveTarget {
			c.log.Debug().Str("target", f.Target).Msg("ignoring invocation")
			return transport.Event{}, false, nil
		}
		ev, err := toEvent(f)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping invocation")
			return transport.Event{}, false, nil
		}
		return ev, true, nil
	case typePing:
		return transport.Event{}, false, nil
	case typeClose:
		if f.Error != "" {
			return transport.Event{}, false, fmt.Errorf("%w: hub closed: %s", transport.ErrNetworkUnavailable, f.Error)
		}
		return transport.Event{}, false, fmt.Errorf("%w: hub closed", transport.ErrNetworkUnavailable)
	default:
		return transport.Event{}, false, nil
	}
}

func (c *conn) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(frame{Type: typePing}); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *conn) write(v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close implements transport.Channel.
func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()

		err = c.ws.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
