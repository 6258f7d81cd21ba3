// Package natslink receives pushed chat messages from a NATS subject.
//
// Each user has an inbox subject "<prefix>.<selfId>". The server publishes
// one JSON payload per message: {"fromId": ..., "toId": ..., "body": ...}.
package natslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/pkg/jsonx"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty.
const DefaultSubjectPrefix = "chat.inbox"

// Config selects the server and the inbox subject. Timeout bounds the
// connection handshake.
type Config struct {
	URL           string
	SubjectPrefix string
	SelfID        string
	Timeout       time.Duration
}

// Dialer connects to NATS with the session token. Reconnection is left to
// transport.Link, so the client library's own reconnect is disabled.
type Dialer struct {
	cfg Config
	log zerolog.Logger
}

// NewDialer creates a dialer, filling in the default subject prefix and
// timeout.
func NewDialer(cfg Config, log zerolog.Logger) *Dialer {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dialer{
		cfg: cfg,
		log: log.With().Str("component", "natslink").Logger(),
	}
}

// Subject returns the inbox subject for the configured user.
func (d *Dialer) Subject() string {
	return d.cfg.SubjectPrefix + "." + d.cfg.SelfID
}

// Dial implements transport.Dialer. Cancelling ctx aborts the connect,
// including the protocol handshake.
func (d *Dialer) Dial(ctx context.Context, token string) (transport.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cd := &ctxDialer{ctx: ctx, timeout: d.cfg.Timeout}
	defer cd.release()

	opts := []nats.Option{
		nats.Name("carechat"),
		nats.Token(token),
		nats.Timeout(d.cfg.Timeout),
		nats.NoReconnect(),
		nats.SetCustomDialer(cd),
	}

	nc, err := nats.Connect(d.cfg.URL, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err)
	}

	sub, err := nc.SubscribeSync(d.Subject())
	if err != nil {
		nc.Close()
		return nil, classify(err)
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		nc.Close()
		return nil, classify(err)
	}

	d.log.Debug().Str("subject", d.Subject()).Msg("subscribed")
	return &channel{nc: nc, sub: sub, log: d.log}, nil
}

// ctxDialer opens TCP connections bound to ctx. A connection is closed if
// ctx ends before release is called.
type ctxDialer struct {
	ctx     context.Context
	timeout time.Duration
	stops   []func() bool
}

func (d *ctxDialer) Dial(network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(d.ctx, network, address)
	if err != nil {
		return nil, err
	}
	d.stops = append(d.stops, context.AfterFunc(d.ctx, func() { _ = conn.Close() }))
	return conn, nil
}

// release detaches established connections from ctx.
func (d *ctxDialer) release() {
	for _, stop := range d.stops {
		stop()
	}
	d.stops = nil
}

type channel struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	log    zerolog.Logger
	closed atomic.Bool
}

// Receive implements transport.Channel. Undecodable payloads are skipped.
func (c *channel) Receive(ctx context.Context) (transport.Event, error) {
	for {
		msg, err := c.sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return transport.Event{}, ctx.Err()
			}
			if c.closed.Load() {
				return transport.Event{}, transport.ErrClosed
			}
			return transport.Event{}, classify(err)
		}

		ev, err := Decode(msg.Data)
		if err != nil {
			c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("skipping payload")
			continue
		}
		return ev, nil
	}
}

// Close implements transport.Channel.
func (c *channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.sub.Unsubscribe()
	c.nc.Close()
	return nil
}

type payload struct {
	FromID jsonx.ID `json:"fromId"`
	ToID   jsonx.ID `json:"toId"`
	Body   string   `json:"body"`
}

// Decode parses one inbox payload.
func Decode(data []byte) (transport.Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return transport.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.FromID == "" {
		return transport.Event{}, errors.New("decode payload: missing fromId")
	}
	return transport.Event{
		FromID: p.FromID.String(),
		ToID:   p.ToID.String(),
		Body:   p.Body,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, nats.ErrAuthorization),
		errors.Is(err, nats.ErrAuthExpired),
		errors.Is(err, nats.ErrAuthRevoked),
		errors.Is(err, nats.ErrPermissionViolation):
		return fmt.Errorf("%w: %w", transport.ErrAuthRejected, err)
	default:
		return fmt.Errorf("%w: %w", transport.ErrNetworkUnavailable, err)
	}
}
