// Package signalr dials the chat hub over WebSocket using the SignalR JSON
// hub protocol.
package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/pkg/jsonx"
)

const recordSeparator = 0x1e

// Hub message types used by the client.
const (
	typeInvocation = 1
	typePing       = 6
	typeClose      = 7
)

// receiveTarget is the hub method the server invokes to push a message.
const receiveTarget = "ReceiveMessage"

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

type frame struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// encode marshals v and terminates it with the record separator.
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// split breaks a WebSocket message into its records. A trailing partial
// record is ignored.
func split(data []byte) [][]byte {
	var out [][]byte
	for {
		i := bytes.IndexByte(data, recordSeparator)
		if i < 0 {
			return out
		}
		if i > 0 {
			out = append(out, data[:i])
		}
		data = data[i+1:]
	}
}

// toEvent converts a ReceiveMessage invocation. Arguments are
// [fromId, body] with an optional trailing toId.
func toEvent(f frame) (transport.Event, error) {
	if len(f.Arguments) < 2 {
		return transport.Event{}, fmt.Errorf("%s: want at least 2 arguments, got %d", f.Target, len(f.Arguments))
	}

	from, err := idString(f.Arguments[0])
	if err != nil {
		return transport.Event{}, fmt.Errorf("%s: fromId: %w", f.Target, err)
	}

	var body string
	if err := json.Unmarshal(f.Arguments[1], &body); err != nil {
		return transport.Event{}, fmt.Errorf("%s: body: %w", f.Target, err)
	}

	ev := transport.Event{FromID: from, Body: body}
	if len(f.Arguments) > 2 {
		to, err := idString(f.Arguments[2])
		if err != nil {
			return transport.Event{}, fmt.Errorf("%s: toId: %w", f.Target, err)
		}
		ev.ToID = to
	}
	return ev, nil
}

func idString(raw json.RawMessage) (string, error) {
	var id jsonx.ID
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	return id.String(), nil
}
