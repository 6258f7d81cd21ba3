package signalr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quitline/carechat/internal/transport"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "single", in: "{}\x1e", want: []string{"{}"}},
		{name: "batched", in: "{\"type\":6}\x1e{\"type\":1}\x1e", want: []string{`{"type":6}`, `{"type":1}`}},
		{name: "partial tail dropped", in: "{}\x1e{\"ty", want: []string{"{}"}},
		{name: "empty records skipped", in: "\x1e\x1e{}\x1e", want: []string{"{}"}},
		{name: "nothing", in: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, r := range split([]byte(tt.in)) {
				got = append(got, string(r))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeTerminatesRecord(t *testing.T) {
	data, err := encode(handshakeRequest{Protocol: "json", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "{\"protocol\":\"json\",\"version\":1}\x1e", string(data))
}

func TestToEvent(t *testing.T) {
	args := func(raw ...string) []json.RawMessage {
		out := make([]json.RawMessage, len(raw))
		for i, r := range raw {
			out[i] = json.RawMessage(r)
		}
		return out
	}

	tests := []struct {
		name    string
		args    []json.RawMessage
		want    transport.Event
		wantErr bool
	}{
		{
			name: "numeric sender",
			args: args(`42`, `"hello"`),
			want: transport.Event{FromID: "42", Body: "hello"},
		},
		{
			name: "string ids with recipient",
			args: args(`"7"`, `"hi there"`, `"3"`),
			want: transport.Event{FromID: "7", ToID: "3", Body: "hi there"},
		},
		{
			name: "numeric recipient",
			args: args(`7`, `"x"`, `3`),
			want: transport.Event{FromID: "7", ToID: "3", Body: "x"},
		},
		{
			name:    "missing body",
			args:    args(`7`),
			wantErr: true,
		},
		{
			name:    "body not a string",
			args:    args(`7`, `{"a":1}`),
			wantErr: true,
		},
		{
			name:    "sender not an id",
			args:    args(`[1]`, `"x"`),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toEvent(frame{Type: typeInvocation, Target: receiveTarget, Arguments: tt.args})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
