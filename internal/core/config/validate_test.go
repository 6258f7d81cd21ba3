package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.applyDefaults()
	return &cfg
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	names := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		names[i] = fe.Field
	}
	return names
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:   "missing data dir",
			mutate: func(c *Config) { c.DataDir = "" },
			fields: []string{"data_dir"},
		},
		{
			name:   "base url without scheme",
			mutate: func(c *Config) { c.Server.BaseURL = "example.com/api" },
			fields: []string{"server.base_url"},
		},
		{
			name:   "websocket hub url",
			mutate: func(c *Config) { c.Server.HubURL = "wss://chat.example.com/hubs/chat" },
		},
		{
			name:   "unknown transport",
			mutate: func(c *Config) { c.Transport.Kind = "grpc" },
			fields: []string{"transport.kind"},
		},
		{
			name:   "nats without url",
			mutate: func(c *Config) { c.Transport.Kind = TransportNATS },
			fields: []string{"transport.nats_url"},
		},
		{
			name: "nats with url",
			mutate: func(c *Config) {
				c.Transport.Kind = TransportNATS
				c.Transport.NATSURL = "nats://127.0.0.1:4222"
			},
		},
		{
			name: "backoff bounds inverted",
			mutate: func(c *Config) {
				c.Transport.Reconnect.Initial = time.Minute
				c.Transport.Reconnect.Max = time.Second
			},
			fields: []string{"transport.reconnect.max"},
		},
		{
			name: "server timeout shorter than keep alive",
			mutate: func(c *Config) {
				c.Transport.KeepAlive = time.Minute
				c.Transport.ServerTimeout = time.Second
			},
			fields: []string{"transport.server_timeout"},
		},
		{
			name: "several problems",
			mutate: func(c *Config) {
				c.DataDir = ""
				c.Conversation.DedupWindow = -time.Second
			},
			fields: []string{"data_dir", "conversation.dedup_window"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.fields, fieldNames(t, err))
		})
	}
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(cfg.DataDir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.DataDir = file

	err := cfg.ValidateDeep("")
	assert.Equal(t, []string{"data_dir"}, fieldNames(t, err))
}

func TestValidateDeep_ConfigPathIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())
	assert.Equal(t, []string{"config"}, fieldNames(t, err))
}

func TestValidateDeep_MissingConfigFileIsFine(t *testing.T) {
	cfg := validConfig(t)
	assert.NoError(t, cfg.ValidateDeep(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestWarnings(t *testing.T) {
	cfg := validConfig(t)
	assert.Empty(t, cfg.Warnings())

	cfg.Server.BaseURL = "http://chat.example.com"
	cfg.Transport.NATSURL = "nats://127.0.0.1:4222"
	cfg.Transport.Reconnect.Max = time.Hour

	var items []string
	for _, w := range cfg.Warnings() {
		items = append(items, w.Item)
	}
	assert.Equal(t, []string{"base_url", "nats_url", "reconnect.max"}, items)
}
