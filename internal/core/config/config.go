// Package config handles configuration loading and validation for carechat.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds for the live push channel.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
)

// DefaultHubPath is appended to the server base url when no hub url is set.
const DefaultHubPath = "/hubs/chat"

// Config holds the application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Transport    TransportConfig    `yaml:"transport"`
	Conversation ConversationConfig `yaml:"conversation"`
	DataDir      string             `yaml:"-"` // set by caller, not from config file
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	BaseURL string        `yaml:"base_url"`
	HubURL  string        `yaml:"hub_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TransportConfig selects and tunes the live push channel.
type TransportConfig struct {
	Kind          string          `yaml:"kind"`
	NATSURL       string          `yaml:"nats_url"`
	SubjectPrefix string          `yaml:"subject_prefix"`
	KeepAlive     time.Duration   `yaml:"keep_alive"`
	ServerTimeout time.Duration   `yaml:"server_timeout"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the exponential backoff between reconnect attempts.
type ReconnectConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// ConversationConfig tunes message merging.
type ConversationConfig struct {
	// DedupWindow is how far apart a live push and a history record with the
	// same sender and body may be and still count as one message.
	DedupWindow time.Duration `yaml:"dedup_window"`
	// EchoTTL is how long a sent message waits for its server echo.
	EchoTTL time.Duration `yaml:"echo_ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:5000",
			Timeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			Kind:          TransportWebSocket,
			SubjectPrefix: "chat.inbox",
			KeepAlive:     15 * time.Second,
			ServerTimeout: 30 * time.Second,
			Reconnect: ReconnectConfig{
				Initial: 500 * time.Millisecond,
				Max:     30 * time.Second,
			},
		},
		Conversation: ConversationConfig{
			DedupWindow: 5 * time.Second,
			EchoTTL:     time.Minute,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaults.Server.BaseURL
	}
	if c.Server.HubURL == "" {
		c.Server.HubURL = c.Server.BaseURL + DefaultHubPath
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = defaults.Server.Timeout
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = defaults.Transport.Kind
	}
	if c.Transport.SubjectPrefix == "" {
		c.Transport.SubjectPrefix = defaults.Transport.SubjectPrefix
	}
	if c.Transport.KeepAlive == 0 {
		c.Transport.KeepAlive = defaults.Transport.KeepAlive
	}
	if c.Transport.ServerTimeout == 0 {
		c.Transport.ServerTimeout = defaults.Transport.ServerTimeout
	}
	if c.Transport.Reconnect.Initial == 0 {
		c.Transport.Reconnect.Initial = defaults.Transport.Reconnect.Initial
	}
	if c.Transport.Reconnect.Max == 0 {
		c.Transport.Reconnect.Max = defaults.Transport.Reconnect.Max
	}

	if c.Conversation.DedupWindow == 0 {
		c.Conversation.DedupWindow = defaults.Conversation.DedupWindow
	}
	if c.Conversation.EchoTTL == 0 {
		c.Conversation.EchoTTL = defaults.Conversation.EchoTTL
	}
}

// SessionFile returns the path to the stored login session.
func (c *Config) SessionFile() string {
	return filepath.Join(c.DataDir, "session.json")
}

// DraftsFile returns the path to the unsent drafts file.
func (c *Config) DraftsFile() string {
	return filepath.Join(c.DataDir, "drafts.json")
}
