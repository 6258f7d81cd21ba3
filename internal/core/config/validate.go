package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Validate checks that the configuration is usable. Every problem is
// reported as a criterio field error.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if c.DataDir == "" {
		errs = errs.Append("data_dir", errors.New("cannot be empty"))
	}

	if err := checkURL(c.Server.BaseURL, "http", "https"); err != nil {
		errs = errs.Append("server.base_url", err)
	}
	if err := checkURL(c.Server.HubURL, "http", "https", "ws", "wss"); err != nil {
		errs = errs.Append("server.hub_url", err)
	}
	if c.Server.Timeout < 0 {
		errs = errs.Append("server.timeout", errors.New("must not be negative"))
	}

	switch c.Transport.Kind {
	case TransportWebSocket:
	case TransportNATS:
		if err := checkURL(c.Transport.NATSURL, "nats", "tls", "ws", "wss"); err != nil {
			errs = errs.Append("transport.nats_url", err)
		}
	default:
		errs = errs.Append("transport.kind", fmt.Errorf("must be %q or %q, got %q", TransportWebSocket, TransportNATS, c.Transport.Kind))
	}

	if c.Transport.Reconnect.Initial < 0 {
		errs = errs.Append("transport.reconnect.initial", errors.New("must not be negative"))
	}
	if c.Transport.Reconnect.Max < c.Transport.Reconnect.Initial {
		errs = errs.Append("transport.reconnect.max", errors.New("must be at least transport.reconnect.initial"))
	}
	if c.Transport.KeepAlive > 0 && c.Transport.ServerTimeout <= c.Transport.KeepAlive {
		errs = errs.Append("transport.server_timeout", errors.New("must be greater than transport.keep_alive"))
	}

	if c.Conversation.DedupWindow < 0 {
		errs = errs.Append("conversation.dedup_window", errors.New("must not be negative"))
	}
	if c.Conversation.EchoTTL < 0 {
		errs = errs.Append("conversation.echo_ttl", errors.New("must not be negative"))
	}

	return errs.ToError()
}

// ValidateDeep runs Validate and additionally checks the config file and
// data directory on disk.
func (c *Config) ValidateDeep(configPath string) error {
	var errs criterio.FieldErrorsBuilder

	if err := c.Validate(); err != nil {
		var fieldErrs criterio.FieldErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = errs.Append(fe.Field, fe.Err)
		}
	}

	if configPath != "" {
		if info, err := os.Stat(configPath); err == nil && info.IsDir() {
			errs = errs.Append("config", fmt.Errorf("%s is a directory, not a file", configPath))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("config", fmt.Errorf("cannot access %s: %w", configPath, err))
		}
	}

	if c.DataDir != "" {
		if info, err := os.Stat(c.DataDir); err == nil && !info.IsDir() {
			errs = errs.Append("data_dir", fmt.Errorf("%s exists but is not a directory", c.DataDir))
		} else if err != nil && !os.IsNotExist(err) {
			errs = errs.Append("data_dir", fmt.Errorf("cannot access %s: %w", c.DataDir, err))
		}
	}

	return errs.ToError()
}

// Warnings returns non-fatal issues.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	if u, err := url.Parse(c.Server.BaseURL); err == nil && u.Scheme == "http" && !isLocal(u.Hostname()) {
		warnings = append(warnings, ValidationWarning{
			Category: "Server",
			Item:     "base_url",
			Message:  "bearer tokens are sent over plain http",
		})
	}

	if c.Transport.Kind == TransportWebSocket && c.Transport.NATSURL != "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Transport",
			Item:     "nats_url",
			Message:  "ignored unless transport.kind is nats",
		})
	}

	if c.Transport.Reconnect.Max > 5*time.Minute {
		warnings = append(warnings, ValidationWarning{
			Category: "Transport",
			Item:     "reconnect.max",
			Message:  "messages may be delayed by up to " + c.Transport.Reconnect.Max.String() + " after an outage",
		})
	}

	return warnings
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func isLocal(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
