// Package api is the HTTP client for the chat REST endpoints: counterpart
// directory, conversation history and message send.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quitline/carechat/internal/core/account"
	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/transport"
	"github.com/quitline/carechat/pkg/jsonx"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses other than 401 and 403.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client calls the chat REST API with a bearer token. 401 and 403
// responses are reported as transport.ErrAuthRejected.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   zerolog.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: timeout},
		log:   log.With().Str("component", "api").Logger(),
	}, nil
}

type counterpartDTO struct {
	ID                 jsonx.ID   `json:"id"`
	DisplayName        string     `json:"displayName"`
	AvatarRef          string     `json:"avatarRef"`
	LastMessageTime    jsonx.Time `json:"lastMessageTime"`
	LastMessageSnippet string     `json:"lastMessageSnippet"`
}

// Counterparts fetches the directory of users of the given role.
func (c *Client) Counterparts(ctx context.Context, role account.Role) ([]conversation.Entry, error) {
	q := url.Values{}
	q.Set("role", string(role))

	var dtos []counterpartDTO
	if err := c.do(ctx, http.MethodGet, "/api/chat/counterparts", q, nil, &dtos); err != nil {
		return nil, err
	}

	entries := make([]conversation.Entry, 0, len(dtos))
	for _, d := range dtos {
		if d.ID == "" {
			c.log.Warn().Str("display_name", d.DisplayName).Msg("skipping counterpart without id")
			continue
		}
		name := d.DisplayName
		if name == "" {
			name = d.ID.String()
		}
		e := conversation.Entry{
			ID:              d.ID.String(),
			DisplayName:     name,
			AvatarRef:       d.AvatarRef,
			LastMessageTime: d.LastMessageTime.Std(),
		}
		if d.LastMessageSnippet != "" {
			e.LastMessageSnippet = conversation.Snippet(d.LastMessageSnippet)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

type historyDTO struct {
	ID     jsonx.ID   `json:"id"`
	FromID jsonx.ID   `json:"fromId"`
	Body   string     `json:"body"`
	SentAt jsonx.Time `json:"sentAt"`
}

// History fetches the full conversation between selfID and counterpartID.
func (c *Client) History(ctx context.Context, selfID, counterpartID string) ([]conversation.HistoryRecord, error) {
	p := "/api/chat/history/" + url.PathEscape(selfID) + "/" + url.PathEscape(counterpartID)

	var dtos []historyDTO
	if err := c.do(ctx, http.MethodGet, p, nil, nil, &dtos); err != nil {
		return nil, err
	}

	records := make([]conversation.HistoryRecord, len(dtos))
	for i, d := range dtos {
		records[i] = conversation.HistoryRecord{
			ID:     d.ID.String(),
			FromID: d.FromID.String(),
			Body:   d.Body,
			SentAt: d.SentAt.Std(),
		}
	}
	return records, nil
}

type sendRequest struct {
	ToID string `json:"toId"`
	Body string `json:"body"`
}

// SendMessage posts a message. The server pushes it back over the live
// channel; the response body is ignored.
func (c *Client) SendMessage(ctx context.Context, toID, body string) error {
	return c.do(ctx, http.MethodPost, "/api/chat/messages", nil, sendRequest{ToID: toID, Body: body}, nil)
}

// do sends a request to path, which must already be escaped.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	u := *c.base
	u.Path = c.base.Path + unescaped
	u.RawPath = c.base.EscapedPath() + path
	u.RawQuery = q.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, transport.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w: status %d", method, path, transport.ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
