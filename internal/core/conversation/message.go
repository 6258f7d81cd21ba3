// Package conversation holds the per-counterpart message logs and the
// recency-sorted counterpart index built on top of them.
package conversation

import (
	"strings"
	"time"
)

// localIDPrefix marks ids synthesized for live pushes that have no server id yet.
const localIDPrefix = "local-"

// snippetLength is the maximum number of runes kept in a tail snippet.
const snippetLength = 80

// Message represents a single chat message within one conversation.
type Message struct {
	ID            string    `json:"id"`
	CounterpartID string    `json:"counterpart_id"`
	FromID        string    `json:"from_id"`
	SenderIsSelf  bool      `json:"sender_is_self"`
	Body          string    `json:"body"`
	SentAt        time.Time `json:"sent_at"`
	Local         bool      `json:"local,omitempty"` // live push without a server id
}

// HistoryRecord is a message as returned by the history fetch.
type HistoryRecord struct {
	ID     string    `json:"id"`
	FromID string    `json:"from_id"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Snippet returns a single-line preview of the message body.
func Snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	runes := []rune(s)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength-1]) + "…"
	}
	return s
}

// IsLocalID reports whether id was synthesized locally.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
