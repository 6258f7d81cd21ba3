package conversation

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultDedupWindow is the tolerance used to match a live push against a
// history record carrying the same sender and body.
const DefaultDedupWindow = 5 * time.Second

type logEntry struct {
	msg     Message
	matched bool // history entry that already absorbed a live copy
}

// Store is the ordered message log for a single counterpart. It merges a
// one-shot history fetch with live pushes.
//
// Store is not safe for concurrent use; the chat session owns it from a
// single goroutine.
type Store struct {
	counterpartID string
	selfID        string
	window        time.Duration
	now           func() time.Time
	newID         func() string

	entries   []logEntry
	hydrated  bool
	hydrating bool
	buffered  []Message
}

// NewStore creates an empty store for the conversation with counterpartID,
// seen from selfID.
func NewStore(counterpartID, selfID string) *Store {
	return &Store{
		counterpartID: counterpartID,
		selfID:        selfID,
		window:        DefaultDedupWindow,
		now:           time.Now,
		newID:         func() string { return localIDPrefix + uuid.NewString() },
	}
}

// WithClock sets the clock used to timestamp live pushes.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithDedupWindow sets the tolerance for matching live pushes to history.
func (s *Store) WithDedupWindow(d time.Duration) *Store {
	if d >= 0 {
		s.window = d
	}
	return s
}

// CounterpartID returns the conversation key.
func (s *Store) CounterpartID() string {
	return s.counterpartID
}

// Hydrated returns true once a history fetch has been applied.
func (s *Store) Hydrated() bool {
	return s.hydrated
}

// Hydrating returns true while a history fetch is outstanding.
func (s *Store) Hydrating() bool {
	return s.hydrating
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	return len(s.entries)
}

// BeginHydration marks a history fetch as outstanding. Live pushes received
// until Hydrate or AbortHydration are buffered.
func (s *Store) BeginHydration() {
	s.hydrating = true
}

// AbortHydration discards the outstanding fetch and applies any buffered
// live pushes. The store keeps its previous hydration state.
func (s *Store) AbortHydration() {
	s.hydrating = false
	s.flushBuffered()
}

// Invalidate marks a hydrated log stale so the next selection fetches
// history again. Messages are kept; the next Hydrate absorbs local copies of
// records it returns.
func (s *Store) Invalidate() {
	s.hydrated = false
}

// Hydrate replaces the log with history, sorted by SentAt. Local messages
// that match a history record are dropped; unmatched ones are kept in
// chronological position. Buffered live pushes are applied afterwards.
func (s *Store) Hydrate(history []HistoryRecord) {
	merged := make([]logEntry, 0, len(history)+len(s.entries))
	for _, rec := range history {
		merged = append(merged, logEntry{msg: Message{
			ID:            rec.ID,
			CounterpartID: s.counterpartID,
			FromID:        rec.FromID,
			SenderIsSelf:  rec.FromID == s.selfID,
			Body:          rec.Body,
			SentAt:        rec.SentAt,
		}})
	}
	slices.SortStableFunc(merged, compareEntries)

	historyLen := len(merged)
	for _, e := range s.entries {
		if !e.msg.Local {
			continue
		}
		if i := findEcho(merged[:historyLen], e.msg, s.window); i >= 0 {
			merged[i].matched = true
			continue
		}
		merged = append(merged, e)
	}
	// history precedes locals on equal timestamps; locals keep arrival order
	slices.SortStableFunc(merged, compareEntries)

	s.entries = merged
	s.hydrated = true
	s.hydrating = false
	s.flushBuffered()
}

// AppendLive records a live push from fromID with SentAt set to now. It
// returns the message and whether the visible log changed. A push that
// matches an unmatched history record within the dedup window is treated as
// that record's copy and dropped. While a hydration is outstanding the push
// is buffered and the log does not change yet.
func (s *Store) AppendLive(fromID, body string) (Message, bool) {
	msg := Message{
		ID:            s.newID(),
		CounterpartID: s.counterpartID,
		FromID:        fromID,
		SenderIsSelf:  fromID == s.selfID,
		Body:          body,
		SentAt:        s.now(),
		Local:         true,
	}

	if s.hydrating {
		s.buffered = append(s.buffered, msg)
		return msg, false
	}

	return msg, s.applyLive(msg)
}

// Tail returns the snippet and time of the last message. ok is false when
// the store is empty.
func (s *Store) Tail() (snippet string, at time.Time, ok bool) {
	if len(s.entries) == 0 {
		return "", time.Time{}, false
	}
	last := s.entries[len(s.entries)-1].msg
	return Snippet(last.Body), last.SentAt, true
}

// All returns a copy of the messages in non-decreasing SentAt order.
func (s *Store) All() []Message {
	out := make([]Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

func (s *Store) flushBuffered() {
	pending := s.buffered
	s.buffered = nil
	for _, msg := range pending {
		s.applyLive(msg)
	}
}

func (s *Store) applyLive(msg Message) bool {
	if i := findEcho(s.entries, msg, s.window); i >= 0 {
		s.entries[i].matched = true
		return false
	}

	// insert after every entry sent at or before msg to keep arrival order on ties
	at := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].msg.SentAt.After(msg.SentAt)
	})
	s.entries = slices.Insert(s.entries, at, logEntry{msg: msg})
	return true
}

// findEcho returns the index of the first server-issued, unmatched entry with
// the same sender and body as msg within window, or -1.
func findEcho(entries []logEntry, msg Message, window time.Duration) int {
	for i, e := range entries {
		if e.matched || e.msg.Local {
			continue
		}
		if e.msg.FromID != msg.FromID || e.msg.Body != msg.Body {
			continue
		}
		if absDuration(e.msg.SentAt.Sub(msg.SentAt)) <= window {
			return i
		}
	}
	return -1
}

func compareEntries(a, b logEntry) int {
	return a.msg.SentAt.Compare(b.msg.SentAt)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
