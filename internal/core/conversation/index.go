package conversation

import (
	"cmp"
	"iter"
	"slices"
	"strings"
	"time"
)

// Entry is a directory row for one counterpart. The last-message fields are
// a denormalized copy of the counterpart's Store tail used for sorting and
// rendering.
type Entry struct {
	ID                 string    `json:"id"`
	DisplayName        string    `json:"display_name"`
	AvatarRef          string    `json:"avatar_ref,omitempty"`
	LastMessageTime    time.Time `json:"last_message_time,omitzero"`
	LastMessageSnippet string    `json:"last_message_snippet,omitempty"`

	seq int // load order, fixed on first insert
}

// HasMessages returns true if the entry carries a last-message time.
func (e Entry) HasMessages() bool {
	return !e.LastMessageTime.IsZero()
}

// Index keeps the counterpart directory sorted by recency and owns one Store
// per counterpart.
//
// Index is not safe for concurrent use.
type Index struct {
	selfID    string
	entries   map[string]*Entry
	order     []*Entry
	stores    map[string]*Store
	nextSeq   int
	configure func(*Store)
}

// NewIndex creates an empty index for the user selfID.
func NewIndex(selfID string) *Index {
	return &Index{
		selfID:  selfID,
		entries: make(map[string]*Entry),
		stores:  make(map[string]*Store),
	}
}

// WithStoreOptions sets a function applied to every Store the index creates.
func (x *Index) WithStoreOptions(fn func(*Store)) *Index {
	x.configure = fn
	return x
}

// Load bulk-inserts directory entries in the given order.
func (x *Index) Load(entries []Entry) {
	for _, e := range entries {
		x.upsert(e)
	}
	x.resort()
}

// Upsert inserts or updates an entry. An update keeps the entry's original
// load position for tie-breaking. When the counterpart's Store has messages
// its tail replaces the supplied last-message fields.
func (x *Index) Upsert(e Entry) {
	x.upsert(e)
	x.resort()
}

// Refresh copies the counterpart's Store tail into its entry, creating the
// entry when the counterpart is not in the directory. It returns true if the
// entry changed.
func (x *Index) Refresh(counterpartID string) bool {
	e, found := x.entries[counterpartID]
	if !found {
		x.upsert(Entry{ID: counterpartID, DisplayName: counterpartID})
		x.resort()
		return true
	}

	snippet, at, ok := x.tail(counterpartID)
	if !ok {
		return false
	}
	if e.LastMessageSnippet == snippet && e.LastMessageTime.Equal(at) {
		return false
	}

	e.LastMessageSnippet = snippet
	e.LastMessageTime = at
	x.resort()
	return true
}

// Conversation returns the Store for counterpartID, creating it on first use.
func (x *Index) Conversation(counterpartID string) *Store {
	if s, ok := x.stores[counterpartID]; ok {
		return s
	}
	s := NewStore(counterpartID, x.selfID)
	if x.configure != nil {
		x.configure(s)
	}
	x.stores[counterpartID] = s
	return s
}

// Invalidate marks every hydrated Store stale and returns how many were.
func (x *Index) Invalidate() int {
	n := 0
	for _, s := range x.stores {
		if s.Hydrated() {
			s.Invalidate()
			n++
		}
	}
	return n
}

// HasConversation reports whether a Store exists for counterpartID.
func (x *Index) HasConversation(counterpartID string) bool {
	_, ok := x.stores[counterpartID]
	return ok
}

// Get returns the entry for id.
func (x *Index) Get(id string) (Entry, bool) {
	e, ok := x.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of entries.
func (x *Index) Len() int {
	return len(x.order)
}

// List returns the entries whose display name contains query, case
// insensitive, newest conversation first. Entries without messages come last
// in load order. The sequence is evaluated lazily and can be ranged over
// repeatedly.
func (x *Index) List(query string) iter.Seq[Entry] {
	q := strings.ToLower(strings.TrimSpace(query))
	return func(yield func(Entry) bool) {
		for _, e := range x.order {
			if q != "" && !strings.Contains(strings.ToLower(e.DisplayName), q) {
				continue
			}
			if !yield(*e) {
				return
			}
		}
	}
}

// Snapshot collects List(query) into a slice.
func (x *Index) Snapshot(query string) []Entry {
	return slices.Collect(x.List(query))
}

func (x *Index) upsert(e Entry) {
	if snippet, at, ok := x.tail(e.ID); ok {
		e.LastMessageSnippet = snippet
		e.LastMessageTime = at
	}
	if existing, ok := x.entries[e.ID]; ok {
		e.seq = existing.seq
		*existing = e
		return
	}
	e.seq = x.nextSeq
	x.nextSeq++
	stored := e
	x.entries[e.ID] = &stored
	x.order = append(x.order, &stored)
}

func (x *Index) tail(counterpartID string) (string, time.Time, bool) {
	store, ok := x.stores[counterpartID]
	if !ok {
		return "", time.Time{}, false
	}
	return store.Tail()
}

func (x *Index) resort() {
	slices.SortStableFunc(x.order, compareRecency)
}

func compareRecency(a, b *Entry) int {
	aHas, bHas := a.HasMessages(), b.HasMessages()
	switch {
	case aHas && !bHas:
		return -1
	case !aHas && bHas:
		return 1
	case aHas && bHas:
		if c := b.LastMessageTime.Compare(a.LastMessageTime); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.seq, b.seq)
}
