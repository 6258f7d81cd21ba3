package conversation

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestIndex_NoMessagesKeepsLoadOrder(t *testing.T) {
	x := NewIndex("self")
	x.Load([]Entry{
		{ID: "1", DisplayName: "An"},
		{ID: "2", DisplayName: "Binh"},
	})

	got := x.Snapshot("")
	assert.Equal(t, []string{"1", "2"}, ids(got))
	assert.False(t, got[0].HasMessages())
	assert.False(t, got[1].HasMessages())
}

func TestIndex_LivePushMovesCounterpartToTop(t *testing.T) {
	x := NewIndex("self").WithStoreOptions(func(s *Store) {
		s.WithClock(func() time.Time { return at(100) })
	})
	x.Load([]Entry{
		{ID: "1", DisplayName: "An"},
		{ID: "2", DisplayName: "Binh"},
	})

	x.Conversation("2").AppendLive("2", "Hello")
	snippet, when, ok := x.Conversation("2").Tail()
	require.True(t, ok)
	assert.Equal(t, "Hello", snippet)
	assert.Equal(t, at(100), when)

	assert.True(t, x.Refresh("2"))
	got := x.Snapshot("")
	assert.Equal(t, []string{"2", "1"}, ids(got))
	assert.Equal(t, "Hello", got[0].LastMessageSnippet)
	assert.Equal(t, at(100), got[0].LastMessageTime)

	assert.False(t, x.Refresh("2"), "unchanged tail is not a change")
}

func TestIndex_SortsByRecencyWithStableTies(t *testing.T) {
	x := NewIndex("self")
	x.Load([]Entry{
		{ID: "a", DisplayName: "Anh", LastMessageTime: at(10)},
		{ID: "b", DisplayName: "Bao"},
		{ID: "c", DisplayName: "Chi", LastMessageTime: at(30)},
		{ID: "d", DisplayName: "Dung", LastMessageTime: at(10)},
		{ID: "e", DisplayName: "Em"},
	})

	assert.Equal(t, []string{"c", "a", "d", "b", "e"}, ids(x.Snapshot("")))

	// update keeps the original load position for ties
	x.Upsert(Entry{ID: "d", DisplayName: "Dung", LastMessageTime: at(10), LastMessageSnippet: "x"})
	assert.Equal(t, []string{"c", "a", "d", "b", "e"}, ids(x.Snapshot("")))

	x.Upsert(Entry{ID: "e", DisplayName: "Em", LastMessageTime: at(40)})
	assert.Equal(t, []string{"e", "c", "a", "d", "b"}, ids(x.Snapshot("")))
}

func TestIndex_ListFilters(t *testing.T) {
	x := NewIndex("self")
	x.Load([]Entry{
		{ID: "1", DisplayName: "Dr. Nguyen Van An"},
		{ID: "2", DisplayName: "Binh Tran"},
		{ID: "3", DisplayName: "ANNA Lee"},
	})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty query returns all", query: "", want: []string{"1", "2", "3"}},
		{name: "case insensitive", query: "an", want: []string{"1", "2", "3"}},
		{name: "substring", query: "tran", want: []string{"2"}},
		{name: "upper query", query: "ANNA", want: []string{"3"}},
		{name: "no match", query: "zzz", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(x.Snapshot(tt.query))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndex_ListIsRestartable(t *testing.T) {
	x := NewIndex("self")
	x.Load([]Entry{
		{ID: "1", DisplayName: "An"},
		{ID: "2", DisplayName: "Binh"},
		{ID: "3", DisplayName: "Anh"},
	})

	seq := x.List("an")
	first := ids(slices.Collect(seq))
	second := ids(slices.Collect(seq))
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"1", "3"}, first)

	// early break does not disturb later iterations
	for e := range seq {
		assert.Equal(t, "1", e.ID)
		break
	}
	assert.Equal(t, first, ids(slices.Collect(seq)))
}

func TestIndex_RefreshUnknownCounterpart(t *testing.T) {
	x := NewIndex("self").WithStoreOptions(func(s *Store) {
		s.WithClock(func() time.Time { return at(5) })
	})
	x.Load([]Entry{{ID: "1", DisplayName: "An"}})

	x.Conversation("9").AppendLive("9", "new patient")
	require.True(t, x.Refresh("9"))

	e, ok := x.Get("9")
	require.True(t, ok)
	assert.Equal(t, "9", e.DisplayName)
	assert.Equal(t, []string{"9", "1"}, ids(x.Snapshot("")))
	assert.Equal(t, 2, x.Len())
}

func TestIndex_RefreshWithoutConversation(t *testing.T) {
	x := NewIndex("self")
	x.Load([]Entry{{ID: "1", DisplayName: "An", LastMessageTime: at(7), LastMessageSnippet: "dir"}})

	assert.False(t, x.Refresh("1"))
	e, _ := x.Get("1")
	assert.Equal(t, "dir", e.LastMessageSnippet, "directory values survive until a tail exists")
}

func TestIndex_UpsertKeepsNewerStoreTail(t *testing.T) {
	x := NewIndex("self").WithStoreOptions(func(s *Store) {
		s.WithClock(func() time.Time { return at(50) })
	})
	x.Conversation("2").AppendLive("2", "arrived first")

	x.Load([]Entry{
		{ID: "1", DisplayName: "An", LastMessageTime: at(20), LastMessageSnippet: "dir"},
		{ID: "2", DisplayName: "Binh", LastMessageTime: at(10), LastMessageSnippet: "stale"},
	})

	e, ok := x.Get("2")
	require.True(t, ok)
	assert.Equal(t, "Binh", e.DisplayName)
	assert.Equal(t, "arrived first", e.LastMessageSnippet)
	assert.Equal(t, at(50), e.LastMessageTime)
	assert.Equal(t, []string{"2", "1"}, ids(x.Snapshot("")))
	assert.False(t, x.Refresh("2"))

	x.Upsert(Entry{ID: "2", DisplayName: "Binh T.", LastMessageTime: at(5)})
	e, _ = x.Get("2")
	assert.Equal(t, "Binh T.", e.DisplayName)
	assert.Equal(t, at(50), e.LastMessageTime)
}

func TestIndex_Invalidate(t *testing.T) {
	x := NewIndex("self")
	x.Conversation("1").Hydrate(nil)
	x.Conversation("2").Hydrate([]HistoryRecord{{ID: "a", FromID: "2", Body: "hi", SentAt: at(1)}})
	x.Conversation("3")

	assert.Equal(t, 2, x.Invalidate())
	assert.False(t, x.Conversation("1").Hydrated())
	assert.False(t, x.Conversation("2").Hydrated())
	assert.Equal(t, 1, x.Conversation("2").Len())
	assert.Equal(t, 0, x.Invalidate())
}
