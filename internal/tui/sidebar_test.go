package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quitline/carechat/internal/core/conversation"
)

func sidebarWith(ids ...string) *Sidebar {
	s := NewSidebar()
	s.SetSize(30, 20)
	entries := make([]conversation.Entry, len(ids))
	for i, id := range ids {
		entries[i] = conversation.Entry{ID: id, DisplayName: "name-" + id}
	}
	s.SetEntries(entries)
	return s
}

func TestSidebar_SetEntriesKeepsSelection(t *testing.T) {
	s := sidebarWith("a", "b", "c")
	s.MoveDown()
	s.MoveDown()
	assert.Equal(t, "c", s.SelectedID())

	// c moved to the top
	s.SetEntries([]conversation.Entry{{ID: "c"}, {ID: "a"}, {ID: "b"}})
	assert.Equal(t, "c", s.SelectedID())

	// c is gone, cursor resets
	s.SetEntries([]conversation.Entry{{ID: "a"}, {ID: "b"}})
	assert.Equal(t, "a", s.SelectedID())
}

func TestSidebar_CursorBounds(t *testing.T) {
	s := sidebarWith("a", "b")

	s.MoveUp()
	assert.Equal(t, "a", s.SelectedID())

	s.MoveDown()
	s.MoveDown()
	assert.Equal(t, "b", s.SelectedID())

	empty := sidebarWith()
	assert.Empty(t, empty.SelectedID())
}

func TestSidebar_OffsetFollowsCursor(t *testing.T) {
	s := NewSidebar()
	s.SetSize(30, 6) // room for two entries
	s.SetEntries([]conversation.Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})

	for range 3 {
		s.MoveDown()
	}
	assert.Equal(t, "d", s.SelectedID())
	assert.Equal(t, 2, s.offset)

	for range 3 {
		s.MoveUp()
	}
	assert.Equal(t, 0, s.offset)
}

func TestSidebar_Unread(t *testing.T) {
	s := sidebarWith("a", "b")
	s.SetActive("a")

	s.MarkUnread("a")
	s.MarkUnread("b")
	assert.False(t, s.Unread("a"))
	assert.True(t, s.Unread("b"))

	s.SetActive("b")
	assert.False(t, s.Unread("b"))
}

func TestSidebar_FilterEditing(t *testing.T) {
	s := sidebarWith("a")

	s.StartFilter()
	for _, r := range "doc" {
		s.AddFilterRune(r)
	}
	s.DeleteFilterRune()
	assert.Equal(t, "do", s.Query())

	s.ConfirmFilter()
	assert.False(t, s.IsFiltering())
	assert.Equal(t, "do", s.Query())

	s.StartFilter()
	s.CancelFilter()
	assert.Empty(t, s.Query())
}

func TestSidebar_ViewShowsEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSidebar()
	s.SetSize(40, 12)
	s.SetEntries([]conversation.Entry{
		{ID: "1", DisplayName: "An", LastMessageTime: now.Add(-5 * time.Minute), LastMessageSnippet: "see you"},
		{ID: "2", DisplayName: "Binh"},
	})

	view := s.View(true, now)
	assert.Contains(t, view, "2 conversations")
	assert.Contains(t, view, "An")
	assert.Contains(t, view, "5m")
	assert.Contains(t, view, "see you")
	assert.Contains(t, view, "Binh")
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "now"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAge(now.Add(-tt.ago), now))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "longe…", truncate("longer text", 6))
	assert.Equal(t, "…", truncate("abc", 1))
}
