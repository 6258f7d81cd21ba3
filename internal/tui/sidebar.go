package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/styles"
)

// Sidebar renders the counterpart directory, two lines per entry:
//
//	name                 time
//	last message snippet
type Sidebar struct {
	entries   []conversation.Entry
	cursor    int
	offset    int
	width     int
	height    int
	filtering bool
	filter    []rune
	unread    map[string]bool
	active    string
}

const linesPerEntry = 2

// NewSidebar creates an empty sidebar.
func NewSidebar() *Sidebar {
	return &Sidebar{unread: make(map[string]bool)}
}

// SetEntries replaces the listed entries, keeping the cursor on the same
// counterpart when it is still present.
func (v *Sidebar) SetEntries(entries []conversation.Entry) {
	selected := v.SelectedID()
	v.entries = entries

	v.cursor = 0
	for i, e := range entries {
		if e.ID == selected {
			v.cursor = i
			break
		}
	}
	v.clampOffset()
}

// SetSize sets the viewport dimensions.
func (v *Sidebar) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.clampOffset()
}

// SetActive marks id as the open conversation and clears its unread mark.
func (v *Sidebar) SetActive(id string) {
	v.active = id
	delete(v.unread, id)
}

// MarkUnread flags id unless it is the open conversation.
func (v *Sidebar) MarkUnread(id string) {
	if id != v.active {
		v.unread[id] = true
	}
}

// Unread reports whether id has unseen messages.
func (v *Sidebar) Unread(id string) bool {
	return v.unread[id]
}

// visibleEntries returns the number of entries that fit.
func (v *Sidebar) visibleEntries() int {
	// Reserve lines for: filter (1), help (1)
	visible := (v.height - 2) / linesPerEntry
	if visible < 1 {
		visible = 1
	}
	return visible
}

// clampOffset ensures the offset keeps the cursor visible.
func (v *Sidebar) clampOffset() {
	visible := v.visibleEntries()

	if v.cursor < v.offset {
		v.offset = v.cursor
	} else if v.cursor >= v.offset+visible {
		v.offset = v.cursor - visible + 1
	}

	v.offset = min(v.offset, max(len(v.entries)-visible, 0))
	v.offset = max(v.offset, 0)
}

// MoveUp moves cursor up.
func (v *Sidebar) MoveUp() {
	if v.cursor > 0 {
		v.cursor--
		v.clampOffset()
	}
}

// MoveDown moves cursor down.
func (v *Sidebar) MoveDown() {
	if v.cursor < len(v.entries)-1 {
		v.cursor++
		v.clampOffset()
	}
}

// SelectedID returns the counterpart under the cursor, or "".
func (v *Sidebar) SelectedID() string {
	if v.cursor < 0 || v.cursor >= len(v.entries) {
		return ""
	}
	return v.entries[v.cursor].ID
}

// StartFilter begins filter input mode.
func (v *Sidebar) StartFilter() {
	v.filtering = true
}

// ConfirmFilter exits filter mode and keeps the query.
func (v *Sidebar) ConfirmFilter() {
	v.filtering = false
}

// CancelFilter exits filter mode and clears the query.
func (v *Sidebar) CancelFilter() {
	v.filtering = false
	v.filter = v.filter[:0]
}

// IsFiltering returns true if filter input is active.
func (v *Sidebar) IsFiltering() bool {
	return v.filtering
}

// AddFilterRune appends r to the query.
func (v *Sidebar) AddFilterRune(r rune) {
	v.filter = append(v.filter, r)
}

// DeleteFilterRune removes the last rune of the query.
func (v *Sidebar) DeleteFilterRune() {
	if len(v.filter) > 0 {
		v.filter = v.filter[:len(v.filter)-1]
	}
}

// Query returns the current filter text.
func (v *Sidebar) Query() string {
	return string(v.filter)
}

// View renders the sidebar.
func (v *Sidebar) View(focused bool, now time.Time) string {
	var b strings.Builder
	inner := max(v.width-1, 10) // right border

	switch {
	case v.filtering:
		b.WriteString(" " + filterPromptStyle.Render("Filter: ") + string(v.filter) + "▎\n")
	case len(v.filter) > 0:
		b.WriteString(" " + mutedStyle.Render("Filter: "+string(v.filter)) + "\n")
	default:
		b.WriteString(" " + mutedStyle.Render(fmt.Sprintf("%d conversations", len(v.entries))) + "\n")
	}

	lines := 0
	if len(v.entries) == 0 {
		msg := "  No conversations"
		if len(v.filter) > 0 {
			msg = "  No matches"
		}
		b.WriteString(mutedStyle.Render(msg) + "\n")
		lines = 1
	} else {
		end := min(v.offset+v.visibleEntries(), len(v.entries))
		for i := v.offset; i < end; i++ {
			b.WriteString(v.renderEntry(v.entries[i], i == v.cursor && focused, inner, now))
			lines += linesPerEntry
		}
	}

	// Pad to push help to bottom
	for i := lines; i < v.height-2; i++ {
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("↑/↓ move " + iconDot + " enter open " + iconDot + " / filter"))

	return sidebarStyle.Width(inner).Height(v.height).Render(b.String())
}

func (v *Sidebar) renderEntry(e conversation.Entry, selected bool, width int, now time.Time) string {
	var b strings.Builder

	bar := "  "
	if selected {
		bar = selectedBorderStyle.Render("┃") + " "
	}

	when := ""
	if e.HasMessages() {
		when = formatAge(e.LastMessageTime, now)
	}

	marker := " "
	if v.unread[e.ID] {
		marker = lipgloss.NewStyle().Foreground(colorYellow).Render(iconUnread)
	}

	nameWidth := max(width-len(when)-5, 4)
	name := truncate(e.DisplayName, nameWidth)

	nameStyle := normalStyle.Foreground(styles.ColorFor(e.ID))
	switch {
	case selected:
		nameStyle = selectedStyle
	case e.ID == v.active:
		nameStyle = nameStyle.Bold(true)
	}

	b.WriteString(bar)
	b.WriteString(marker + " ")
	b.WriteString(nameStyle.Render(fmt.Sprintf("%-*s", nameWidth, name)))
	b.WriteString(mutedStyle.Render(when))
	b.WriteString("\n")

	b.WriteString(bar + "  ")
	b.WriteString(mutedStyle.Render(truncate(e.LastMessageSnippet, max(width-5, 4))))
	b.WriteString("\n")

	return b.String()
}

// formatAge returns a human-readable relative time string.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return "…"
	}
	return string(runes[:width-1]) + "…"
}
