package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/quitline/carechat/internal/core/conversation"
	"github.com/quitline/carechat/internal/styles"
)

// ConversationView renders one conversation in a scrollable viewport.
type ConversationView struct {
	viewport viewport.Model
	title    string
	messages []conversation.Message
	loading  bool
	err      error
	width    int
}

// NewConversationView creates an empty conversation view.
func NewConversationView() *ConversationView {
	return &ConversationView{viewport: viewport.New(0, 0)}
}

// SetSize sets the viewport dimensions. One line is used by the header.
func (v *ConversationView) SetSize(width, height int) {
	v.width = width
	v.viewport.Width = width
	v.viewport.Height = max(height-1, 1)
	v.render(false)
}

// Show replaces the conversation. The view stays pinned to the bottom when
// it was already there or the conversation changed.
func (v *ConversationView) Show(title string, messages []conversation.Message, loading bool, err error) {
	follow := v.viewport.AtBottom() || title != v.title
	v.title = title
	v.messages = messages
	v.loading = loading
	v.err = err
	v.render(follow)
}

// Len returns the number of rendered messages.
func (v *ConversationView) Len() int {
	return len(v.messages)
}

func (v *ConversationView) render(follow bool) {
	var b strings.Builder

	switch {
	case v.title == "":
		b.WriteString(mutedStyle.Render("  Select a conversation"))
	case v.err != nil:
		b.WriteString(statusErrStyle.Render("  " + v.err.Error() + " (press r to retry)"))
		b.WriteString("\n\n")
	case v.loading && len(v.messages) == 0:
		b.WriteString(pendingStyle.Render("  Loading history…"))
	case len(v.messages) == 0:
		b.WriteString(mutedStyle.Render("  No messages yet"))
	}

	var lastDay time.Time
	for _, msg := range v.messages {
		day := truncateDay(msg.SentAt.Local())
		if !day.Equal(lastDay) {
			b.WriteString(styles.DividerStyle.Render("  ── " + day.Format("Mon, Jan 2 2006") + " ──"))
			b.WriteString("\n")
			lastDay = day
		}
		b.WriteString(v.renderMessage(msg))
		b.WriteString("\n")
	}

	v.viewport.SetContent(b.String())
	if follow {
		v.viewport.GotoBottom()
	}
}

func (v *ConversationView) renderMessage(msg conversation.Message) string {
	width := max(v.width-10, 10)
	stamp := mutedStyle.Render(msg.SentAt.Local().Format("15:04"))

	body := otherBodyStyle
	align := lipgloss.Left
	if msg.SenderIsSelf {
		body = selfBodyStyle
		align = lipgloss.Right
	}

	text := body.Width(width).Align(align).Render(msg.Body)
	if msg.SenderIsSelf {
		return lipgloss.JoinHorizontal(lipgloss.Bottom, text, " ", stamp)
	}
	return lipgloss.JoinHorizontal(lipgloss.Bottom, " ", stamp, " ", text)
}

// View renders the header and viewport.
func (v *ConversationView) View() string {
	header := headerStyle.Render(v.title)
	if v.title == "" {
		header = ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, v.viewport.View())
}

// ScrollUp scrolls half a page up.
func (v *ConversationView) ScrollUp() {
	v.viewport.HalfViewUp()
}

// ScrollDown scrolls half a page down.
func (v *ConversationView) ScrollDown() {
	v.viewport.HalfViewDown()
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
