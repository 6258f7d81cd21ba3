package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/quitline/carechat/internal/transport"
)

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading…"
	}

	left := m.sidebar.View(m.focus == focusSidebar, m.now())
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.conv.View(),
		"",
		m.composerView(),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		m.statusLine(),
	)
}

func (m Model) composerView() string {
	if m.active == "" {
		return ""
	}
	view := " " + m.composer.View()
	if m.sending {
		view += pendingStyle.Render("  sending…")
	}
	return view
}

func (m Model) statusLine() string {
	var b strings.Builder

	b.WriteString(" ")
	b.WriteString(renderState(m.status))
	b.WriteString(mutedStyle.Render(" " + iconDot + " "))

	name := m.self.DisplayName
	if name == "" {
		name = m.self.SelfID
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s (%s)", name, m.self.Role)))

	if m.notice != "" {
		b.WriteString(mutedStyle.Render(" " + iconDot + " "))
		if m.noticeErr {
			b.WriteString(statusErrStyle.Render(m.notice))
		} else {
			b.WriteString(m.notice)
		}
	}

	help := "tab compose " + iconDot + " q quit"
	if m.focus == focusComposer {
		help = "enter send " + iconDot + " esc back " + iconDot + " ctrl+c quit"
	}
	b.WriteString(helpStyle.Render(iconDot + " " + help))

	return b.String()
}

func renderState(st transport.Status) string {
	switch st.State {
	case transport.StateConnected:
		return statusOKStyle.Render("● connected")
	case transport.StateConnecting:
		return statusWarnStyle.Render("○ connecting")
	case transport.StateReconnecting:
		return statusWarnStyle.Render(fmt.Sprintf("○ reconnecting (attempt %d)", st.Attempt))
	case transport.StateDisconnected:
		return statusErrStyle.Render("○ disconnected")
	default:
		return mutedStyle.Render("○ " + st.State.String())
	}
}
