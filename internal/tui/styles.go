// Package tui implements the Bubble Tea TUI for carechat.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/quitline/carechat/internal/styles"
)

var (
	colorGreen  = styles.ColorGreen
	colorYellow = styles.ColorYellow
	colorBlue   = styles.ColorBlue
	colorRed    = styles.ColorRed
	colorGray   = styles.ColorGray
	colorWhite  = styles.ColorWhite
)

// Sidebar styles.
var (
	// Selected item style (matches border color).
	selectedStyle = lipgloss.NewStyle().
			Foreground(colorBlue).
			Bold(true)

	// Normal item style (no color, uses terminal default).
	normalStyle = lipgloss.NewStyle()

	// Snippet and timestamp text.
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	// Selected border style for left accent bar.
	selectedBorderStyle = lipgloss.NewStyle().
				Foreground(colorBlue)

	filterPromptStyle = lipgloss.NewStyle().
				Foreground(colorBlue).
				Bold(true)

	sidebarStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(colorGray)
)

// Conversation styles.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			PaddingLeft(1)

	selfBodyStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	otherBodyStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	pendingStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			Italic(true)
)

// Status line styles.
var (
	statusOKStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	statusWarnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	statusErrStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			PaddingLeft(1)
)

// Icons and symbols.
const (
	iconDot    = "•"
	iconUnread = "●"
)
