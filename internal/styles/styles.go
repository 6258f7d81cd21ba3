// Package styles provides shared lipgloss styles for CLI and TUI components.
package styles

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	ColorGreen  = lipgloss.Color("#9ece6a")
	ColorYellow = lipgloss.Color("#e0af68")
	ColorBlue   = lipgloss.Color("#7aa2f7")
	ColorRed    = lipgloss.Color("#f7768e")
	ColorGray   = lipgloss.Color("#565f89")
	ColorWhite  = lipgloss.Color("#c0caf5")
)

// accentColors are assigned to counterparts by name.
var accentColors = []lipgloss.Color{
	lipgloss.Color("#7dcfff"),
	lipgloss.Color("#bb9af7"),
	lipgloss.Color("#ff9e64"),
	lipgloss.Color("#73daca"),
	lipgloss.Color("#e0af68"),
	lipgloss.Color("#9ece6a"),
}

// Banner ASCII art for the header.
const Banner = `
 ╔═╗╔═╗╦═╗╔═╗╔═╗╦ ╦╔═╗╔╦╗
 ║  ╠═╣╠╦╝║╣ ║  ╠═╣╠═╣ ║
 ╚═╝╩ ╩╩╚═╚═╝╚═╝╩ ╩╩ ╩ ╩`

// BannerStyle styles the ASCII art banner.
var BannerStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// DividerStyle styles horizontal dividers.
var DividerStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// ColorFor returns a stable accent color for s.
func ColorFor(s string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return accentColors[h.Sum32()%uint32(len(accentColors))]
}
