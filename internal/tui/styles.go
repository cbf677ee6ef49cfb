package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/blive-rec/blive/internal/config"
)

var (
	// Colors
	ColorNeonPurple = lipgloss.Color("#bd93f9") // Dracula Purple
	ColorNeonPink   = lipgloss.Color("#ff79c6") // Dracula Pink
	ColorNeonCyan   = lipgloss.Color("#8be9fd") // Dracula Cyan
	ColorSuccess    = lipgloss.Color("#50fa7b") // Dracula Green
	ColorError      = lipgloss.Color("#ff5555") // Dracula Red
	ColorWarning    = lipgloss.Color("#ffb86c") // Dracula Orange
	ColorText       = lipgloss.Color("#f8f8f2") // Dracula Foreground
	ColorGray       = lipgloss.Color("#6272a4") // Dracula Comment
	ColorLightGray  = lipgloss.Color("#bfbfbf")

	// Task states
	ColorStateStreaming    = ColorSuccess
	ColorStateReconnecting = ColorWarning
	ColorStateResolving    = ColorNeonCyan
	ColorStateError        = ColorError
	ColorStateDone         = ColorNeonPurple
)

var (
	LogoStyle         lipgloss.Style
	StatsLabelStyle   lipgloss.Style
	StatsValueStyle   lipgloss.Style
	ActiveTabStyle    lipgloss.Style
	TabStyle          lipgloss.Style
	NotificationStyle lipgloss.Style
	SelectedItemStyle lipgloss.Style
	ItemStyle         lipgloss.Style
)

func init() {
	buildStyles()
}

func buildStyles() {
	LogoStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPink).
		Bold(true)

	StatsLabelStyle = lipgloss.NewStyle().
		Foreground(ColorGray).
		Width(12)

	StatsValueStyle = lipgloss.NewStyle().
		Foreground(ColorText).
		Bold(true)

	ActiveTabStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPink).
		Bold(true).
		Underline(true).
		Padding(DefaultPaddingY, DefaultPaddingX)

	TabStyle = lipgloss.NewStyle().
		Foreground(ColorLightGray).
		Padding(DefaultPaddingY, DefaultPaddingX)

	NotificationStyle = lipgloss.NewStyle().
		Foreground(ColorNeonCyan).
		Bold(true)

	SelectedItemStyle = lipgloss.NewStyle().
		Foreground(ColorNeonPink).
		Bold(true)

	ItemStyle = lipgloss.NewStyle().
		Foreground(ColorText)
}

// ApplyTheme switches the palette for a config theme value. The adaptive
// theme asks the terminal for its background.
func ApplyTheme(theme int) {
	dark := true
	switch theme {
	case config.ThemeLight:
		dark = false
	case config.ThemeDark:
	default:
		dark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(dark)

	if dark {
		ColorText = lipgloss.Color("#f8f8f2")
		ColorLightGray = lipgloss.Color("#bfbfbf")
	} else {
		ColorText = lipgloss.Color("#282a36")
		ColorLightGray = lipgloss.Color("#44475a")
	}
	buildStyles()
}
