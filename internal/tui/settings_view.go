package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/blive-rec/blive/internal/config"
)

// viewSettings renders the Btop-style settings page
func (m RootModel) viewSettings() string {
	width := 76
	height := 20
	if m.width < width+4 {
		width = m.width - 4
	}
	if m.height < height+4 {
		height = m.height - 4
	}

	categories := config.CategoryOrder()
	metadata := config.GetSettingsMetadata()

	// === TAB BAR ===
	var tabItems []string
	for i, cat := range categories {
		label := fmt.Sprintf("[%d] %s", i+1, cat)
		if i == m.SettingsActiveTab {
			tabItems = append(tabItems, ActiveTabStyle.Render(label))
		} else {
			tabItems = append(tabItems, TabStyle.Render(label))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Left, tabItems...)

	// === CONTENT AREA ===
	category := categories[m.SettingsActiveTab]
	metas := metadata[category]
	values := m.Settings.Values(category)

	leftWidth := 24
	rightWidth := width - leftWidth - 5

	var listLines []string
	for i, meta := range metas {
		if i == m.SettingsSelectedRow {
			listLines = append(listLines, lipgloss.NewStyle().
				Foreground(ColorNeonPink).
				Bold(true).
				Render("> "+meta.Label))
		} else {
			listLines = append(listLines, lipgloss.NewStyle().
				Foreground(ColorLightGray).
				Render("  "+meta.Label))
		}
	}
	listBox := lipgloss.NewStyle().
		Width(leftWidth).
		Render(lipgloss.JoinVertical(lipgloss.Left, listLines...))

	separator := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(strings.TrimSuffix(strings.Repeat("│\n", len(metas)), "\n"))

	var rightContent string
	if m.SettingsSelectedRow < len(metas) {
		meta := metas[m.SettingsSelectedRow]

		valueStr := formatSettingValue(meta, values[meta.Key])
		if m.SettingsIsEditing {
			valueStr = m.SettingsInput.View()
		}

		valueDisplay := lipgloss.NewStyle().
			Foreground(ColorNeonCyan).
			Bold(true).
			Render("Value: " + valueStr)

		descDisplay := lipgloss.NewStyle().
			Foreground(ColorGray).
			Width(rightWidth - 2).
			Render(meta.Description)

		rightContent = valueDisplay + "\n\n" + descDisplay
	}

	rightBox := lipgloss.NewStyle().
		Width(rightWidth).
		PaddingLeft(1).
		Render(rightContent)

	content := lipgloss.JoinHorizontal(lipgloss.Top, listBox, separator, rightBox)

	fullContent := lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		content,
		"",
		m.help.View(SettingsKeys),
	)

	box := renderBtopBox("Settings", fullContent, width, height, ColorNeonPink, false)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// formatSettingValue renders a value for the settings page.
func formatSettingValue(meta config.SettingMeta, value any) string {
	switch meta.Key {
	case "theme":
		switch value {
		case config.ThemeLight:
			return "Light"
		case config.ThemeDark:
			return "Dark"
		default:
			return "System"
		}
	case "strategy":
		if value == "" {
			return "low_cost"
		}
	}
	return config.FormatValue(value, meta.Type)
}
