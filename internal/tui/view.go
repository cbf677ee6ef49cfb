package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/blive-rec/blive/internal/utils"
)

// Define the Layout Ratios
const (
	ListWidthRatio = 0.6 // List takes 60% width
)

const logoText = `
██████  ██      ██ ██    ██ ███████
██   ██ ██      ██ ██    ██ ██
██████  ██      ██ ██    ██ █████
██   ██ ██      ██  ██  ██  ██
██████  ███████ ██   ████   ███████`

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	switch m.state {
	case SettingsState:
		return m.viewSettings()
	case DetailState:
		if r := m.GetSelectedRoom(); r != nil {
			width := min(m.width-4, 90)
			box := renderBtopBox("Room "+r.RoomID, m.renderFocusedDetails(r, width-2), width, 22, ColorNeonPink, false)
			return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
		}
	}

	// === MAIN DASHBOARD LAYOUT ===

	availableHeight := m.height - 2
	availableWidth := m.width - 4

	leftWidth := int(float64(availableWidth) * ListWidthRatio)
	rightWidth := availableWidth - leftWidth - 2

	listHeight := max(availableHeight-HeaderHeight, MinListHeight)
	graphHeight := max(availableHeight/3, MinGraphHeight)
	detailHeight := max(availableHeight-graphHeight, MinListHeight)

	// --- HEADER ---
	headerBox := lipgloss.NewStyle().
		Width(leftWidth).
		Height(HeaderHeight).
		Padding(1, 2).
		Render(LogoStyle.Render(logoText))

	// --- SPEED GRAPH ---
	graphBox := m.renderGraph(rightWidth, graphHeight)

	// --- ROOM LIST ---
	recording, reconnecting, stopped := m.CalculateStats()
	tabBar := renderTabs(recording, reconnecting, stopped)

	var listContent string
	if len(m.rooms) == 0 {
		listContent = lipgloss.Place(leftWidth-8, listHeight-6, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No recordings"))
	} else {
		listContent = m.renderRoomList(leftWidth-8, listHeight-6)
	}

	listInner := lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		listContent,
	))
	listBox := renderBtopBox("Rooms", listInner, leftWidth, listHeight, ColorNeonPink, true)

	// --- DETAILS ---
	var detailContent string
	if r := m.GetSelectedRoom(); r != nil {
		detailContent = m.renderFocusedDetails(r, rightWidth-4)
	} else {
		detailContent = lipgloss.Place(rightWidth-4, detailHeight-4, lipgloss.Center, lipgloss.Center,
			lipgloss.NewStyle().Foreground(ColorNeonCyan).Render("No Room Selected"))
	}
	detailBox := renderBtopBox("Recording", detailContent, rightWidth, detailHeight, ColorGray, true)

	leftColumn := lipgloss.JoinVertical(lipgloss.Left, headerBox, listBox)
	rightColumn := lipgloss.JoinVertical(lipgloss.Left, graphBox, detailBox)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftColumn, rightColumn)

	var footer string
	if m.notification != "" {
		footer = lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center,
			NotificationStyle.Render(m.notification))
	} else {
		footer = lipgloss.NewStyle().Padding(0, 1).Render(m.help.View(DashboardKeys))
	}

	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m RootModel) renderGraph(width, height int) string {
	axisWidth := 6
	graphWidth := max(width-axisWidth-5, 10)
	graphHeight := max(height-4, 1)

	maxSpeed := graphScale(m.SpeedHistory)
	graphVisual := renderMultiLineGraph(m.SpeedHistory, graphWidth, graphHeight, maxSpeed, ColorNeonPink)

	axisStyle := lipgloss.NewStyle().Width(axisWidth).Foreground(ColorGray).Align(lipgloss.Right)
	labelTop := axisStyle.Render(fmt.Sprintf("%.0f", maxSpeed))
	labelMid := axisStyle.Render(fmt.Sprintf("%.1f", maxSpeed/2))
	labelBot := axisStyle.Render("0")

	var axis string
	if graphHeight >= 5 {
		gaps := graphHeight - 3
		top := gaps / 2
		axis = lipgloss.JoinVertical(lipgloss.Right,
			labelTop,
			strings.Repeat("\n", top),
			labelMid,
			strings.Repeat("\n", gaps-top),
			labelBot,
		)
	} else {
		axis = lipgloss.JoinVertical(lipgloss.Right,
			labelTop,
			strings.Repeat("\n", max(graphHeight-2, 0)),
			labelBot,
		)
	}

	current := 0.0
	if n := len(m.SpeedHistory); n > 0 {
		current = m.SpeedHistory[n-1]
	}
	title := lipgloss.NewStyle().
		Width(width - 4).
		Align(lipgloss.Right).
		Foreground(ColorNeonPink).
		Bold(true).
		Render(fmt.Sprintf("Current: %.2f MB/s", current))

	content := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, axis, lipgloss.NewStyle().MarginLeft(1).Render(graphVisual)),
	)
	return renderBtopBox("Network Activity", content, width, height, ColorNeonCyan, false)
}

// renderRoomList draws one line per room, scrolled so the cursor stays visible.
func (m RootModel) renderRoomList(width, height int) string {
	height = max(height, 1)
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}

	var lines []string
	for i := start; i < len(m.rooms) && i < start+height; i++ {
		r := m.rooms[i]
		marker := "  "
		style := ItemStyle
		if i == m.cursor {
			marker = "> "
			style = SelectedItemStyle
		}

		icon := m.spinner.View()
		if r.done {
			icon = " "
		}
		label := fmt.Sprintf("%s %s", r.RoomID, truncateString(r.Title, 24))
		right := fmt.Sprintf("%s  %s", utils.ConvertBytesToHumanReadable(r.Bytes), utils.FormatSpeed(r.Speed))
		gap := max(width-lipgloss.Width(marker+label)-lipgloss.Width(right)-3, 1)

		lines = append(lines, style.Render(marker)+icon+" "+style.Render(label)+strings.Repeat(" ", gap)+
			lipgloss.NewStyle().Foreground(ColorLightGray).Render(right))
	}
	return strings.Join(lines, "\n")
}

// renderFocusedDetails renders the detail pane of one room.
func (m RootModel) renderFocusedDetails(r *RoomModel, w int) string {
	contentWidth := max(w-6, 10)
	divider := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render(strings.Repeat("─", contentWidth))

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Left, StatsLabelStyle.Render(label), StatsValueStyle.Render(value))
	}

	info := lipgloss.JoinVertical(lipgloss.Left,
		row("Title:", truncateString(r.Title, contentWidth-14)),
		row("Status:", getRoomStatus(r)),
		row("Recorded:", utils.ConvertBytesToHumanReadable(r.Bytes)),
	)

	// Fill of the open part against the size limit
	maxPart := m.Settings.Recording.MaxPartSize
	partLabel := fmt.Sprintf("Part %d", max(r.Parts, 1))
	var partBar string
	if maxPart > 0 {
		pct := float64(r.PartBytes) / float64(maxPart)
		if pct > 1 {
			pct = 1
		}
		bar := m.progress
		bar.Width = max(w-12, 20)
		partBar = bar.ViewAs(pct)
		partLabel += fmt.Sprintf("  %s / %s", utils.ConvertBytesToHumanReadable(r.PartBytes), utils.ConvertBytesToHumanReadable(maxPart))
	} else {
		partLabel += "  " + utils.ConvertBytesToHumanReadable(r.PartBytes)
	}
	partSection := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render(partLabel),
		"",
		lipgloss.NewStyle().MarginLeft(1).Render(partBar),
	)

	elapsed := time.Duration(0)
	if !r.StartedAt.IsZero() {
		elapsed = time.Since(r.StartedAt)
	}
	stats := lipgloss.JoinVertical(lipgloss.Left,
		row("Speed:", fmt.Sprintf("%.2f MB/s", r.Speed/Megabyte)),
		row("Reconnects:", fmt.Sprintf("%d", r.Reconnects)),
		row("Elapsed:", utils.FormatDuration(elapsed)),
	)

	file := row("File:", truncateString(filepath.Base(r.Part), contentWidth-14))
	if r.Part == "" {
		file = row("File:", "-")
	}
	sections := []string{"", info, divider, "", partSection, divider, "", stats, divider, "", file}
	if r.LastError != "" {
		sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Left,
			StatsLabelStyle.Render("Error:"),
			lipgloss.NewStyle().Foreground(ColorStateError).Render(truncateString(r.LastError, contentWidth-14)),
		))
	}

	return lipgloss.NewStyle().
		Padding(0, 2).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func getRoomStatus(r *RoomModel) string {
	style := lipgloss.NewStyle()

	switch {
	case r.done && (r.Reason == "error" || r.Reason == "max_reconnect_exceeded"):
		return style.Foreground(ColorStateError).Render("✖ " + r.Reason)
	case r.done:
		reason := r.Reason
		if reason == "" {
			reason = "stopped"
		}
		return style.Foreground(ColorStateDone).Render("✔ " + reason)
	case r.State == "reconnecting":
		return style.Foreground(ColorStateReconnecting).Render(fmt.Sprintf("↻ Reconnecting (%d)", r.Attempt))
	case r.State == "resolving" || r.State == "idle":
		return style.Foreground(ColorStateResolving).Render("… Resolving")
	default:
		return style.Foreground(ColorStateStreaming).Render("● Recording")
	}
}

func truncateString(s string, i int) string {
	runes := []rune(s)
	if i > 0 && len(runes) > i {
		return string(runes[:i]) + "..."
	}
	return s
}

func renderTabs(recording, reconnecting, stopped int) string {
	tabs := []struct {
		Label string
		Count int
	}{
		{"Recording", recording},
		{"Reconnecting", reconnecting},
		{"Stopped", stopped},
	}
	var rendered []string
	for i, t := range tabs {
		style := TabStyle
		if i == 0 {
			style = ActiveTabStyle
		}
		rendered = append(rendered, style.Render(fmt.Sprintf("%s (%d)", t.Label, t.Count)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

// renderBtopBox creates a btop-style box with title embedded in the top border
// titleRight: if true, title appears on the right side; if false, title appears on the left
// Example (left):  ╭─ TITLE ─────────────────────────────────╮
// Example (right): ╭─────────────────────────────────── TITLE ─╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.Color, titleRight bool) string {
	const (
		topLeft     = "╭"
		topRight    = "╮"
		bottomLeft  = "╰"
		bottomRight = "╯"
		horizontal  = "─"
		vertical    = "│"
	)

	innerWidth := max(width-2, 1)
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)

	titleText := fmt.Sprintf(" %s ", title)
	remaining := max(innerWidth-lipgloss.Width(titleText)-1, 0)

	var topBorder string
	if titleRight {
		topBorder = borderStyle.Render(topLeft+strings.Repeat(horizontal, remaining)) +
			titleStyle.Render(titleText) +
			borderStyle.Render(horizontal+topRight)
	} else {
		topBorder = borderStyle.Render(topLeft+horizontal) +
			titleStyle.Render(titleText) +
			borderStyle.Render(strings.Repeat(horizontal, remaining)+topRight)
	}
	bottomBorder := borderStyle.Render(bottomLeft + strings.Repeat(horizontal, innerWidth) + bottomRight)

	contentLines := strings.Split(content, "\n")
	innerHeight := height - 2

	wrapped := make([]string, 0, max(innerHeight, 0))
	for i := 0; i < innerHeight; i++ {
		line := ""
		if i < len(contentLines) {
			line = contentLines[i]
		}
		if w := lipgloss.Width(line); w < innerWidth {
			line += strings.Repeat(" ", innerWidth-w)
		} else if w > innerWidth {
			line = lipgloss.NewStyle().MaxWidth(innerWidth).Render(line)
		}
		wrapped = append(wrapped, borderStyle.Render(vertical)+line+borderStyle.Render(vertical))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		topBorder,
		strings.Join(wrapped, "\n"),
		bottomBorder,
	)
}
