package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderMultiLineGraph draws data as right-aligned bars over a dashed grid.
// Values are scaled against maxVal; samples beyond width drop off the left.
func renderMultiLineGraph(data []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorGray)
	barStyle := lipgloss.NewStyle().Foreground(color)

	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, width)
		for j := range rows[i] {
			if i%2 == 0 {
				rows[i][j] = gridStyle.Render("╌")
			} else {
				rows[i][j] = " "
			}
		}
	}

	visible := data
	if len(visible) > width {
		visible = visible[len(visible)-width:]
	}

	blocks := []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}
	offset := width - len(visible)

	for x, val := range visible {
		if val < 0 {
			val = 0
		}
		pct := val / maxVal
		if pct > 1 {
			pct = 1
		}
		subBlocks := pct * float64(height) * 8

		for y := 0; y < height; y++ {
			rest := subBlocks - float64(y*8)
			if rest <= 0 {
				break
			}
			char := "█"
			if rest < 8 {
				char = blocks[int(rest)]
			}
			rows[height-1-y][offset+x] = barStyle.Render(char)
		}
	}

	lines := make([]string, height)
	for i, row := range rows {
		lines[i] = strings.Join(row, "")
	}
	return strings.Join(lines, "\n")
}

// graphScale rounds the peak of data up to a readable axis maximum.
func graphScale(data []float64) float64 {
	peak := 1.0
	for _, v := range data {
		if v > peak {
			peak = v
		}
	}
	peak *= 1.1
	if peak >= 5 {
		return float64(int((peak+4.99)/5) * 5)
	}
	return float64(int(peak + 0.99))
}
