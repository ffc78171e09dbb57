package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"milktea/internal/tui/theme"
)

// RenderStatusBar renders the bottom status bar: key hints on the left,
// position within the log on the right.
func RenderStatusBar(width int, position string, ratio float64) string {
	t := theme.Active

	style := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface).
		Width(width)

	left := " [f]ilter  [t]ime jump  [r]eload  [q]uit"
	right := ""
	if position != "" {
		right = fmt.Sprintf("%s  %3.0f%% ", position, ratio*100)
	}

	padding := width - lipgloss.Width(left) - lipgloss.Width(right)
	if padding < 0 {
		padding = 0
	}

	bar := left
	for i := 0; i < padding; i++ {
		bar += " "
	}
	bar += right

	return style.Render(bar)
}
