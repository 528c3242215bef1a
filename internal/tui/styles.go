package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	frameColor   = lipgloss.AdaptiveColor{Light: "#BBBBBB", Dark: "#5A5A5A"}
	accentColor  = lipgloss.AdaptiveColor{Light: "#0087AF", Dark: "#00D7FF"}
	textColor    = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#FFFFFF"}
	mutedColor   = lipgloss.Color("#888888")
	failColor    = lipgloss.Color("#FF5555")
	successColor = lipgloss.Color("#50FA7B")
)

var (
	frameStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(frameColor).
			Padding(0, 1).
			Margin(0, 1)

	titleStyle  = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	targetStyle = lipgloss.NewStyle().Foreground(mutedColor)
	stepStyle   = lipgloss.NewStyle().Foreground(textColor)
	detailStyle = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle   = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(successColor).Bold(true)
)

// stepMarkers prefix a step line by status. Running steps show the spinner.
var stepMarkers = map[StepStatus]string{
	StepPending: detailStyle.Render("·"),
	StepDone:    okStyle.Render("✓"),
	StepFailed:  failStyle.Render("✗"),
}
