package utils

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)
}

// Styles used to highlight log lines.
var (
	RedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#cc0000"))
	OrangeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff7c28"))
	YellowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#cc9500"))
	GreenStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#06cc00"))
	LightBlueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3cc5ff"))
	PurpleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#7400e0"))
	GrayStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#adadad"))

	// StatusStyles maps a kernel execution state to the style used when logging it.
	StatusStyles = map[string]lipgloss.Style{
		"busy":     OrangeStyle,
		"idle":     GreenStyle,
		"starting": LightBlueStyle,
	}
)

// StatusStyle returns the style for the given execution state, or GrayStyle if there is none.
func StatusStyle(state string) lipgloss.Style {
	if style, ok := StatusStyles[state]; ok {
		return style
	}
	return GrayStyle
}
