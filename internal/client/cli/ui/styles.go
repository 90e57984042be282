package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#1a1a1a", Dark: "#fafafa"})

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"})

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})

	accentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00b7ff"))
)

// Accent styles a string with the accent color.
func Accent(s string) string {
	return accentStyle.Render(s)
}

// Muted styles a string with the muted color.
func Muted(s string) string {
	return mutedStyle.Render(s)
}
