package report

import "github.com/charmbracelet/lipgloss"

// Color palette for diagnostic output.
const (
	ColorRed    = "196" // Errors
	ColorYellow = "220" // Warnings
	ColorGreen  = "70"  // Success / summary
	ColorGray   = "245" // Secondary text, contexts
	ColorWhite  = "255" // File headings
)

// Styles holds the styles used for diagnostic rendering.
type Styles struct {
	File    lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Dim     lipgloss.Style
	Hint    lipgloss.Style
}

// DefaultStyles returns styled components for terminal output.
func DefaultStyles() Styles {
	return Styles{
		File:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Hint:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		File:    lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Hint:    lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
