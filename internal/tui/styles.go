package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/basamba1990/scimentor-ai/internal/feedback"
)

// Styles contains the lipgloss styles used by the browser.
type Styles struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Grade    lipgloss.Style
	Error    lipgloss.Style
	Success  lipgloss.Style
	Help     lipgloss.Style
	Pane     lipgloss.Style

	severity map[feedback.Severity]lipgloss.Style
}

// DefaultStyles returns the browser's colour scheme.
func DefaultStyles() *Styles {
	primary := lipgloss.Color("#7C3AED")
	muted := lipgloss.Color("#6C7086")
	border := lipgloss.Color("#45475A")

	return &Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(primary),
		Muted:    lipgloss.NewStyle().Foreground(muted),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CDD6F4")).Background(primary),
		Grade:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		Help:     lipgloss.NewStyle().Foreground(muted),
		Pane: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(border).
			Padding(0, 1),
		severity: map[feedback.Severity]lipgloss.Style{
			feedback.SeverityHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8")),
			feedback.SeverityMedium: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F9E2AF")),
			feedback.SeverityLow:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1")),
		},
	}
}

// Severity returns the style for a severity label.
func (s *Styles) Severity(sev feedback.Severity) lipgloss.Style {
	if st, ok := s.severity[sev]; ok {
		return st
	}
	return s.Muted
}
