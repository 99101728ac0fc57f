// Package ui renders sync reports and status for the terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	colorOK      = lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#8BC34A"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFC107"}
	colorError   = lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E53935"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	colorHeading = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#F2F2F2"}
)

// Styles holds the styles of one output.
type Styles struct {
	Title lipgloss.Style
	Bold  lipgloss.Style
	Body  lipgloss.Style
	Muted lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Error lipgloss.Style
}

// NewStyles returns styles for w. Colors are dropped when w is not a
// terminal or NO_COLOR is set.
func NewStyles(w io.Writer) Styles {
	return newStyles(lipgloss.NewRenderer(w, termenv.WithColorCache(true)))
}

// PlainStyles returns styles that render no escape sequences.
func PlainStyles() Styles {
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	return newStyles(r)
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title: r.NewStyle().Bold(true).Foreground(colorHeading),
		Bold:  r.NewStyle().Bold(true),
		Body:  r.NewStyle(),
		Muted: r.NewStyle().Foreground(colorMuted),
		OK:    r.NewStyle().Foreground(colorOK),
		Warn:  r.NewStyle().Foreground(colorWarn),
		Error: r.NewStyle().Foreground(colorError).Bold(true),
	}
}
