package ui

import "github.com/charmbracelet/lipgloss"

// Palette colors adapt to light and dark terminals.
var (
	ColorAccent  = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	ColorText    = lipgloss.AdaptiveColor{Light: "238", Dark: "252"}
	ColorFaint   = lipgloss.AdaptiveColor{Light: "246", Dark: "240"}
	ColorError   = lipgloss.AdaptiveColor{Light: "124", Dark: "160"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	ColorSuccess = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
)

// Styles are shared by the run view and the status table.
type Styles struct {
	Header    lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Active    lipgloss.Style
	Speed     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Panel     lipgloss.Style
	Sparkline lipgloss.Style
}

// NewStyles returns the themed styles, or with noColor styles that render
// text unchanged.
func NewStyles(noColor bool) Styles {
	if noColor {
		p := lipgloss.NewStyle()
		return Styles{p, p, p, p, p, p, p, p, p, p}
	}
	fg := func(c lipgloss.TerminalColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Styles{
		Header:    fg(ColorAccent).Bold(true),
		Label:     fg(ColorText),
		Dim:       fg(ColorFaint),
		Active:    fg(ColorAccent).Bold(true),
		Speed:     fg(ColorText).Italic(true),
		Success:   fg(ColorSuccess),
		Warning:   fg(ColorWarning),
		Error:     fg(ColorError).Bold(true),
		Panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorFaint).Padding(0, 1),
		Sparkline: fg(ColorAccent),
	}
}
