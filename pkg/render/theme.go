package render

import "github.com/charmbracelet/lipgloss"

const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconPending = "○"
	IconWorker  = "⚙"
)

type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color

	Border        lipgloss.Style
	Title         lipgloss.Style
	TitleMuted    lipgloss.Style
	Header        lipgloss.Style
	StatusRunning lipgloss.Style
	StatusDead    lipgloss.Style
	StatusPending lipgloss.Style
}

func DefaultTheme() Theme {
	primary := lipgloss.Color("#7C3AED")
	success := lipgloss.Color("#22C55E")
	errorC := lipgloss.Color("#EF4444")
	muted := lipgloss.Color("#6B7280")
	text := lipgloss.Color("#F9FAFB")
	textDim := lipgloss.Color("#9CA3AF")

	return Theme{
		Primary: primary,
		Success: success,
		Error:   errorC,
		Muted:   muted,
		Text:    text,
		TextDim: textDim,

		Border: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		Title:         lipgloss.NewStyle().Bold(true).Foreground(primary),
		TitleMuted:    lipgloss.NewStyle().Foreground(textDim),
		Header:        lipgloss.NewStyle().Bold(true).Foreground(text),
		StatusRunning: lipgloss.NewStyle().Foreground(success),
		StatusDead:    lipgloss.NewStyle().Foreground(errorC),
		StatusPending: lipgloss.NewStyle().Foreground(muted),
	}
}
