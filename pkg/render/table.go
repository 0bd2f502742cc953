package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Column struct {
	Header string
	Width  int
	Align  lipgloss.Position
}

type Row struct {
	Icon  string
	Cells []string
}

// Table renders fixed-width rows with an optional status icon column.
type Table struct {
	Title   string
	Columns []Column
	Rows    []Row
	theme   Theme
}

func NewTable(title string, cols []Column) Table {
	return Table{Title: title, Columns: cols, theme: DefaultTheme()}
}

func (t Table) WithRows(rows []Row) Table {
	t.Rows = rows
	return t
}

func (t Table) Render() string {
	theme := t.theme
	var lines []string

	if t.Title != "" {
		lines = append(lines, theme.Title.Render(t.Title), "")
	}

	hasIcons := false
	for _, r := range t.Rows {
		if r.Icon != "" {
			hasIcons = true
			break
		}
	}

	header := make([]string, 0, len(t.Columns)+1)
	if hasIcons {
		header = append(header, "  ")
	}
	for _, c := range t.Columns {
		header = append(header, t.cell(c, c.Header, theme.Header))
	}
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, header...))

	if len(t.Rows) == 0 {
		lines = append(lines, theme.TitleMuted.Render("(no units)"))
	}
	for _, row := range t.Rows {
		parts := make([]string, 0, len(row.Cells)+1)
		if hasIcons {
			parts = append(parts, iconStyle(theme, row.Icon).Render(padIcon(row.Icon))+" ")
		}
		for j, cell := range row.Cells {
			col := Column{Width: 20}
			if j < len(t.Columns) {
				col = t.Columns[j]
			}
			parts = append(parts, t.cell(col, cell, lipgloss.NewStyle().Foreground(theme.TextDim)))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}

	return theme.Border.Render(strings.Join(lines, "\n"))
}

func (t Table) cell(col Column, s string, style lipgloss.Style) string {
	width := col.Width
	if width <= 0 {
		width = 20
	}
	return style.Width(width).Align(col.Align).Render(truncate(s, width-1))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width < 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func padIcon(icon string) string {
	if icon == "" {
		return " "
	}
	return icon
}

func iconStyle(theme Theme, icon string) lipgloss.Style {
	switch icon {
	case IconError:
		return theme.StatusDead
	case IconPending:
		return theme.StatusPending
	default:
		return theme.StatusRunning
	}
}
