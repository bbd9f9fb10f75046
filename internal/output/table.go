// Package output renders metricsctl's terminal tables.
package output

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPrimary = lipgloss.Color("#64b5f6")
	ColorMuted   = lipgloss.Color("#888888")
	ColorWarning = lipgloss.Color("#fff59d")

	StyleHeader  = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)
)

// SetNoColor swaps every style for a plain one.
func SetNoColor(disabled bool) {
	if !disabled {
		return
	}
	plain := lipgloss.NewStyle()
	StyleHeader = plain
	StyleMuted = plain
	StyleWarning = plain
}

// Table is a column-aligned table. Cells wider than MaxCellWidth are
// truncated with an ellipsis.
type Table struct {
	headers      []string
	rows         [][]string
	widths       []int
	MaxCellWidth int
}

func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	return &Table{headers: headers, widths: widths, MaxCellWidth: 48}
}

// AddRow appends values; missing trailing values are left blank.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range t.headers {
		if i < len(values) {
			row[i] = t.truncate(values[i])
		}
		if w := lipgloss.Width(row[i]); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, h := range t.headers {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(StyleHeader.Render(pad(h, t.widths[i])))
	}
	sb.WriteString("\n")

	for i, w := range t.widths {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(StyleMuted.Render(strings.Repeat("─", w)))
	}
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(pad(cell, t.widths[i]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (t *Table) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, t.Render())
	return int64(n), err
}

func (t *Table) truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if t.MaxCellWidth <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= t.MaxCellWidth {
		return s
	}
	return string(r[:t.MaxCellWidth-1]) + "…"
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
