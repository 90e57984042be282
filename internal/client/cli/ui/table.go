package ui

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders aligned columnar CLI output.
type Table struct {
	headers []string
	rows    [][]string
	title   string
}

// NewTable creates a table with the given column headers.
func NewTable(headers []string) *Table {
	return &Table{headers: headers}
}

// WithTitle sets the table title
func (t *Table) WithTitle(title string) *Table {
	t.title = title
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(row []string) *Table {
	t.rows = append(t.rows, row)
	return t
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	return widths
}

// Render renders the table as a string.
func (t *Table) Render() string {
	if len(t.rows) == 0 {
		return ""
	}
	widths := t.columnWidths()

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(t.headers))
		for i := range t.headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = pad(cell, widths[i])
		}
		return strings.Join(parts, "  ")
	}

	separator := "─"
	if runtime.GOOS == "windows" {
		separator = "-"
	}
	rule := make([]string, len(t.headers))
	for i := range t.headers {
		rule[i] = mutedStyle.Render(strings.Repeat(separator, widths[i]))
	}

	var out strings.Builder
	if t.title != "" {
		out.WriteString("\n" + titleStyle.Render(t.title) + "\n\n")
	}
	out.WriteString(line(t.headers, &tableHeaderStyle) + "\n")
	out.WriteString(strings.Join(rule, "  ") + "\n")
	for _, row := range t.rows {
		out.WriteString(line(row, nil) + "\n")
	}
	out.WriteString("\n")
	return out.String()
}

// pad right-pads text to the target visible width.
func pad(text string, width int) string {
	if visible := lipgloss.Width(text); visible < width {
		return text + strings.Repeat(" ", width-visible)
	}
	return text
}

// Print prints the table
func (t *Table) Print() {
	fmt.Print(t.Render())
}
