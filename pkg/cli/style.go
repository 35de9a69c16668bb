package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Warn    lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#ffb86c"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Header  lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Dim     lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Final   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:  lipgloss.NewStyle().Foreground(t.Dim),
		Dim:     lipgloss.NewStyle().Foreground(t.Dim),
		Success: lipgloss.NewStyle().Foreground(t.Primary),
		Warn:    lipgloss.NewStyle().Foreground(t.Warn),
		Final:   lipgloss.NewStyle().Bold(true),
	}
}

// DefaultStyles are derived from DefaultTheme.
var DefaultStyles = NewStyles(DefaultTheme)

// Table renders rows in aligned columns under a header rule. Cells wider
// than MaxCellWidth are truncated.
type Table struct {
	Styles       Styles
	Header       []string
	Rows         [][]string
	MaxCellWidth int
}

// Render renders the table to a string.
func (t Table) Render() string {
	maxw := t.MaxCellWidth
	if maxw <= 0 {
		maxw = 48
	}
	cols := len(t.Header)
	for _, r := range t.Rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return ""
	}

	cell := func(row []string, i int) string {
		if i >= len(row) {
			return ""
		}
		s := row[i]
		if lipgloss.Width(s) > maxw {
			s = truncateString(s, maxw-1) + "…"
		}
		return s
	}
	widths := make([]int, cols)
	for i := range cols {
		widths[i] = lipgloss.Width(cell(t.Header, i))
		for _, r := range t.Rows {
			widths[i] = max(widths[i], lipgloss.Width(cell(r, i)))
		}
	}

	line := func(row []string, style *lipgloss.Style) string {
		var sb strings.Builder
		for i := range cols {
			s := cell(row, i)
			pad := widths[i] - lipgloss.Width(s)
			if style != nil {
				s = style.Render(s)
			}
			sb.WriteString(s)
			if i < cols-1 {
				sb.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		return strings.TrimRight(sb.String(), " ")
	}

	var lines []string
	if len(t.Header) > 0 {
		lines = append(lines, line(t.Header, &t.Styles.Header))
		total := 0
		for _, w := range widths {
			total += w
		}
		total += 2 * (cols - 1)
		lines = append(lines, t.Styles.Border.Render(strings.Repeat("─", total)))
	}
	for _, r := range t.Rows {
		lines = append(lines, line(r, nil))
	}
	return strings.Join(lines, "\n")
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}
