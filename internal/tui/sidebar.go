package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const sidebarWidth = 32

func (m *DashboardModel) clampSidebarCursor() {
	if len(m.queries) == 0 {
		m.sidebarCursor = 0
		return
	}
	if m.sidebarCursor < 0 {
		m.sidebarCursor = 0
	}
	if m.sidebarCursor >= len(m.queries) {
		m.sidebarCursor = len(m.queries) - 1
	}
}

func (m *DashboardModel) moveSidebarCursor(delta int) {
	m.sidebarCursor += delta
	m.clampSidebarCursor()
}

func (m *DashboardModel) cursorQuery() (model.QueryView, bool) {
	m.clampSidebarCursor()
	if len(m.queries) == 0 {
		return model.QueryView{}, false
	}
	return m.queries[m.sidebarCursor], true
}

func (m *DashboardModel) queryName(id model.QueryID) string {
	for _, q := range m.queries {
		if q.ID == id && q.Name != "" {
			return q.Name
		}
	}
	return fmt.Sprintf("query %d", id)
}

func (m *DashboardModel) sidebarLine(idx int, q model.QueryView) string {
	box := "[ ]"
	if m.selected[q.ID] {
		box = "[x]"
	}
	swatch := lipgloss.NewStyle().Foreground(queryColor(q.ID)).Render("■")
	name := q.Name
	if name == "" {
		name = fmt.Sprintf("#%d", q.ID)
	}
	maxName := sidebarWidth - 14
	if len(name) > maxName && maxName > 3 {
		name = name[:maxName-1] + "~"
	}

	prefix := "  "
	if idx == m.sidebarCursor {
		prefix = "> "
	}
	label := fmt.Sprintf("%s%s %s %-*s %s", prefix, box, swatch, maxName, name, connGlyph(q.Conn))
	if m.activeSection == SectionSidebar && idx == m.sidebarCursor {
		label = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true).Render(label)
	}
	return label
}

// renderSidebar renders the query list with watch and connection state.
func (m *DashboardModel) renderSidebar(height int) string {
	m.clampSidebarCursor()

	style := lipgloss.NewStyle().
		Width(sidebarWidth-2).
		Height(height).
		Border(lipgloss.NormalBorder()).
		BorderForeground(ColorGray).
		Padding(0, 1)
	if m.activeSection == SectionSidebar {
		style = style.BorderForeground(ColorBlue)
	}

	lines := []string{
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Queries (%d/%d)", len(m.selected), len(m.queries))),
		"",
	}

	if len(m.queries) == 0 {
		msg := "  (no active queries)"
		if !m.hasSnapshot {
			msg = "  (loading...)"
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(ColorGray).Render(msg))
		return style.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	// Window the list around the cursor when it does not fit.
	rows := height - len(lines)
	start := 0
	if rows > 0 && len(m.queries) > rows {
		start = m.sidebarCursor - rows/2
		start = max(0, min(start, len(m.queries)-rows))
	}
	for i := start; i < len(m.queries); i++ {
		if rows > 0 && i-start >= rows {
			break
		}
		lines = append(lines, m.sidebarLine(i, m.queries[i]))
	}

	return style.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
