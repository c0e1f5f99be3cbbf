package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// resizeFeed sizes the feed viewport to the current layout.
func (m *DashboardModel) resizeFeed() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, _, feedH := m.layoutHeights()
	m.viewport.Width = max(1, m.contentWidth()-4)
	m.viewport.Height = max(1, feedH-3)
	m.refreshFeedViewport()
}

// refreshFeedViewport re-renders the retained feed into the viewport.
func (m *DashboardModel) refreshFeedViewport() {
	width := max(10, m.viewport.Width)
	clip := lipgloss.NewStyle().MaxWidth(width)

	var b strings.Builder
	for i, rec := range m.feed {
		color := lipgloss.NewStyle().Foreground(queryColor(rec.QID))
		bar := color.Render("▌")
		tag := color.Bold(true).Render(fmt.Sprintf("#%d", rec.QID))
		for j, line := range strings.Split(rec.Text, "\n") {
			if i > 0 || j > 0 {
				b.WriteByte('\n')
			}
			if j == 0 {
				b.WriteString(clip.Render(bar + tag + " " + line))
			} else {
				b.WriteString(clip.Render(bar + " " + line))
			}
		}
	}
	m.viewport.SetContent(b.String())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *DashboardModel) renderFeed(width, height int) string {
	style := sectionStyle.Width(width - 2).Height(height - 2)
	if m.activeSection == SectionFeed {
		style = activeSectionStyle.Width(width - 2).Height(height - 2)
	}

	state := "following"
	if !m.follow {
		state = fmt.Sprintf("scrolled %d%%", int(m.viewport.ScrollPercent()*100))
	}
	title := chartTitleStyle.Render(fmt.Sprintf("Feed (%d records, %s)", len(m.feed), state))

	var body string
	if len(m.feed) == 0 {
		msg := "Select queries in the sidebar to watch their results."
		if len(m.selected) > 0 {
			msg = "Waiting for results..."
		}
		body = helpStyle.Render(msg)
	} else {
		body = m.viewport.View()
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
