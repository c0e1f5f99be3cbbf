package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	tilesHeight  = 4
	statusHeight = 2
	noticeTTL    = 15 * time.Second
)

// contentWidth returns the width available for main content, accounting for sidebar.
func (m *DashboardModel) contentWidth() int {
	if m.sidebarVisible {
		return max(40, m.width-sidebarWidth)
	}
	return m.width
}

// layoutHeights splits the content column. Charts are dropped when the
// terminal is too short to keep a usable feed.
func (m *DashboardModel) layoutHeights() (tilesH, chartsH, feedH int) {
	usable := m.height - statusHeight
	tilesH = tilesHeight
	chartsH = chartPanelHeight
	if usable-tilesH-chartsH < 8 {
		chartsH = 0
	}
	feedH = max(3, usable-tilesH-chartsH)
	return tilesH, chartsH, feedH
}

// View renders the dashboard.
func (m *DashboardModel) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Initializing dashboard..."
	}
	if m.height < 16 || m.width < 60 {
		return "Terminal too small. Resize to at least 60x16."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	width := m.contentWidth()
	_, chartsH, feedH := m.layoutHeights()

	sections := []string{m.renderTiles(width)}
	if chartsH > 0 {
		sections = append(sections, m.renderCharts(width))
	}
	sections = append(sections, m.renderFeed(width, feedH))
	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	if m.sidebarVisible {
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(m.height-statusHeight-2), content)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		content,
		m.renderStatusLine(),
		m.renderNoticeLine(),
	)
}

// renderStatusLine renders the focus, key hints and delivery mode.
func (m *DashboardModel) renderStatusLine() string {
	base := lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorWhite)

	left := "[Queries]"
	if m.activeSection == SectionFeed {
		left = "[Feed]"
	}
	right := formatThrottle(m.throttleMS)
	if m.pending > 0 {
		right = fmt.Sprintf("%s • %d queued", right, m.pending)
	}

	m.help.Width = max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-4)
	middle := m.help.View(m.keys)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(middle) - lipgloss.Width(right) - 2
	line := " " + left + " " + middle + fmt.Sprintf("%*s", max(0, gap), "") + right
	return base.Width(m.width).MaxWidth(m.width).Render(line)
}

// renderNoticeLine shows the latest API error or a recent session notice.
func (m *DashboardModel) renderNoticeLine() string {
	if m.lastError != "" && time.Since(m.lastErrorAt) < errorDisplayTTL {
		return lipgloss.NewStyle().Foreground(ColorRed).MaxWidth(m.width).Render("error: " + m.lastError)
	}
	if n := len(m.notices); n > 0 {
		last := m.notices[n-1]
		if m.lastTickAt.IsZero() || m.lastTickAt.Sub(last.Time) < noticeTTL {
			return noticeStyle(last.Level).MaxWidth(m.width).Render(last.Message)
		}
	}
	return ""
}

func (m *DashboardModel) renderHelp() string {
	full := m.help
	full.ShowAll = true
	body := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Foreground(ColorBlue).Bold(true).Render("cepwatch keys"),
		"",
		full.View(m.keys),
		"",
		helpStyle.Render("Watched queries stream results into the feed. Delivery paces the feed:"),
		helpStyle.Render("real time shows every record, a throttle releases one record per tick."),
		"",
		helpStyle.Render("?/h/esc: close"),
	)
	modal := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBlue).
		Padding(1, 2).
		Render(body)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}
