package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const tileWidth = 20

type tile struct {
	label string
	value string
	color lipgloss.Color
}

// statIDs returns the tracked query ids in ascending order.
func (m *DashboardModel) statIDs() []model.QueryID {
	ids := make([]model.QueryID, 0, len(m.stats))
	for id := range m.stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func formatThrottle(ms int) string {
	if ms == 0 {
		return "real time"
	}
	return "every " + (time.Duration(ms) * time.Millisecond).String()
}

func (m *DashboardModel) tiles() []tile {
	var total, rate, failures uint64
	ids := m.statIDs()
	for _, id := range ids {
		st := m.stats[id]
		total += st.ComplexEvents.Total
		rate += st.Last().NumComplexEvents
		failures += st.DecodeFailures
	}

	delivery := formatThrottle(m.throttleMS)
	if m.pending > 0 {
		delivery = fmt.Sprintf("%s (%d queued)", delivery, m.pending)
	}

	out := []tile{
		{label: "Events", value: fmt.Sprintf("%d", total), color: ColorWhite},
		{label: "Events/s", value: fmt.Sprintf("%d", rate), color: ColorWhite},
		{label: "Delivery", value: delivery, color: ColorBlue},
	}
	if failures > 0 {
		out = append(out, tile{label: "Undecodable", value: fmt.Sprintf("%d", failures), color: ColorRed})
	}
	for _, id := range ids {
		st := m.stats[id]
		out = append(out, tile{
			label: m.queryName(id),
			value: fmt.Sprintf("%d ev · %d/s", st.ComplexEvents.Total, st.Last().NumComplexEvents),
			color: queryColor(id),
		})
	}
	return out
}

// renderTiles renders as many stat tiles as fit in one row.
func (m *DashboardModel) renderTiles(width int) string {
	all := m.tiles()
	fit := max(1, width/tileWidth)
	if len(all) > fit {
		all = all[:fit]
	}

	rendered := make([]string, 0, len(all))
	inner := tileWidth - 4
	clip := lipgloss.NewStyle().MaxWidth(inner)
	for _, t := range all {
		label := clip.Foreground(t.color).Render(t.label)
		value := clip.Inherit(tileValueStyle).Render(t.value)
		rendered = append(rendered, tileStyle.Width(tileWidth-2).Render(
			lipgloss.JoinVertical(lipgloss.Left, label, value),
		))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
