package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

var (
	ColorNavy   = lipgloss.Color("17")
	ColorWhite  = lipgloss.Color("15")
	ColorGray   = lipgloss.Color("8")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("42")
	ColorYellow = lipgloss.Color("226")
	ColorRed    = lipgloss.Color("196")
)

// queryPalette holds one colour per query slot.
var queryPalette = [model.MaxColors]lipgloss.Color{
	lipgloss.Color("39"),
	lipgloss.Color("208"),
	lipgloss.Color("42"),
	lipgloss.Color("201"),
	lipgloss.Color("226"),
	lipgloss.Color("51"),
	lipgloss.Color("196"),
	lipgloss.Color("141"),
}

// colorIndex maps a query to one of the palette slots.
func colorIndex(qid model.QueryID) int {
	n := int64(model.MaxColors)
	return int(((int64(qid) % n) + n) % n)
}

func queryColor(qid model.QueryID) lipgloss.Color {
	return queryPalette[colorIndex(qid)]
}

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = sectionStyle.BorderForeground(ColorBlue)

	chartTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorWhite)

	helpStyle = lipgloss.NewStyle().Foreground(ColorGray)

	tileStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	tileValueStyle = lipgloss.NewStyle().Bold(true)
)

func noticeStyle(level model.NoticeLevel) lipgloss.Style {
	switch level {
	case model.NoticeError:
		return lipgloss.NewStyle().Foreground(ColorRed)
	case model.NoticeWarn:
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return lipgloss.NewStyle().Foreground(ColorGreen)
	}
}

func connGlyph(state *model.ConnState) string {
	if state == nil {
		return lipgloss.NewStyle().Foreground(ColorGray).Render("·")
	}
	switch *state {
	case model.ConnOpen:
		return lipgloss.NewStyle().Foreground(ColorGreen).Render("●")
	case model.ConnConnecting:
		return lipgloss.NewStyle().Foreground(ColorYellow).Render("◌")
	case model.ConnErrored:
		return lipgloss.NewStyle().Foreground(ColorRed).Render("✗")
	default:
		return lipgloss.NewStyle().Foreground(ColorGray).Render("·")
	}
}
