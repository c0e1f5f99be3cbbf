package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const chartBodyHeight = 6

// chartPanelHeight is the body plus title row and border.
const chartPanelHeight = chartBodyHeight + 3

var emptyBarStyle = lipgloss.NewStyle().Foreground(ColorGray).Background(ColorGray)

// renderRateChart draws per-second values as bars stacked by query.
func (m *DashboardModel) renderRateChart(title string, pick func(model.RateSample) uint64, peak func(model.QueryStats) uint64, width int) string {
	style := sectionStyle.Width(width - 2).Height(chartPanelHeight - 2)

	ids := m.statIDs()
	var maxPerSec uint64
	for _, id := range ids {
		maxPerSec = max(maxPerSec, peak(m.stats[id]))
	}

	right := fmt.Sprintf("max %d/s", maxPerSec)
	header := title
	if spacer := width - 4 - len(title) - len(right); spacer > 0 {
		header = title + strings.Repeat(" ", spacer) + right
	}

	var body string
	if len(ids) == 0 {
		body = helpStyle.Render("No watched queries")
	} else {
		body = m.renderBars(ids, pick, width-4)
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, chartTitleStyle.Render(header), body))
}

func (m *DashboardModel) renderBars(ids []model.QueryID, pick func(model.RateSample) uint64, width int) string {
	maxBars := max(1, width/2)

	seconds := 0
	for _, id := range ids {
		seconds = max(seconds, len(m.stats[id].Series))
	}
	shown := min(seconds, maxBars)

	bc := barchart.New(width, chartBodyHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)

	for i := 0; i < maxBars-shown; i++ {
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: "EMPTY", Value: 0, Style: emptyBarStyle}},
		})
	}

	// Series end on the same tick, so align them from the newest sample.
	for back := shown; back >= 1; back-- {
		var values []barchart.BarValue
		for _, id := range ids {
			series := m.stats[id].Series
			idx := len(series) - back
			if idx < 0 {
				continue
			}
			if v := pick(series[idx]); v > 0 {
				color := queryColor(id)
				values = append(values, barchart.BarValue{
					Name:  fmt.Sprintf("%d", id),
					Value: float64(v),
					Style: lipgloss.NewStyle().Foreground(color).Background(color),
				})
			}
		}
		if len(values) == 0 {
			values = []barchart.BarValue{{Name: "EMPTY", Value: 0, Style: emptyBarStyle}}
		}
		bc.Push(barchart.BarData{Values: values})
	}

	bc.Draw()
	return bc.View()
}

func hitsOf(s model.RateSample) uint64          { return s.NumHits }
func complexEventsOf(s model.RateSample) uint64 { return s.NumComplexEvents }
func hitsPeak(st model.QueryStats) uint64       { return st.Hits.Max }
func complexPeak(st model.QueryStats) uint64    { return st.ComplexEvents.Max }

// renderCharts lays the two rate charts side by side.
func (m *DashboardModel) renderCharts(width int) string {
	left := width / 2
	right := width - left
	return lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderRateChart("Hits/sec", hitsOf, hitsPeak, left),
		m.renderRateChart("Complex events/sec", complexEventsOf, complexPeak, right),
	)
}
