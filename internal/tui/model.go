// Package tui renders a watch session in the terminal: the query sidebar,
// the live feed, stat tiles and per-second rate charts.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// Section is the focused part of the dashboard.
type Section int

const (
	SectionSidebar Section = iota // query list
	SectionFeed                   // feed scroll
)

// Options configures a dashboard.
type Options struct {
	UpdateInterval     time.Duration
	SeriesWindow       int
	FeedWindow         int
	ReverseScrollWheel bool
}

// SidebarState holds query sidebar state.
type SidebarState struct {
	sidebarCursor  int
	sidebarVisible bool
}

// FeedViewState holds the locally retained feed and its scroll position.
type FeedViewState struct {
	feed     []model.FeedRecord
	lastSeq  uint64
	follow   bool // keep the viewport pinned to the newest record
	viewport viewport.Model
}

// SessionState mirrors the last snapshot taken from the watch session.
type SessionState struct {
	sessionID   string
	queries     []model.QueryView
	selected    map[model.QueryID]bool
	throttleMS  int
	pending     int
	stats       map[model.QueryID]model.QueryStats
	notices     []model.Notice
	lastTickAt  time.Time
	hasSnapshot bool
}

// DashboardModel represents the main TUI model.
type DashboardModel struct {
	SidebarState
	FeedViewState
	SessionState

	width  int
	height int

	api  model.WatchAPI
	keys KeyMap
	help help.Model

	showHelp      bool
	activeSection Section

	updateInterval     time.Duration
	seriesWindow       int
	feedWindow         int
	reverseScrollWheel bool

	// Async snapshot guard to avoid overlapping fetches.
	tickInFlight bool

	// Last API error for status line display (auto-clears after 30s).
	lastError   string
	lastErrorAt time.Time
}

// TickMsg represents periodic updates.
type TickMsg time.Time

type snapshotLoadedMsg struct {
	snap model.Snapshot
	err  error
}

type actionDoneMsg struct {
	action string
	err    error
}

// NewDashboardModel creates a new dashboard model reading from api.
func NewDashboardModel(api model.WatchAPI, opts Options) *DashboardModel {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = model.DefaultUpdateInterval
	}
	if opts.SeriesWindow <= 0 {
		opts.SeriesWindow = model.DefaultSeriesWindow
	}
	if opts.FeedWindow <= 0 {
		opts.FeedWindow = model.DefaultFeedWindow
	}
	return &DashboardModel{
		SidebarState:  SidebarState{sidebarVisible: true},
		FeedViewState: FeedViewState{follow: true, viewport: viewport.New(0, 0)},
		SessionState: SessionState{
			selected: make(map[model.QueryID]bool),
			stats:    make(map[model.QueryID]model.QueryStats),
		},
		api:                api,
		keys:               DefaultKeyMap(),
		help:               help.New(),
		activeSection:      SectionSidebar,
		updateInterval:     opts.UpdateInterval,
		seriesWindow:       opts.SeriesWindow,
		feedWindow:         opts.FeedWindow,
		reverseScrollWheel: opts.ReverseScrollWheel,
	}
}

// Init starts the refresh loop with an immediate fetch.
func (m *DashboardModel) Init() tea.Cmd {
	m.tickInFlight = true
	return tea.Batch(
		m.fetchSnapshotCmd(),
		m.tickCmd(),
	)
}

func (m *DashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.updateInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchSnapshotCmd asks for records newer than the last one seen.
func (m *DashboardModel) fetchSnapshotCmd() tea.Cmd {
	api := m.api
	if api == nil {
		return func() tea.Msg { return snapshotLoadedMsg{} }
	}
	req := model.SnapshotRequest{
		FeedSince:    m.lastSeq,
		FeedLimit:    m.feedWindow,
		SeriesWindow: m.seriesWindow,
	}
	return func() tea.Msg {
		snap, err := api.Snapshot(req)
		return snapshotLoadedMsg{snap: snap, err: err}
	}
}

func (m *DashboardModel) actionCmd(action string, fn func(api model.WatchAPI) error) tea.Cmd {
	api := m.api
	if api == nil {
		return nil
	}
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(api)}
	}
}

// DashboardPage adapts DashboardModel to the Page interface.
type DashboardPage struct {
	Model *DashboardModel
}

// NewDashboardPage wraps a DashboardModel as a Page.
func NewDashboardPage(m *DashboardModel) *DashboardPage {
	return &DashboardPage{Model: m}
}

func (p *DashboardPage) ID() string { return "dashboard" }

func (p *DashboardPage) Init() tea.Cmd {
	return p.Model.Init()
}

func (p *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	_, cmd := p.Model.Update(msg)
	return cmd, nil
}

func (p *DashboardPage) View(width, height int) string {
	if width != p.Model.width || height != p.Model.height {
		p.Model.width = width
		p.Model.height = height
		p.Model.resizeFeed()
	}
	return p.Model.View()
}
