package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const errorDisplayTTL = 30 * time.Second

// Update handles messages.
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeFeed()
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.MouseMsg:
		return m.handleMouseEvent(msg)

	case TickMsg:
		if m.tickInFlight {
			return m, m.tickCmd()
		}
		m.tickInFlight = true
		return m, tea.Batch(m.fetchSnapshotCmd(), m.tickCmd())

	case snapshotLoadedMsg:
		m.tickInFlight = false
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.applySnapshot(msg.snap)
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.setError(fmt.Errorf("%s: %w", msg.action, msg.err))
			return m, nil
		}
		// Refresh at once so the sidebar reflects the change.
		if m.tickInFlight {
			return m, nil
		}
		m.tickInFlight = true
		return m, m.fetchSnapshotCmd()
	}

	return m, nil
}

func (m *DashboardModel) setError(err error) {
	m.lastError = err.Error()
	m.lastErrorAt = time.Now()
}

// applySnapshot folds a snapshot into the local view state.
func (m *DashboardModel) applySnapshot(snap model.Snapshot) {
	if m.hasSnapshot && snap.SessionID != m.sessionID {
		// The service restarted: sequence numbers start over.
		m.feed = nil
		m.lastSeq = 0
		snap.Feed = nil
	}
	if snap.FeedLen < m.lastSeq {
		m.feed = nil
		m.lastSeq = 0
	}

	m.sessionID = snap.SessionID
	m.hasSnapshot = true
	m.queries = snap.Queries
	m.selected = make(map[model.QueryID]bool, len(snap.Selected))
	for _, id := range snap.Selected {
		m.selected[id] = true
	}
	m.throttleMS = snap.ThrottleMS
	m.pending = snap.Pending
	if snap.Stats != nil {
		m.stats = snap.Stats
	} else {
		m.stats = make(map[model.QueryID]model.QueryStats)
	}
	m.notices = snap.Notices
	m.lastTickAt = snap.Taken
	if m.lastError != "" && time.Since(m.lastErrorAt) > errorDisplayTTL {
		m.lastError = ""
	}

	m.appendFeed(snap.Feed)
	m.clampSidebarCursor()
}

// appendFeed keeps records newer than the last one seen, bounded by the feed window.
func (m *DashboardModel) appendFeed(recs []model.FeedRecord) {
	added := false
	for _, rec := range recs {
		if rec.Seq <= m.lastSeq {
			continue
		}
		m.feed = append(m.feed, rec)
		m.lastSeq = rec.Seq
		added = true
	}
	if over := len(m.feed) - m.feedWindow; over > 0 {
		m.feed = append([]model.FeedRecord(nil), m.feed[over:]...)
	}
	if added {
		m.refreshFeedViewport()
	}
}

// nextThrottle steps the delivery interval, clamped to the supported range.
func nextThrottle(current, delta int) int {
	next := current + delta
	// Snap odd values from other clients back onto the step grid.
	next -= next % model.ThrottleStepMS
	if next < 0 {
		return 0
	}
	if next > model.ThrottleMaxMS {
		return model.ThrottleMaxMS
	}
	return next
}

func (m *DashboardModel) setThrottleCmd(ms int) tea.Cmd {
	if ms == m.throttleMS {
		return nil
	}
	m.throttleMS = ms
	return m.actionCmd("set throttle", func(api model.WatchAPI) error {
		return api.SetThrottle(ms)
	})
}

func (m *DashboardModel) allQueryIDs() []model.QueryID {
	ids := make([]model.QueryID, 0, len(m.queries))
	for _, q := range m.queries {
		ids = append(ids, q.ID)
	}
	return ids
}

// handleKeyPress processes keyboard input.
func (m *DashboardModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		return m, tea.Quit
	}
	if m.showHelp {
		if key.Matches(msg, m.keys.Help, m.keys.Escape, m.keys.Quit) {
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(msg, m.keys.NextSection):
		if m.sidebarVisible && m.activeSection == SectionFeed {
			m.activeSection = SectionSidebar
		} else {
			m.activeSection = SectionFeed
		}
		return m, nil
	case key.Matches(msg, m.keys.ToggleSidebar):
		m.sidebarVisible = !m.sidebarVisible
		if !m.sidebarVisible {
			m.activeSection = SectionFeed
		}
		m.resizeFeed()
		return m, nil
	case key.Matches(msg, m.keys.ThrottleUp):
		return m, m.setThrottleCmd(nextThrottle(m.throttleMS, model.ThrottleStepMS))
	case key.Matches(msg, m.keys.ThrottleDown):
		return m, m.setThrottleCmd(nextThrottle(m.throttleMS, -model.ThrottleStepMS))
	case key.Matches(msg, m.keys.ThrottleOff):
		return m, m.setThrottleCmd(0)
	case key.Matches(msg, m.keys.SelectAll):
		ids := m.allQueryIDs()
		return m, m.actionCmd("watch all", func(api model.WatchAPI) error {
			return api.SetSelection(ids)
		})
	case key.Matches(msg, m.keys.ClearAll):
		return m, m.actionCmd("unwatch all", func(api model.WatchAPI) error {
			return api.SetSelection([]model.QueryID{})
		})
	}

	if m.activeSection == SectionSidebar {
		return m, m.handleSidebarKey(msg)
	}
	m.handleFeedKey(msg)
	return m, nil
}

func (m *DashboardModel) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.moveSidebarCursor(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveSidebarCursor(1)
	case key.Matches(msg, m.keys.Home):
		m.sidebarCursor = 0
	case key.Matches(msg, m.keys.End):
		m.sidebarCursor = len(m.queries) - 1
		m.clampSidebarCursor()
	case key.Matches(msg, m.keys.Toggle):
		q, ok := m.cursorQuery()
		if !ok {
			return nil
		}
		id := q.ID
		return m.actionCmd(fmt.Sprintf("toggle query %d", id), func(api model.WatchAPI) error {
			return api.Toggle(id)
		})
	case key.Matches(msg, m.keys.Deactivate):
		q, ok := m.cursorQuery()
		if !ok {
			return nil
		}
		id := q.ID
		return m.actionCmd(fmt.Sprintf("deactivate query %d", id), func(api model.WatchAPI) error {
			return api.Deactivate(id)
		})
	}
	return nil
}

func (m *DashboardModel) handleFeedKey(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, m.keys.Up):
		m.scrollFeed(-1)
	case key.Matches(msg, m.keys.Down):
		m.scrollFeed(1)
	case key.Matches(msg, m.keys.PageUp):
		m.scrollFeed(-max(1, m.viewport.Height))
	case key.Matches(msg, m.keys.PageDown):
		m.scrollFeed(max(1, m.viewport.Height))
	case key.Matches(msg, m.keys.Home):
		m.viewport.GotoTop()
		m.follow = false
	case key.Matches(msg, m.keys.End):
		m.viewport.GotoBottom()
		m.follow = true
	}
}

// scrollFeed moves the feed viewport. Reaching the bottom resumes following.
func (m *DashboardModel) scrollFeed(lines int) {
	if lines < 0 {
		m.viewport.ScrollUp(-lines)
	} else {
		m.viewport.ScrollDown(lines)
	}
	m.follow = m.viewport.AtBottom()
}

// handleMouseEvent scrolls the focused section with the wheel.
func (m *DashboardModel) handleMouseEvent(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	delta := 0
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		delta = -1
	case tea.MouseButtonWheelDown:
		delta = 1
	case tea.MouseButtonLeft:
		if m.sidebarVisible && msg.X < sidebarWidth {
			m.activeSection = SectionSidebar
		} else {
			m.activeSection = SectionFeed
		}
		return m, nil
	default:
		return m, nil
	}
	if m.reverseScrollWheel {
		delta = -delta
	}
	if m.activeSection == SectionSidebar {
		m.moveSidebarCursor(delta)
	} else {
		m.scrollFeed(delta * 3)
	}
	return m, nil
}
