// Package watch owns the live state of an operator watch session: the query
// selection, the per-query result connections, the delivery controller and
// the rate aggregator. A Session is driven by a single Engine goroutine.
package watch

import (
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/decode"
	"github.com/tinytelemetry/cepwatch/internal/directory"
	"github.com/tinytelemetry/cepwatch/internal/feed"
	"github.com/tinytelemetry/cepwatch/internal/metrics"
	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/stats"
	"github.com/tinytelemetry/cepwatch/internal/transport"
)

const maxNotices = 50

// ErrClosed is returned by operations on a torn-down session or engine.
var ErrClosed = errors.New("watch session closed")

// Listener observes what a session publishes. Calls happen on the engine
// goroutine and must not block.
type Listener interface {
	Released(recs []model.FeedRecord)
	Sampled(samples []stats.Sample)
}

type connEntry struct {
	id    uint64
	state model.ConnState
	conn  transport.Conn
}

// Session is the state machine behind the engine. It is not safe for
// concurrent use.
type Session struct {
	id        string
	opener    transport.Opener
	emit      transport.EmitFunc
	metrics   *metrics.Metrics
	listeners []Listener
	now       func() time.Time

	queries []model.Query
	catalog *decode.Catalog

	selected map[model.QueryID]struct{}
	conns    map[model.QueryID]*connEntry
	nextConn uint64

	agg  *stats.Aggregator
	ctrl *feed.Controller

	notices    []model.Notice
	dirFailing map[string]bool
	closed     bool
}

// SessionOptions configures a Session.
type SessionOptions struct {
	ID         string
	Opener     transport.Opener
	Emit       transport.EmitFunc
	Metrics    *metrics.Metrics
	Listeners  []Listener
	FeedWindow int
	Now        func() time.Time
}

// NewSession creates an empty session in real-time mode.
func NewSession(opts SessionOptions) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		id:         opts.ID,
		opener:     opts.Opener,
		emit:       opts.Emit,
		metrics:    opts.Metrics,
		listeners:  opts.Listeners,
		now:        now,
		catalog:    decode.NewCatalog(nil),
		selected:   make(map[model.QueryID]struct{}),
		conns:      make(map[model.QueryID]*connEntry),
		agg:        stats.NewAggregator(stats.NewCounters()),
		ctrl:       feed.NewController(feed.NewFeed(opts.FeedWindow)),
		dirFailing: make(map[string]bool),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool { return s.closed }

// IsSelected reports whether qid is in the selection.
func (s *Session) IsSelected(qid model.QueryID) bool {
	_, ok := s.selected[qid]
	return ok
}

// Selected returns the selected ids in ascending order.
func (s *Session) Selected() []model.QueryID {
	ids := make([]model.QueryID, 0, len(s.selected))
	for qid := range s.selected {
		ids = append(ids, qid)
	}
	sortIDs(ids)
	return ids
}

// ConnState returns the state of the connection of qid.
func (s *Session) ConnState(qid model.QueryID) (model.ConnState, bool) {
	e, ok := s.conns[qid]
	if !ok {
		return model.ConnClosed, false
	}
	return e.state, true
}

// OpenCount returns the number of connections in the Open state.
func (s *Session) OpenCount() int {
	n := 0
	for _, e := range s.conns {
		if e.state == model.ConnOpen {
			n++
		}
	}
	return n
}

// Interval returns the release interval in milliseconds.
func (s *Session) Interval() int { return s.ctrl.Interval() }

// Pending returns the throttle queue depth.
func (s *Session) Pending() int { return s.ctrl.Pending() }

// SetSelection replaces the selection and reconciles the connections.
func (s *Session) SetSelection(ids []model.QueryID) {
	if s.closed {
		return
	}
	next := make(map[model.QueryID]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.selected = next
	s.reconcile()
}

// Toggle flips the selection of qid.
func (s *Session) Toggle(qid model.QueryID) {
	if s.closed {
		return
	}
	if s.IsSelected(qid) {
		delete(s.selected, qid)
	} else {
		s.selected[qid] = struct{}{}
	}
	s.reconcile()
}

// SelectAll selects every query of the directory.
func (s *Session) SelectAll() {
	ids := make([]model.QueryID, 0, len(s.queries))
	for _, q := range s.queries {
		ids = append(ids, q.ID)
	}
	s.SetSelection(ids)
}

// ClearSelection deselects everything.
func (s *Session) ClearSelection() {
	s.SetSelection(nil)
}

// reconcile closes connections of deselected queries and opens the missing
// ones, in ascending id order.
func (s *Session) reconcile() {
	var extraneous, missing []model.QueryID
	for qid := range s.conns {
		if !s.IsSelected(qid) {
			extraneous = append(extraneous, qid)
		}
	}
	for qid := range s.selected {
		if _, ok := s.conns[qid]; !ok {
			missing = append(missing, qid)
		}
	}
	sortIDs(extraneous)
	sortIDs(missing)

	for _, qid := range extraneous {
		s.closeConn(qid)
	}
	for _, qid := range missing {
		s.openConn(qid)
	}
}

func (s *Session) openConn(qid model.QueryID) {
	s.nextConn++
	entry := &connEntry{id: s.nextConn, state: model.ConnConnecting}
	s.conns[qid] = entry
	log.WithFields(log.Fields{"qid": qid, "conn": entry.id}).Debug("watch: opening result stream")
	entry.conn = s.opener.Open(entry.id, qid, s.emit)
}

// closeConn tears down the connection of qid and its per-query state.
// Closing an unknown qid is a no-op.
func (s *Session) closeConn(qid model.QueryID) {
	entry, ok := s.conns[qid]
	if !ok {
		return
	}
	delete(s.conns, qid)
	if entry.conn != nil {
		entry.conn.Close()
	}
	s.agg.Untrack(qid)
	s.metrics.Forget(qid)
	log.WithFields(log.Fields{"qid": qid, "conn": entry.id}).Debug("watch: result stream closed")
}

// HandleEvent applies one transport event. Events of superseded or unknown
// connection handles are ignored.
func (s *Session) HandleEvent(ev transport.Event) {
	if s.closed {
		return
	}
	entry, ok := s.conns[ev.QID]
	if !ok || entry.id != ev.ConnID {
		return
	}
	switch ev.Kind {
	case transport.Opened:
		entry.state = model.ConnOpen
		s.agg.Track(ev.QID)
		log.WithFields(log.Fields{"qid": ev.QID, "conn": ev.ConnID}).Info("watch: result stream open")
	case transport.Frame:
		if entry.state != model.ConnOpen {
			return
		}
		s.handleFrame(ev.QID, ev.Payload)
	case transport.Closed:
		if ev.Err != nil {
			entry.state = model.ConnErrored
			s.metrics.ConnectionError()
			log.WithFields(log.Fields{"qid": ev.QID, "conn": ev.ConnID}).WithError(ev.Err).Warn("watch: result stream failed")
			s.notify(model.NoticeError, fmt.Sprintf("query %d: connection error: %v", ev.QID, ev.Err))
		}
		entry.state = model.ConnClosed
		entry.conn = nil
		delete(s.selected, ev.QID)
		s.closeConn(ev.QID)
	}
}

// handleFrame runs the two independent side effects of an inbound frame:
// arrival counting and rendering for release.
func (s *Session) handleFrame(qid model.QueryID, payload []byte) {
	res, err := s.catalog.Decode(payload)

	s.agg.Counters().Add(qid, 1, uint64(res.ComplexEvents))
	s.metrics.Frame(qid, res.ComplexEvents)

	if err != nil {
		s.agg.RecordDecodeFailures(qid, 1)
		s.metrics.DecodeFailures(qid, 1)
		log.WithFields(log.Fields{"qid": qid}).WithError(err).Warn("watch: dropping undecodable frame")
		s.notify(model.NoticeWarn, fmt.Sprintf("query %d: %v", qid, err))
		return
	}
	if n := len(res.Failures); n > 0 {
		s.agg.RecordDecodeFailures(qid, n)
		s.metrics.DecodeFailures(qid, n)
		for _, f := range res.Failures {
			log.WithFields(log.Fields{"qid": qid, "index": f.Index}).WithError(f.Err).Warn("watch: skipped complex event")
		}
		s.notify(model.NoticeWarn, fmt.Sprintf("query %d: skipped %d of %d complex events: %v",
			qid, n, res.ComplexEvents, res.Failures[0].Err))
	}
	if res.Text == "" {
		return
	}
	if rec, released := s.ctrl.Submit(qid, res.Text); released {
		s.publish(feed.Release{Records: []model.FeedRecord{rec}})
	}
}

// ApplyDirectory folds a directory poll into the session. Queries that left
// the active list are deselected; failed halves leave the previous state.
func (s *Session) ApplyDirectory(u directory.Update) {
	if s.closed {
		return
	}
	s.trackDirectory("queries", u.QueriesErr)
	s.trackDirectory("streams", u.StreamsErr)

	if u.StreamsErr == nil {
		s.catalog = decode.NewCatalog(u.Streams)
	}
	if u.QueriesErr != nil {
		return
	}

	s.queries = append(s.queries[:0], u.Queries...)
	active := make(map[model.QueryID]struct{}, len(u.Queries))
	for _, q := range u.Queries {
		active[q.ID] = struct{}{}
	}
	pruned := false
	for qid := range s.selected {
		if _, ok := active[qid]; !ok {
			delete(s.selected, qid)
			pruned = true
			log.WithFields(log.Fields{"qid": qid}).Info("watch: query no longer active, deselecting")
		}
	}
	if pruned {
		s.reconcile()
	}
}

func (s *Session) trackDirectory(endpoint string, err error) {
	if err == nil {
		if s.dirFailing[endpoint] {
			s.dirFailing[endpoint] = false
			s.notify(model.NoticeInfo, fmt.Sprintf("directory %s reachable again", endpoint))
		}
		return
	}
	s.metrics.PollError(endpoint)
	if !s.dirFailing[endpoint] {
		s.dirFailing[endpoint] = true
		s.notify(model.NoticeError, fmt.Sprintf("directory %s fetch failed: %v", endpoint, err))
	}
}

// SetInterval changes the release interval. Switching to real-time flushes
// the throttle queue first.
func (s *Session) SetInterval(ms int) error {
	if s.closed {
		return ErrClosed
	}
	r, err := s.ctrl.SetInterval(ms, s.IsSelected)
	if err != nil {
		return err
	}
	s.metrics.SetThrottle(ms)
	s.publish(r)
	return nil
}

// ReleaseTick releases at most one queued record.
func (s *Session) ReleaseTick() {
	if s.closed {
		return
	}
	s.publish(s.ctrl.Tick(s.IsSelected))
}

// StatsTick appends one rate sample per tracked query.
func (s *Session) StatsTick(now time.Time) {
	if s.closed {
		return
	}
	samples := s.agg.Tick(now)
	if len(samples) == 0 {
		return
	}
	for _, l := range s.listeners {
		l.Sampled(samples)
	}
}

func (s *Session) publish(r feed.Release) {
	s.metrics.Dropped(r.Dropped)
	if len(r.Records) == 0 {
		return
	}
	s.metrics.Released(len(r.Records))
	for _, l := range s.listeners {
		l.Released(r.Records)
	}
}

// Notify posts a notice to the operator.
func (s *Session) Notify(level model.NoticeLevel, msg string) {
	s.notify(level, msg)
}

func (s *Session) notify(level model.NoticeLevel, msg string) {
	s.notices = append(s.notices, model.Notice{Time: s.now(), Level: level, Message: msg})
	if over := len(s.notices) - maxNotices; over > 0 {
		s.notices = append(s.notices[:0], s.notices[over:]...)
	}
}

// Teardown closes every connection and stops all delivery. It is idempotent.
func (s *Session) Teardown() {
	if s.closed {
		return
	}
	s.closed = true
	ids := make([]model.QueryID, 0, len(s.conns))
	for qid := range s.conns {
		ids = append(ids, qid)
	}
	sortIDs(ids)
	for _, qid := range ids {
		s.closeConn(qid)
	}
	s.selected = make(map[model.QueryID]struct{})
	s.ctrl.Close()
	s.agg.Reset()
}

// Snapshot copies the read model.
func (s *Session) Snapshot(req model.SnapshotRequest) model.Snapshot {
	snap := model.Snapshot{
		SessionID:   s.id,
		Taken:       s.now(),
		Selected:    s.Selected(),
		Connections: make(map[model.QueryID]model.ConnState, len(s.conns)),
		ThrottleMS:  s.ctrl.Interval(),
		Pending:     s.ctrl.Pending(),
		Feed:        s.ctrl.Feed().Since(req.FeedSince, req.FeedLimit),
		FeedLen:     s.ctrl.Feed().Len(),
		Stats:       s.agg.All(req.SeriesWindow),
		Notices:     append([]model.Notice(nil), s.notices...),
	}
	for qid, e := range s.conns {
		snap.Connections[qid] = e.state
	}
	snap.Queries = make([]model.QueryView, 0, len(s.queries))
	for _, q := range s.queries {
		view := model.QueryView{Query: q, Selected: s.IsSelected(q.ID)}
		if e, ok := s.conns[q.ID]; ok {
			state := e.state
			view.Conn = &state
		}
		snap.Queries = append(snap.Queries, view)
	}
	return snap
}

func sortIDs(ids []model.QueryID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
