package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/directory"
	"github.com/tinytelemetry/cepwatch/internal/feed"
	"github.com/tinytelemetry/cepwatch/internal/metrics"
	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/transport"
)

const (
	inboxSize         = 1024
	deactivateTimeout = 10 * time.Second
)

// Config wires an Engine.
type Config struct {
	Opener        transport.Opener
	Directory     model.Directory
	PollInterval  time.Duration
	StatsInterval time.Duration
	ThrottleMS    int
	FeedWindow    int
	Metrics       *metrics.Metrics
	Listeners     []Listener
	SessionID     string
	Now           func() time.Time
}

type command struct {
	fn    func() error
	reply chan error
}

// Engine runs a Session on a single goroutine. Transport readers, the
// directory poller and API callers only send messages to it.
type Engine struct {
	session   *Session
	dir       model.Directory
	poller    *directory.Poller
	metrics   *metrics.Metrics
	statsTick time.Duration
	throttle  int

	inbox   chan transport.Event
	updates chan directory.Update
	cmds    chan command

	release *time.Ticker

	bg       context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewEngine creates an engine. Run must be called to start it.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Opener == nil {
		return nil, errors.New("watch: no connection opener configured")
	}
	if cfg.ThrottleMS < 0 {
		return nil, fmt.Errorf("watch: throttle %d: %w", cfg.ThrottleMS, feed.ErrNegativeInterval)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = model.StatsInterval
	}
	if cfg.FeedWindow == 0 {
		cfg.FeedWindow = model.DefaultFeedWindow
	}

	bg, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dir:       cfg.Directory,
		metrics:   cfg.Metrics,
		statsTick: cfg.StatsInterval,
		throttle:  cfg.ThrottleMS,
		inbox:     make(chan transport.Event, inboxSize),
		updates:   make(chan directory.Update, 1),
		cmds:      make(chan command),
		bg:        bg,
		bgCancel:  cancel,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	e.session = NewSession(SessionOptions{
		ID:         cfg.SessionID,
		Opener:     cfg.Opener,
		Emit:       e.enqueue,
		Metrics:    cfg.Metrics,
		Listeners:  cfg.Listeners,
		FeedWindow: cfg.FeedWindow,
		Now:        cfg.Now,
	})
	if cfg.Directory != nil {
		e.poller = directory.NewPoller(cfg.Directory, cfg.PollInterval, e.deliverUpdate)
	}
	return e, nil
}

// SessionID returns the id of the engine's session.
func (e *Engine) SessionID() string { return e.session.ID() }

// enqueue is the transport emit function. It blocks while the inbox is full
// to keep per-connection order, and gives up once the engine stops.
func (e *Engine) enqueue(ev transport.Event) {
	select {
	case e.inbox <- ev:
	case <-e.stopped:
	}
}

func (e *Engine) deliverUpdate(u directory.Update) {
	select {
	case e.updates <- u:
	case <-e.stopped:
	case <-e.done:
	}
}

// Run processes messages until ctx is cancelled or Close is called. The
// session is torn down before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("watch: engine already running")
	}
	select {
	case <-e.done:
		e.mu.Unlock()
		return ErrClosed
	default:
	}
	e.running = true
	e.mu.Unlock()

	defer close(e.stopped)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	var pollWG sync.WaitGroup
	if e.poller != nil {
		pollWG.Add(1)
		go func() {
			defer pollWG.Done()
			_ = e.poller.Run(pollCtx)
		}()
	}

	statsTicker := time.NewTicker(e.statsTick)
	defer statsTicker.Stop()

	if err := e.session.SetInterval(e.throttle); err == nil {
		e.rearm(e.throttle)
	}

	log.WithFields(log.Fields{"session": e.session.ID(), "throttle_ms": e.throttle}).Info("watch: engine started")

	for {
		var releaseC <-chan time.Time
		if e.release != nil {
			releaseC = e.release.C
		}

		select {
		case <-ctx.Done():
			e.shutdown(cancelPoll, &pollWG)
			return nil
		case <-e.done:
			e.shutdown(cancelPoll, &pollWG)
			return nil
		case ev := <-e.inbox:
			e.session.HandleEvent(ev)
		case u := <-e.updates:
			e.session.ApplyDirectory(u)
		case cmd := <-e.cmds:
			cmd.reply <- cmd.fn()
		case now := <-statsTicker.C:
			e.session.StatsTick(now)
		case <-releaseC:
			e.session.ReleaseTick()
		}
		e.syncGauges()
	}
}

func (e *Engine) shutdown(cancelPoll context.CancelFunc, pollWG *sync.WaitGroup) {
	cancelPoll()
	e.stopRelease()
	e.session.Teardown()
	e.syncGauges()
	e.bgCancel()
	pollWG.Wait()
	log.WithFields(log.Fields{"session": e.session.ID()}).Info("watch: engine stopped")
}

func (e *Engine) syncGauges() {
	e.metrics.SetOpenConnections(e.session.OpenCount())
	e.metrics.SetPending(e.session.Pending())
}

// rearm starts, resets or stops the release ticker for the given interval.
func (e *Engine) rearm(ms int) {
	if ms == 0 {
		e.stopRelease()
		return
	}
	d := time.Duration(ms) * time.Millisecond
	if e.release == nil {
		e.release = time.NewTicker(d)
		return
	}
	e.release.Reset(d)
}

func (e *Engine) stopRelease() {
	if e.release != nil {
		e.release.Stop()
		e.release = nil
	}
}

// Close stops the engine and tears the session down. It is idempotent and
// waits for a running loop to exit.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })

	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if running {
		<-e.stopped
	} else {
		e.session.Teardown()
		e.bgCancel()
	}
	e.bgWG.Wait()
	return nil
}

// exec runs fn on the engine goroutine and returns its error.
func (e *Engine) exec(fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return ErrClosed
	case <-e.stopped:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.stopped:
		return ErrClosed
	}
}

// Snapshot copies the session read model.
func (e *Engine) Snapshot(req model.SnapshotRequest) (model.Snapshot, error) {
	var snap model.Snapshot
	err := e.exec(func() error {
		snap = e.session.Snapshot(req)
		return nil
	})
	return snap, err
}

// SetSelection replaces the selected query set.
func (e *Engine) SetSelection(ids []model.QueryID) error {
	ids = append([]model.QueryID(nil), ids...)
	return e.exec(func() error {
		e.session.SetSelection(ids)
		return nil
	})
}

// Toggle flips the selection of one query.
func (e *Engine) Toggle(id model.QueryID) error {
	return e.exec(func() error {
		e.session.Toggle(id)
		return nil
	})
}

// SelectAll selects every active query.
func (e *Engine) SelectAll() error {
	return e.exec(func() error {
		e.session.SelectAll()
		return nil
	})
}

// ClearSelection deselects every query.
func (e *Engine) ClearSelection() error {
	return e.exec(func() error {
		e.session.ClearSelection()
		return nil
	})
}

// SetThrottle changes the release interval and re-arms the release ticker.
func (e *Engine) SetThrottle(intervalMS int) error {
	return e.exec(func() error {
		if err := e.session.SetInterval(intervalMS); err != nil {
			return err
		}
		e.throttle = intervalMS
		e.rearm(intervalMS)
		log.WithFields(log.Fields{"throttle_ms": intervalMS}).Info("watch: release interval changed")
		return nil
	})
}

// Throttle returns the current release interval in milliseconds.
func (e *Engine) Throttle() (int, error) {
	var ms int
	err := e.exec(func() error {
		ms = e.session.Interval()
		return nil
	})
	return ms, err
}

// Deactivate asks the directory to deactivate a query. The request runs in
// the background; its outcome is reported as a notice. The query stays
// selected until a directory poll drops it.
func (e *Engine) Deactivate(id model.QueryID) error {
	if e.dir == nil {
		return errors.New("watch: no directory configured")
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		ctx, cancel := context.WithTimeout(e.bg, deactivateTimeout)
		defer cancel()

		err := e.dir.InactivateQuery(ctx, id)
		level, msg := model.NoticeInfo, fmt.Sprintf("query %d deactivation requested", id)
		if err != nil {
			log.WithFields(log.Fields{"qid": id}).WithError(err).Warn("watch: deactivation failed")
			level, msg = model.NoticeError, fmt.Sprintf("query %d deactivation failed: %v", id, err)
		}
		_ = e.exec(func() error {
			e.session.Notify(level, msg)
			return nil
		})
	}()
	return nil
}

var _ model.WatchAPI = (*Engine)(nil)
