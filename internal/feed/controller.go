package feed

import (
	"errors"
	"fmt"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// ErrNegativeInterval is returned when a release interval below zero is requested.
var ErrNegativeInterval = errors.New("release interval must not be negative")

// Selected reports whether a query is currently selected.
type Selected func(model.QueryID) bool

// Release is the outcome of a controller step.
type Release struct {
	// Records were appended to the visible feed, in release order.
	Records []model.FeedRecord
	// Dropped counts pending entries discarded because their query was deselected.
	Dropped int
}

// Controller decides when decoded blocks become visible. With an interval of
// zero every block is released on arrival; otherwise blocks wait in a single
// FIFO queue and at most one is released per tick.
type Controller struct {
	feed       *Feed
	queue      Queue
	intervalMS int
	closed     bool
}

// NewController creates a controller in real-time mode releasing into feed.
func NewController(feed *Feed) *Controller {
	return &Controller{feed: feed}
}

// Feed returns the visible feed the controller releases into.
func (c *Controller) Feed() *Feed { return c.feed }

// Interval returns the release interval in milliseconds; 0 is real-time.
func (c *Controller) Interval() int { return c.intervalMS }

// Throttled reports whether blocks are being queued.
func (c *Controller) Throttled() bool { return c.intervalMS > 0 }

// Pending returns the number of queued blocks.
func (c *Controller) Pending() int { return c.queue.Len() }

// PendingEntries returns a copy of the queue, front first.
func (c *Controller) PendingEntries() []Entry { return c.queue.Entries() }

// Submit hands over a decoded block. In real-time mode it is released at once
// and returned; while throttled it is queued and ok is false.
func (c *Controller) Submit(qid model.QueryID, text string) (rec model.FeedRecord, ok bool) {
	if c.closed {
		return model.FeedRecord{}, false
	}
	if c.intervalMS == 0 {
		return c.feed.Append(qid, text), true
	}
	c.queue.Push(Entry{QID: qid, Text: text})
	return model.FeedRecord{}, false
}

// Tick pops entries from the front of the queue, discarding those of
// deselected queries, and releases the first selected one. At most one record
// is released per call.
func (c *Controller) Tick(selected Selected) Release {
	var r Release
	if c.closed || c.intervalMS == 0 {
		return r
	}
	for {
		e, ok := c.queue.Pop()
		if !ok {
			return r
		}
		if !selected(e.QID) {
			r.Dropped++
			continue
		}
		r.Records = append(r.Records, c.feed.Append(e.QID, e.Text))
		return r
	}
}

// SetInterval changes the release interval. Switching to real-time flushes
// the queue in arrival order, dropping entries of deselected queries, before
// any later block is released. Switching between two positive intervals keeps
// the queue untouched.
func (c *Controller) SetInterval(ms int, selected Selected) (Release, error) {
	var r Release
	if ms < 0 {
		return r, fmt.Errorf("%w: %d", ErrNegativeInterval, ms)
	}
	if c.closed {
		return r, nil
	}
	c.intervalMS = ms
	if ms > 0 {
		return r, nil
	}
	for {
		e, ok := c.queue.Pop()
		if !ok {
			break
		}
		if !selected(e.QID) {
			r.Dropped++
			continue
		}
		r.Records = append(r.Records, c.feed.Append(e.QID, e.Text))
	}
	return r, nil
}

// Close discards the queue. Later submits and ticks are ignored.
func (c *Controller) Close() {
	c.closed = true
	c.queue.Reset()
}
