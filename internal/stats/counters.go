// Package stats accumulates per-query arrival counts and folds them into
// per-second rate series with running totals and maxima.
package stats

import "github.com/tinytelemetry/cepwatch/internal/model"

// Counters holds the pending arrival counts of each tracked query between
// aggregator ticks. The decode path adds, the aggregator drains.
type Counters struct {
	pending map[model.QueryID]*model.PendingCounters
}

// NewCounters returns an empty counter table.
func NewCounters() *Counters {
	return &Counters{pending: make(map[model.QueryID]*model.PendingCounters)}
}

// Init creates zeroed counters for qid, resetting any existing ones.
func (c *Counters) Init(qid model.QueryID) {
	c.pending[qid] = &model.PendingCounters{}
}

// Remove deletes the counters of qid.
func (c *Counters) Remove(qid model.QueryID) {
	delete(c.pending, qid)
}

// Has reports whether qid has counters.
func (c *Counters) Has(qid model.QueryID) bool {
	_, ok := c.pending[qid]
	return ok
}

// Add records arrivals for qid. It returns false when qid is not tracked.
func (c *Counters) Add(qid model.QueryID, hits, complexEvents uint64) bool {
	p, ok := c.pending[qid]
	if !ok {
		return false
	}
	p.NumHits += hits
	p.NumComplexEvents += complexEvents
	return true
}

// Drain returns the pending counts of qid and resets them to zero.
func (c *Counters) Drain(qid model.QueryID) (model.PendingCounters, bool) {
	p, ok := c.pending[qid]
	if !ok {
		return model.PendingCounters{}, false
	}
	out := *p
	*p = model.PendingCounters{}
	return out, true
}

// Peek returns the pending counts of qid without resetting them.
func (c *Counters) Peek(qid model.QueryID) (model.PendingCounters, bool) {
	p, ok := c.pending[qid]
	if !ok {
		return model.PendingCounters{}, false
	}
	return *p, true
}

// Len returns the number of queries with counters.
func (c *Counters) Len() int {
	return len(c.pending)
}
