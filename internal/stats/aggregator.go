package stats

import (
	"sort"
	"time"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// Sample is a rate sample tagged with its query.
type Sample struct {
	QID model.QueryID
	model.RateSample
}

// Aggregator turns drained counters into per-second series. Series are
// append-only for the life of a tracked query.
type Aggregator struct {
	counters *Counters
	stats    map[model.QueryID]*model.QueryStats
}

// NewAggregator creates an aggregator draining the given counters.
func NewAggregator(counters *Counters) *Aggregator {
	return &Aggregator{
		counters: counters,
		stats:    make(map[model.QueryID]*model.QueryStats),
	}
}

// Counters returns the counter table drained by the aggregator.
func (a *Aggregator) Counters() *Counters { return a.counters }

// Track starts aggregating qid with zeroed counters and an empty series.
func (a *Aggregator) Track(qid model.QueryID) {
	a.counters.Init(qid)
	a.stats[qid] = &model.QueryStats{}
}

// Untrack drops all state of qid.
func (a *Aggregator) Untrack(qid model.QueryID) {
	a.counters.Remove(qid)
	delete(a.stats, qid)
}

// Tracked reports whether qid has stats.
func (a *Aggregator) Tracked(qid model.QueryID) bool {
	_, ok := a.stats[qid]
	return ok
}

// RecordDecodeFailures adds n skipped complex events to the stats of qid.
func (a *Aggregator) RecordDecodeFailures(qid model.QueryID, n int) {
	if st, ok := a.stats[qid]; ok && n > 0 {
		st.DecodeFailures += uint64(n)
	}
}

// Tick drains the counters of every tracked query and appends one sample per
// query stamped with now. Queries without counters are skipped. The appended
// samples are returned in query id order.
func (a *Aggregator) Tick(now time.Time) []Sample {
	var out []Sample
	for _, qid := range a.ids() {
		pending, ok := a.counters.Drain(qid)
		if !ok {
			continue
		}
		st := a.stats[qid]
		sample := model.RateSample{
			Time:             now,
			NumHits:          pending.NumHits,
			NumComplexEvents: pending.NumComplexEvents,
		}
		st.Series = append(st.Series, sample)
		fold(&st.Hits, sample.NumHits)
		fold(&st.ComplexEvents, sample.NumComplexEvents)
		out = append(out, Sample{QID: qid, RateSample: sample})
	}
	return out
}

func fold(rs *model.RateStats, v uint64) {
	rs.Total += v
	if v > rs.Max {
		rs.Max = v
	}
}

// Stats returns a copy of the stats of qid with at most window trailing
// samples (0 copies the whole series).
func (a *Aggregator) Stats(qid model.QueryID, window int) (model.QueryStats, bool) {
	st, ok := a.stats[qid]
	if !ok {
		return model.QueryStats{}, false
	}
	out := *st
	series := st.Series
	if window > 0 && len(series) > window {
		series = series[len(series)-window:]
	}
	out.Series = append([]model.RateSample(nil), series...)
	return out, true
}

// All returns windowed copies of the stats of every tracked query.
func (a *Aggregator) All(window int) map[model.QueryID]model.QueryStats {
	out := make(map[model.QueryID]model.QueryStats, len(a.stats))
	for qid := range a.stats {
		out[qid], _ = a.Stats(qid, window)
	}
	return out
}

// Reset drops every tracked query.
func (a *Aggregator) Reset() {
	for qid := range a.stats {
		a.Untrack(qid)
	}
}

func (a *Aggregator) ids() []model.QueryID {
	ids := make([]model.QueryID, 0, len(a.stats))
	for qid := range a.stats {
		ids = append(ids, qid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
