package feed

import "github.com/tinytelemetry/cepwatch/internal/model"

// Feed is the visible, append-only sequence of released records. Records are
// numbered from 1 in release order. When a window is set, only the most
// recent window records are kept in memory; sequence numbers keep growing.
type Feed struct {
	records []model.FeedRecord
	next    uint64
	window  int
}

// NewFeed creates a feed retaining at most window records (0 keeps everything).
func NewFeed(window int) *Feed {
	if window < 0 {
		window = 0
	}
	return &Feed{next: 1, window: window}
}

// Append releases a record to the feed and returns it with its sequence number.
func (f *Feed) Append(qid model.QueryID, text string) model.FeedRecord {
	rec := model.FeedRecord{Seq: f.next, QID: qid, Text: text}
	f.next++
	f.records = append(f.records, rec)
	if f.window > 0 && len(f.records) > f.window {
		drop := len(f.records) - f.window
		n := copy(f.records, f.records[drop:])
		clear(f.records[n:])
		f.records = f.records[:n]
	}
	return rec
}

// Len returns the number of records ever released.
func (f *Feed) Len() uint64 {
	return f.next - 1
}

// Since returns up to limit retained records with Seq greater than seq, oldest
// first. A limit of 0 or less returns every such record.
func (f *Feed) Since(seq uint64, limit int) []model.FeedRecord {
	if len(f.records) == 0 {
		return nil
	}
	first := f.records[0].Seq
	start := 0
	if seq >= first {
		start = int(seq - first + 1)
	}
	if start >= len(f.records) {
		return nil
	}
	end := len(f.records)
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	out := make([]model.FeedRecord, end-start)
	copy(out, f.records[start:end])
	return out
}

// Tail returns the last n retained records, oldest first.
func (f *Feed) Tail(n int) []model.FeedRecord {
	if n <= 0 || len(f.records) == 0 {
		return nil
	}
	if n > len(f.records) {
		n = len(f.records)
	}
	out := make([]model.FeedRecord, n)
	copy(out, f.records[len(f.records)-n:])
	return out
}
