// Package feed implements the delivery path from decoded frames to the
// visible feed: a pending FIFO queue, the visible feed itself, and the
// controller that switches between real-time and throttled release.
package feed

import "github.com/tinytelemetry/cepwatch/internal/model"

// Entry is a decoded display block waiting for release.
type Entry struct {
	QID  model.QueryID
	Text string
}

// Queue is a FIFO of pending entries across all queries in global arrival
// order. There is no per-query fairness: a busy query can starve a quiet one
// while throttled.
type Queue struct {
	items []Entry
	head  int
}

// Push appends an entry to the back of the queue.
func (q *Queue) Push(e Entry) {
	q.items = append(q.items, e)
}

// Pop removes and returns the front entry.
func (q *Queue) Pop() (Entry, bool) {
	if q.head >= len(q.items) {
		return Entry{}, false
	}
	e := q.items[q.head]
	q.items[q.head] = Entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return e, true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Entries returns a copy of the pending entries, front first.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, q.Len())
	copy(out, q.items[q.head:])
	return out
}

// Reset drops every pending entry.
func (q *Queue) Reset() {
	q.items = nil
	q.head = 0
}
