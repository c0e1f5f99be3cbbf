package model

import (
	"encoding/json"
	"time"
)

// QueryID identifies a running CEP query whose results are streamed.
type QueryID int64

// EventTypeID identifies an event type across all known streams.
type EventTypeID int64

// Query is one entry of the query directory.
type Query struct {
	ID     QueryID `json:"result_handler_identifier"`
	Name   string  `json:"query_name"`
	Active bool    `json:"active"`
}

// AttributeInfo names one positional attribute of an event type.
type AttributeInfo struct {
	Name string `json:"name"`
}

// EventTypeInfo describes an event type. Attribute values in result payloads
// are positional and line up with Attributes by index.
type EventTypeInfo struct {
	ID         EventTypeID     `json:"id"`
	Name       string          `json:"name"`
	Attributes []AttributeInfo `json:"attributes_info"`
}

// StreamInfo is one entry of the stream directory.
type StreamInfo struct {
	EventsInfo []EventTypeInfo `json:"events_info"`
}

// Event is a single sub-event of a complex event as sent by the engine.
type Event struct {
	TypeID     EventTypeID       `json:"event_type_id"`
	Attributes []json.RawMessage `json:"attributes"`
}

// WrappedEvent is the envelope the engine puts around each sub-event.
type WrappedEvent struct {
	Event Event `json:"event"`
}

// ComplexEvent is one correlated query output. Start and End are nanosecond
// epoch timestamps.
type ComplexEvent struct {
	Start  int64          `json:"start"`
	End    int64          `json:"end"`
	Events []WrappedEvent `json:"-"`
}

// UnmarshalJSON accepts the engine's "eventss" field and the plain "events"
// spelling.
func (c *ComplexEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		Start   int64          `json:"start"`
		End     int64          `json:"end"`
		Eventss []WrappedEvent `json:"eventss"`
		Events  []WrappedEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Start = wire.Start
	c.End = wire.End
	c.Events = wire.Eventss
	if c.Events == nil {
		c.Events = wire.Events
	}
	return nil
}

// ConnState is the lifecycle state of one per-query connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnErrored
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnErrored:
		return "errored"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON maps and bodies.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *ConnState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = ConnConnecting
	case "open":
		*s = ConnOpen
	case "errored":
		*s = ConnErrored
	default:
		*s = ConnClosed
	}
	return nil
}

// PendingCounters accumulate arrivals for one query between aggregator ticks.
type PendingCounters struct {
	NumHits          uint64 `json:"num_hits"`
	NumComplexEvents uint64 `json:"num_complex_events"`
}

// FeedRecord is one decoded display block released to the visible feed.
// Seq is its 1-based position in the feed.
type FeedRecord struct {
	Seq  uint64  `json:"seq"`
	QID  QueryID `json:"qid"`
	Text string  `json:"text"`
}

// RateSample is one second worth of counts for a query.
type RateSample struct {
	Time             time.Time `json:"time"`
	NumHits          uint64    `json:"num_hits"`
	NumComplexEvents uint64    `json:"num_complex_events"`
}

// RateStats is the running total and the largest single-second value of a metric.
type RateStats struct {
	Total uint64 `json:"total"`
	Max   uint64 `json:"max"`
}

// QueryStats is the statistics view of one watched query.
type QueryStats struct {
	Series         []RateSample `json:"series"`
	Hits           RateStats    `json:"hits"`
	ComplexEvents  RateStats    `json:"complex_events"`
	DecodeFailures uint64       `json:"decode_failures"`
}

// Last returns the most recent sample, or a zero sample when none exists yet.
func (q QueryStats) Last() RateSample {
	if len(q.Series) == 0 {
		return RateSample{}
	}
	return q.Series[len(q.Series)-1]
}

// NoticeLevel grades a user-facing notification.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a transient notification surfaced to the operator.
type Notice struct {
	Time    time.Time   `json:"time"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// QueryView joins a directory entry with its watch state.
type QueryView struct {
	Query
	Selected bool       `json:"selected"`
	Conn     *ConnState `json:"conn,omitempty"`
}

// SnapshotRequest bounds how much of the feed and series a snapshot copies.
type SnapshotRequest struct {
	FeedSince    uint64 `json:"feed_since"`
	FeedLimit    int    `json:"feed_limit"`
	SeriesWindow int    `json:"series_window"`
}

// Snapshot is a point-in-time read model of a watch session.
type Snapshot struct {
	SessionID   string                 `json:"session_id"`
	Taken       time.Time              `json:"taken"`
	Queries     []QueryView            `json:"queries"`
	Selected    []QueryID              `json:"selected"`
	Connections map[QueryID]ConnState  `json:"connections"`
	ThrottleMS  int                    `json:"throttle_ms"`
	Pending     int                    `json:"pending"`
	Feed        []FeedRecord           `json:"feed"`
	FeedLen     uint64                 `json:"feed_len"`
	Stats       map[QueryID]QueryStats `json:"stats"`
	Notices     []Notice               `json:"notices"`
}
