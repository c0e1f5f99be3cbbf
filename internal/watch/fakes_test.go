package watch

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/stats"
	"github.com/tinytelemetry/cepwatch/internal/transport"
)

type fakeConn struct {
	connID uint64
	qid    model.QueryID
	emit   transport.EmitFunc

	mu     sync.Mutex
	closed int
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) open()                 { c.emit(transport.Event{ConnID: c.connID, QID: c.qid, Kind: transport.Opened}) }
func (c *fakeConn) frame(payload string)  { c.emit(transport.Event{ConnID: c.connID, QID: c.qid, Kind: transport.Frame, Payload: []byte(payload)}) }
func (c *fakeConn) remoteClose(err error) { c.emit(transport.Event{ConnID: c.connID, QID: c.qid, Kind: transport.Closed, Err: err}) }

// fakeOpener records every Open call. When autoOpen is set the connection
// reports Opened right away.
type fakeOpener struct {
	autoOpen bool

	mu    sync.Mutex
	conns []*fakeConn
}

func (o *fakeOpener) Open(connID uint64, qid model.QueryID, emit transport.EmitFunc) transport.Conn {
	c := &fakeConn{connID: connID, qid: qid, emit: emit}
	o.mu.Lock()
	o.conns = append(o.conns, c)
	o.mu.Unlock()
	if o.autoOpen {
		go c.open()
	}
	return c
}

func (o *fakeOpener) all() []*fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeConn(nil), o.conns...)
}

// latest returns the most recent connection opened for qid.
func (o *fakeOpener) latest(qid model.QueryID) *fakeConn {
	conns := o.all()
	for i := len(conns) - 1; i >= 0; i-- {
		if conns[i].qid == qid {
			return conns[i]
		}
	}
	return nil
}

type fakeDirectory struct {
	mu            sync.Mutex
	queries       []model.Query
	streams       []model.StreamInfo
	err           error
	inactivateErr error
	inactivated   []model.QueryID
}

func (d *fakeDirectory) ActiveQueries(ctx context.Context) ([]model.Query, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]model.Query(nil), d.queries...), nil
}

func (d *fakeDirectory) Streams(ctx context.Context) ([]model.StreamInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.streams, nil
}

func (d *fakeDirectory) InactivateQuery(ctx context.Context, id model.QueryID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inactivated = append(d.inactivated, id)
	return d.inactivateErr
}

func (d *fakeDirectory) setQueries(qs ...model.Query) {
	d.mu.Lock()
	d.queries = qs
	d.mu.Unlock()
}

var testStreams = []model.StreamInfo{{EventsInfo: []model.EventTypeInfo{
	{ID: 1, Name: "Tick", Attributes: []model.AttributeInfo{{Name: "n"}}},
}}}

// tickPayload renders a frame with one complex event per value.
func tickPayload(values ...int) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"start":0,"end":0,"eventss":[{"event":{"event_type_id":1,"attributes":[%d]}}]}`, v)
	}
	return out + "]"
}

func tickLine(v int) string {
	return fmt.Sprintf(`Event Triggered at time 1970-01-01T00:00:00.000Z - {"start":0,"end":0,"events":[{"event_type":"Tick","n":%d}]}`, v)
}

type recordingListener struct {
	mu       sync.Mutex
	released []model.FeedRecord
	samples  int
}

func (l *recordingListener) Released(recs []model.FeedRecord) {
	l.mu.Lock()
	l.released = append(l.released, recs...)
	l.mu.Unlock()
}

func (l *recordingListener) Sampled(samples []stats.Sample) {
	l.mu.Lock()
	l.samples += len(samples)
	l.mu.Unlock()
}
