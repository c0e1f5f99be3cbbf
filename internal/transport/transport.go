// Package transport opens the per-query websocket result streams and turns
// their lifecycle into events for the watch engine.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// EventKind tags a connection event.
type EventKind int

const (
	// Opened is emitted once the handshake completes.
	Opened EventKind = iota
	// Frame carries one inbound message.
	Frame
	// Closed is emitted exactly once when the connection ends. Err is nil for
	// a clean close from either side.
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Frame:
		return "frame"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle step of a connection. ConnID is the handle id the
// connection was opened with, so receivers can ignore superseded handles.
type Event struct {
	ConnID  uint64
	QID     model.QueryID
	Kind    EventKind
	Payload []byte
	Err     error
}

// EmitFunc delivers an event to its receiver. Events of one connection are
// emitted in transport order from a single goroutine.
type EmitFunc func(Event)

// Conn is an open or opening connection handle.
type Conn interface {
	// Close ends the connection. It is safe to call more than once.
	Close()
}

// Opener starts connections.
type Opener interface {
	Open(connID uint64, qid model.QueryID, emit EmitFunc) Conn
}

// DefaultReadLimit caps a single inbound frame.
const DefaultReadLimit = 16 << 20

const closeGrace = time.Second

// Dialer opens result streams at {base}/{qid}.
type Dialer struct {
	base      string
	dialer    *websocket.Dialer
	header    http.Header
	readLimit int64
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithReadLimit overrides the maximum inbound frame size.
func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

// WithHeader sets extra handshake headers.
func WithHeader(h http.Header) Option {
	return func(d *Dialer) { d.header = h.Clone() }
}

// NewDialer creates a dialer for the given stream base URL.
func NewDialer(base string, handshakeTimeout time.Duration, opts ...Option) *Dialer {
	d := &Dialer{
		base: strings.TrimRight(base, "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// URL returns the stream URL of qid.
func (d *Dialer) URL(qid model.QueryID) string {
	return d.base + "/" + strconv.FormatInt(int64(qid), 10)
}

// Open dials the stream of qid in the background and reports its lifecycle
// through emit. A failed dial is reported as Closed with the dial error.
func (d *Dialer) Open(connID uint64, qid model.QueryID, emit EmitFunc) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{cancel: cancel}
	go d.run(ctx, c, connID, qid, emit)
	return c
}

func (d *Dialer) run(ctx context.Context, c *wsConn, connID uint64, qid model.QueryID, emit EmitFunc) {
	closed := func(err error) {
		emit(Event{ConnID: connID, QID: qid, Kind: Closed, Err: err})
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.URL(qid), d.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if c.isClosed() {
			closed(nil)
			return
		}
		closed(fmt.Errorf("dial %s: %w", d.URL(qid), err))
		return
	}
	if !c.attach(conn) {
		conn.Close()
		closed(nil)
		return
	}
	conn.SetReadLimit(d.readLimit)
	emit(Event{ConnID: connID, QID: qid, Kind: Opened})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			closed(classify(err, c.isClosed()))
			conn.Close()
			return
		}
		emit(Event{ConnID: connID, QID: qid, Kind: Frame, Payload: payload})
	}
}

// classify maps a read error to the Closed event error. Local closes and
// normal remote closes are clean.
func classify(err error, localClose bool) error {
	if localClose {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("stream closed: %w", err)
	}
	return fmt.Errorf("read: %w", err)
}

type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
}

func (c *wsConn) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()
}
