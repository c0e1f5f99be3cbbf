package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) closed() bool {
	for _, ev := range r.snapshot() {
		if ev.Kind == Closed {
			return true
		}
	}
	return false
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialer_FramesThenRemoteClose(t *testing.T) {
	paths := make(chan string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[1]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[2]`))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Wait for the client to answer the close handshake.
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	rec := &recorder{}
	d := NewDialer(wsURL(srv)+"/", time.Second)
	conn := d.Open(11, 7, rec.emit)
	defer conn.Close()

	require.Eventually(t, rec.closed, 2*time.Second, 10*time.Millisecond)

	events := rec.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, "/7", <-paths)
	assert.Equal(t, Opened, events[0].Kind)
	assert.Equal(t, Frame, events[1].Kind)
	assert.Equal(t, `[1]`, string(events[1].Payload))
	assert.Equal(t, `[2]`, string(events[2].Payload))
	assert.Equal(t, Closed, events[3].Kind)
	assert.NoError(t, events[3].Err)
	for _, ev := range events {
		assert.Equal(t, uint64(11), ev.ConnID)
		assert.Equal(t, model.QueryID(7), ev.QID)
	}
}

func TestDialer_AbnormalCloseIsError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	rec := &recorder{}
	conn := NewDialer(wsURL(srv), time.Second).Open(1, 3, rec.emit)
	defer conn.Close()

	require.Eventually(t, rec.closed, 2*time.Second, 10*time.Millisecond)
	events := rec.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, Closed, last.Kind)
	assert.Error(t, last.Err)
}

func TestDialer_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := &recorder{}
	conn := NewDialer(wsURL(srv), time.Second).Open(2, 5, rec.emit)
	defer conn.Close()

	require.Eventually(t, rec.closed, 2*time.Second, 10*time.Millisecond)
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, Closed, events[0].Kind)
	assert.ErrorContains(t, events[0].Err, "dial")
}

func TestDialer_LocalCloseIsCleanAndIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	conn := NewDialer(wsURL(srv), time.Second).Open(4, 9, rec.emit)

	require.Eventually(t, func() bool {
		events := rec.snapshot()
		return len(events) > 0 && events[0].Kind == Opened
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	conn.Close()

	require.Eventually(t, rec.closed, 2*time.Second, 10*time.Millisecond)
	events := rec.snapshot()
	assert.NoError(t, events[len(events)-1].Err)
}

func TestDialer_URL(t *testing.T) {
	d := NewDialer("ws://engine:9000/results/", time.Second)
	assert.Equal(t, "ws://engine:9000/results/42", d.URL(42))
}
