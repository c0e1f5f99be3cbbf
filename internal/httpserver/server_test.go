package httpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/cepwatch/internal/duckdb"
	"github.com/tinytelemetry/cepwatch/internal/metrics"
	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/watch"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAPI struct {
	mu        sync.Mutex
	snap      model.Snapshot
	lastReq   model.SnapshotRequest
	selection []model.QueryID
	toggled   []model.QueryID
	throttle  int
	removed   []model.QueryID
	err       error
}

func (s *stubAPI) Snapshot(req model.SnapshotRequest) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = req
	snap := s.snap
	snap.ThrottleMS = s.throttle
	return snap, s.err
}

func (s *stubAPI) SetSelection(ids []model.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = ids
	return s.err
}

func (s *stubAPI) Toggle(id model.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggled = append(s.toggled, id)
	return s.err
}

func (s *stubAPI) SetThrottle(ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle = ms
	return s.err
}

func (s *stubAPI) Deactivate(id model.QueryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, id)
	return s.err
}

func newStub() *stubAPI {
	return &stubAPI{snap: model.Snapshot{
		SessionID: "session-1",
		Queries: []model.QueryView{
			{Query: model.Query{ID: 1, Name: "q1", Active: true}, Selected: true},
			{Query: model.Query{ID: 2, Name: "q2", Active: true}},
		},
		Selected:    []model.QueryID{1},
		Connections: map[model.QueryID]model.ConnState{1: model.ConnOpen, 5: model.ConnConnecting},
		Feed: []model.FeedRecord{
			{Seq: 4, QID: 1, Text: "a"},
			{Seq: 5, QID: 1, Text: "b"},
		},
		FeedLen: 5,
		Stats: map[model.QueryID]model.QueryStats{
			1: {Hits: model.RateStats{Total: 10, Max: 4}, ComplexEvents: model.RateStats{Total: 12, Max: 5}},
		},
	}}
}

func newTestServer(t *testing.T, api model.WatchAPI, cfg Config) http.Handler {
	t.Helper()
	return NewServer(api, cfg).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer(t, newStub(), Config{})
	w := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" || body["session_id"] != "session-1" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["connections"] != float64(1) {
		t.Errorf("connections = %v, want 1", body["connections"])
	}
}

func TestHealthEndpoint_Closed(t *testing.T) {
	stub := newStub()
	stub.err = watch.ErrClosed
	h := newTestServer(t, stub, Config{})
	w := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestQueriesEndpoint(t *testing.T) {
	h := newTestServer(t, newStub(), Config{})
	w := do(t, h, http.MethodGet, "/api/queries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Queries  []model.QueryView `json:"queries"`
		Selected []model.QueryID   `json:"selected"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Queries) != 2 || !body.Queries[0].Selected || body.Queries[0].Name != "q1" {
		t.Errorf("queries = %+v", body.Queries)
	}
	if len(body.Selected) != 1 || body.Selected[0] != 1 {
		t.Errorf("selected = %v", body.Selected)
	}
}

func TestSelectionEndpoints(t *testing.T) {
	stub := newStub()
	h := newTestServer(t, stub, Config{})

	w := do(t, h, http.MethodPut, "/api/selection", `{"ids":[2,3]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put selection status = %d: %s", w.Code, w.Body.String())
	}
	if len(stub.selection) != 2 || stub.selection[0] != 2 || stub.selection[1] != 3 {
		t.Errorf("selection = %v", stub.selection)
	}

	w = do(t, h, http.MethodPut, "/api/selection", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear selection status = %d", w.Code)
	}
	if stub.selection == nil || len(stub.selection) != 0 {
		t.Errorf("selection = %v, want empty", stub.selection)
	}

	w = do(t, h, http.MethodPut, "/api/selection", `{bad`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/selection/7/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	if len(stub.toggled) != 1 || stub.toggled[0] != 7 {
		t.Errorf("toggled = %v", stub.toggled)
	}

	w = do(t, h, http.MethodPost, "/api/selection/seven/toggle", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", w.Code)
	}
}

func TestThrottleEndpoints(t *testing.T) {
	stub := newStub()
	h := newTestServer(t, stub, Config{})

	w := do(t, h, http.MethodPut, "/api/throttle", `{"interval_ms":1500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put throttle status = %d: %s", w.Code, w.Body.String())
	}
	if stub.throttle != 1500 {
		t.Errorf("throttle = %d", stub.throttle)
	}

	w = do(t, h, http.MethodGet, "/api/throttle", "")
	if body := decodeBody(t, w); body["interval_ms"] != float64(1500) {
		t.Errorf("interval_ms = %v", body["interval_ms"])
	}

	w = do(t, h, http.MethodPut, "/api/throttle", `{"interval_ms":0}`)
	if w.Code != http.StatusOK || stub.throttle != 0 {
		t.Errorf("zero throttle: status %d, throttle %d", w.Code, stub.throttle)
	}

	for _, body := range []string{`{"interval_ms":-500}`, `{}`, `nope`} {
		w = do(t, h, http.MethodPut, "/api/throttle", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
	if stub.throttle != 0 {
		t.Errorf("rejected request changed throttle to %d", stub.throttle)
	}
}

func TestDeactivateEndpoint(t *testing.T) {
	stub := newStub()
	h := newTestServer(t, stub, Config{})
	w := do(t, h, http.MethodDelete, "/api/queries/2", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(stub.removed) != 1 || stub.removed[0] != 2 {
		t.Errorf("removed = %v", stub.removed)
	}
}

func TestFeedEndpoint(t *testing.T) {
	stub := newStub()
	h := newTestServer(t, stub, Config{})

	w := do(t, h, http.MethodGet, "/api/feed?since=3&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Records []model.FeedRecord `json:"records"`
		FeedLen uint64             `json:"feed_len"`
		Next    uint64             `json:"next"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Records) != 2 || body.Next != 5 || body.FeedLen != 5 {
		t.Errorf("unexpected page: %+v", body)
	}
	if stub.lastReq.FeedSince != 3 || stub.lastReq.FeedLimit != 2 {
		t.Errorf("request = %+v", stub.lastReq)
	}

	do(t, h, http.MethodGet, "/api/feed", "")
	if stub.lastReq.FeedLimit != defaultFeedLimit {
		t.Errorf("default limit = %d", stub.lastReq.FeedLimit)
	}
	do(t, h, http.MethodGet, "/api/feed?limit=50000", "")
	if stub.lastReq.FeedLimit != maxFeedLimit {
		t.Errorf("capped limit = %d", stub.lastReq.FeedLimit)
	}

	w = do(t, h, http.MethodGet, "/api/feed?since=-1", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative since status = %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	stub := newStub()
	h := newTestServer(t, stub, Config{})

	w := do(t, h, http.MethodGet, "/api/stats?window=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Stats map[model.QueryID]model.QueryStats `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Stats[1].Hits.Total != 10 || body.Stats[1].ComplexEvents.Max != 5 {
		t.Errorf("stats = %+v", body.Stats)
	}
	if stub.lastReq.SeriesWindow != 10 {
		t.Errorf("window = %d", stub.lastReq.SeriesWindow)
	}
	if len(stub.snap.Feed) > 0 && stub.lastReq.FeedSince == 0 {
		t.Error("stats request should skip the feed")
	}

	do(t, h, http.MethodGet, "/api/stats", "")
	if stub.lastReq.SeriesWindow != model.DefaultSeriesWindow {
		t.Errorf("default window = %d", stub.lastReq.SeriesWindow)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Frame(1, 3)
	h := newTestServer(t, newStub(), Config{Metrics: m.Handler()})

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cepwatch_stream_frames_total") {
		t.Error("frames counter missing from exposition")
	}

	h = newTestServer(t, newStub(), Config{})
	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d", w.Code)
	}
}

func newStoreServer(t *testing.T) (*duckdb.Store, http.Handler) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, newTestServer(t, newStub(), Config{Store: store})
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	store, h := newStoreServer(t)
	err := store.InsertBatch("session-1", duckdb.Batch{Records: []duckdb.ReleasedRecord{
		{FeedRecord: model.FeedRecord{Seq: 1, QID: 3, Text: "x"}, ReleasedAt: time.Now()},
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := do(t, h, http.MethodPost, "/api/query", `{"sql": "SELECT COUNT(*) AS cnt FROM feed_records"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["row_count"] != float64(1) {
		t.Errorf("row_count = %v", body["row_count"])
	}
}

func TestQueryEndpoint_RejectsWrites(t *testing.T) {
	_, h := newStoreServer(t)
	w := do(t, h, http.MethodPost, "/api/query", `{"sql": "DELETE FROM feed_records"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete status = %d, want 400", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/query", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sql status = %d, want 400", w.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	_, h := newStoreServer(t)
	w := do(t, h, http.MethodGet, "/api/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("schema status = %d; body: %s", w.Code, w.Body.String())
	}
	var body struct {
		Tables    map[string][]map[string]string `json:"tables"`
		RowCounts map[string]int64               `json:"row_counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"rate_samples", "feed_records"} {
		if len(body.Tables[table]) == 0 {
			t.Errorf("table %s missing from schema", table)
		}
		if _, ok := body.RowCounts[table]; !ok {
			t.Errorf("row count for %s missing", table)
		}
	}
	if _, ok := body.Tables["schema_migrations"]; ok {
		t.Error("schema_migrations should be hidden")
	}
}

func TestSQLEndpoints_StoreDisabled(t *testing.T) {
	h := newTestServer(t, newStub(), Config{})
	if w := do(t, h, http.MethodGet, "/api/schema", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("schema status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/query", `{"sql":"SELECT 1"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("query status = %d", w.Code)
	}
}

func TestFeedStream(t *testing.T) {
	broker := NewBroker()
	ts := httptest.NewServer(newTestServer(t, newStub(), Config{Broker: broker}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/feed/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	broker.Released([]model.FeedRecord{{Seq: 9, QID: 2, Text: "hello"}})

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if event != "record" {
		t.Errorf("event = %q", event)
	}
	var rec model.FeedRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		t.Fatalf("data %q: %v", data, err)
	}
	if rec.Seq != 9 || rec.QID != 2 || rec.Text != "hello" {
		t.Errorf("record = %+v", rec)
	}

	broker.Close()
}

func TestFeedStream_Disabled(t *testing.T) {
	h := newTestServer(t, newStub(), Config{})
	if w := do(t, h, http.MethodGet, "/api/feed/stream", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}
