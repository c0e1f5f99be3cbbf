// Package httpserver exposes a watch session over HTTP: control endpoints,
// feed and stats reads, a server-sent event stream of released records,
// read-only SQL over the session store and prometheus metrics.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/watch"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
)

// QueryStore is the narrow store contract required by the SQL endpoints.
type QueryStore interface {
	ExecuteQuery(query string) ([]map[string]any, error)
	GetSchemaDescription() string
	TableRowCounts() (map[string]int64, error)
}

// Config wires the optional parts of the API.
type Config struct {
	Addr    string
	Store   QueryStore   // nil disables /api/schema and /api/query
	Metrics http.Handler // nil disables /metrics
	Broker  *Broker      // nil disables /api/feed/stream
}

// Server provides an HTTP API over a watch session.
type Server struct {
	addr      string
	api       model.WatchAPI
	store     QueryStore
	metrics   http.Handler
	broker    *Broker
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(api model.WatchAPI, cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		api:       api,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		broker:    cfg.Broker,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/queries", s.handleQueries)
	r.DELETE("/api/queries/:id", s.handleDeactivate)
	r.PUT("/api/selection", s.handleSetSelection)
	r.POST("/api/selection/:id/toggle", s.handleToggle)
	r.GET("/api/throttle", s.handleGetThrottle)
	r.PUT("/api/throttle", s.handleSetThrottle)
	r.GET("/api/feed", s.handleFeed)
	r.GET("/api/feed/stream", s.handleFeedStream)
	r.GET("/api/stats", s.handleStats)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()
	log.WithField("addr", listener.Addr().String()).Info("httpserver: listening")

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server. Cancelling the base context
// ends open event streams.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// light asks for a snapshot without feed records and with one series point.
func (s *Server) light() (model.Snapshot, error) {
	return s.api.Snapshot(model.SnapshotRequest{FeedSince: math.MaxUint64, SeriesWindow: 1})
}

func apiError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, watch.ErrClosed) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context) (model.QueryID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid query id %q", c.Param("id"))})
		return 0, false
	}
	return model.QueryID(id), true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s %q", key, raw)})
		return 0, false
	}
	return n, true
}

func (s *Server) handleHealth(c *gin.Context) {
	snap, err := s.light()
	if err != nil {
		apiError(c, err)
		return
	}
	open := 0
	for _, st := range snap.Connections {
		if st == model.ConnOpen {
			open++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"session_id":  snap.SessionID,
		"connections": open,
	})
}

func (s *Server) handleQueries(c *gin.Context) {
	snap, err := s.light()
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queries":  snap.Queries,
		"selected": snap.Selected,
	})
}

func (s *Server) handleDeactivate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.api.Deactivate(id); err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleSetSelection(c *gin.Context) {
	var req struct {
		IDs []model.QueryID `json:"ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if req.IDs == nil {
		req.IDs = []model.QueryID{}
	}
	if err := s.api.SetSelection(req.IDs); err != nil {
		apiError(c, err)
		return
	}
	s.handleQueries(c)
}

func (s *Server) handleToggle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.api.Toggle(id); err != nil {
		apiError(c, err)
		return
	}
	s.handleQueries(c)
}

func (s *Server) handleGetThrottle(c *gin.Context) {
	snap, err := s.light()
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interval_ms": snap.ThrottleMS, "pending": snap.Pending})
}

func (s *Server) handleSetThrottle(c *gin.Context) {
	var req struct {
		IntervalMS *int `json:"interval_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing interval_ms field"})
		return
	}
	if *req.IntervalMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_ms must not be negative"})
		return
	}
	if err := s.api.SetThrottle(*req.IntervalMS); err != nil {
		apiError(c, err)
		return
	}
	s.handleGetThrottle(c)
}

func (s *Server) handleFeed(c *gin.Context) {
	since, ok := queryInt(c, "since", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", defaultFeedLimit)
	if !ok {
		return
	}
	if limit == 0 || limit > maxFeedLimit {
		limit = maxFeedLimit
	}
	snap, err := s.api.Snapshot(model.SnapshotRequest{FeedSince: uint64(since), FeedLimit: limit, SeriesWindow: 1})
	if err != nil {
		apiError(c, err)
		return
	}
	next := uint64(since)
	if n := len(snap.Feed); n > 0 {
		next = snap.Feed[n-1].Seq
	}
	records := snap.Feed
	if records == nil {
		records = []model.FeedRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"records":  records,
		"feed_len": snap.FeedLen,
		"next":     next,
	})
}

func (s *Server) handleFeedStream(c *gin.Context) {
	if s.broker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed stream disabled"})
		return
	}
	sub, cancel := s.broker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case rec, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent("record", rec)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) handleStats(c *gin.Context) {
	window, ok := queryInt(c, "window", model.DefaultSeriesWindow)
	if !ok {
		return
	}
	snap, err := s.api.Snapshot(model.SnapshotRequest{FeedSince: math.MaxUint64, SeriesWindow: window})
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taken": snap.Taken,
		"stats": snap.Stats,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store disabled"})
		return
	}
	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		if tableName == "schema_migrations" {
			continue
		}
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": s.store.GetSchemaDescription(),
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store disabled"})
		return
	}
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	columns := []string{}
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
		sort.Strings(columns)
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
