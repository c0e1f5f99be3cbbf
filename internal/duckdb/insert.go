package duckdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/stats"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// ReleasedRecord is a feed record with its release time.
type ReleasedRecord struct {
	model.FeedRecord
	ReleasedAt time.Time
}

// Batch is one unit of writes to the session store.
type Batch struct {
	Samples []stats.Sample
	Records []ReleasedRecord
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Samples) + len(b.Records)
}

// BatchWriter persists batches for a session.
type BatchWriter interface {
	InsertBatch(sessionID string, b Batch) error
}

// InsertBuffer batches session rows and flushes them to DuckDB asynchronously.
// Released and Sampled never block on DuckDB writes.
type InsertBuffer struct {
	writer        BatchWriter
	sessionID     string
	now           func() time.Time
	mu            sync.Mutex
	pending       Batch
	flushChan     chan Batch
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once

	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	SessionID      string
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
}

// NewInsertBuffer creates a new insert buffer that flushes to the writer.
func NewInsertBuffer(writer BatchWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 2000
	flushInterval := 100 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	sessionID := ""
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		sessionID = conf[0].SessionID
	}

	b := &InsertBuffer{
		writer:        writer,
		sessionID:     sessionID,
		now:           time.Now,
		flushChan:     make(chan Batch, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.WithField("inline_flushes", count).Warn("duckdb: backpressure, flush channel full")
	}
}

func (b *InsertBuffer) takePending() Batch {
	batch := b.pending
	b.pending = Batch{}
	return batch
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if b.pending.Len() == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takePending()
	b.mu.Unlock()

	b.dispatch(batch)
}

// dispatch hands a batch to the flush worker, flushing inline when the queue is full.
func (b *InsertBuffer) dispatch(batch Batch) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.writer.InsertBatch(b.sessionID, batch); err != nil {
			log.WithError(err).Error("duckdb: inline flush failed")
		}
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.writer.InsertBatch(b.sessionID, batch); err != nil {
			log.WithError(err).Error("duckdb: flush failed")
		}
	}
}

func (b *InsertBuffer) add(fn func(p *Batch)) {
	select {
	case <-b.done:
		return
	default:
	}

	b.mu.Lock()
	fn(&b.pending)
	var batch Batch
	full := b.pending.Len() >= b.maxBatch
	if full {
		batch = b.takePending()
	}
	b.mu.Unlock()

	if full {
		b.dispatch(batch)
	}
}

// Released queues released feed records.
func (b *InsertBuffer) Released(recs []model.FeedRecord) {
	at := b.now()
	b.add(func(p *Batch) {
		for _, r := range recs {
			p.Records = append(p.Records, ReleasedRecord{FeedRecord: r, ReleasedAt: at})
		}
	})
}

// Sampled queues rate samples.
func (b *InsertBuffer) Sampled(samples []stats.Sample) {
	b.add(func(p *Batch) {
		p.Samples = append(p.Samples, samples...)
	})
}

// Stop flushes remaining rows and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// The final drain must reach the channel before it closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
	})
}

// InsertBatch writes a batch in a single transaction. When the transaction
// fails the rows are retried one by one to salvage as many as possible.
func (s *Store) InsertBatch(sessionID string, b Batch) error {
	if b.Len() == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, sessionID, b)
	if err == nil {
		return nil
	}

	var failed int
	for _, sample := range b.Samples {
		if rerr := s.insertBatchTx(ctx, sessionID, Batch{Samples: []stats.Sample{sample}}); rerr != nil {
			failed++
			log.WithFields(log.Fields{"qid": sample.QID}).WithError(rerr).Warn("duckdb: dropping rate sample")
		}
	}
	for _, rec := range b.Records {
		if rerr := s.insertBatchTx(ctx, sessionID, Batch{Records: []ReleasedRecord{rec}}); rerr != nil {
			failed++
			log.WithFields(log.Fields{"qid": rec.QID, "seq": rec.Seq}).WithError(rerr).Warn("duckdb: dropping feed record")
		}
	}
	if failed > 0 {
		log.WithFields(log.Fields{"failed": failed, "total": b.Len()}).Warn("duckdb: batch partially failed")
	}
	return nil
}

func (s *Store) insertBatchTx(ctx context.Context, sessionID string, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if len(b.Samples) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO rate_samples (session_id, qid, ts, num_hits, num_complex_events) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, smp := range b.Samples {
			if _, err := stmt.ExecContext(ctx, sessionID, int64(smp.QID), smp.Time,
				int64(smp.NumHits), int64(smp.NumComplexEvents)); err != nil {
				return fmt.Errorf("sample insert: %w", err)
			}
		}
	}

	if len(b.Records) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO feed_records (session_id, seq, qid, released_at, text) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range b.Records {
			if _, err := stmt.ExecContext(ctx, sessionID, int64(rec.Seq), int64(rec.QID),
				rec.ReleasedAt, rec.Text); err != nil {
				return fmt.Errorf("record insert: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
