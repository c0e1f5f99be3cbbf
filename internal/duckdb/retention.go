package duckdb

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// RetentionCleaner periodically deletes session rows older than MaxAge so a
// long-running session keeps a bounded store.
type RetentionCleaner struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRetentionCleaner creates a retention cleaner. Returns nil when MaxAge is
// 0 (disabled).
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.MaxAge <= 0 {
		return nil
	}
	interval := conf.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	rc := &RetentionCleaner{
		store:    store,
		maxAge:   conf.MaxAge,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := rc.now().Add(-rc.maxAge)

	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.WithError(err).Error("duckdb: retention cleanup failed")
		return
	}
	if rows > 0 {
		log.WithFields(log.Fields{"rows": rows, "max_age": rc.maxAge}).Debug("duckdb: retention cleanup")
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
