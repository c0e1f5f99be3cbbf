// Package duckdb mirrors a watch session into an in-memory DuckDB database so
// operators can run ad-hoc SQL over released records and rate samples.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/cepwatch/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every read and write issued through a Store.
const DefaultQueryTimeout = 30 * time.Second

// Store is the session database. Writes come from the insert buffer and the
// retention cleaner, reads from the HTTP API.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string

	QueryTimeout time.Duration
}

// NewStore opens the session database at dbPath and applies pending
// migrations. An empty dbPath keeps the database in memory.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("session store dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	s := &Store{db: db, path: dbPath, QueryTimeout: DefaultQueryTimeout}
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		s.QueryTimeout = queryTimeout[0]
	}

	ctx, cancel := s.queryCtx()
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session store: %w", err)
	}
	if err := migrate.NewRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return s, nil
}

// InMemory reports whether the store lives only for this process.
func (s *Store) InMemory() bool { return s.path == "" }

// Path returns the database file, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection pool for tests and migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}
