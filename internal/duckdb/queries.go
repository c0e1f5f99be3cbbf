package duckdb

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

const maxQueryRows = 1000

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// validateReadOnly rejects anything but a single SELECT/WITH statement.
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("query must not contain semicolons")
	}

	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}
	return nil
}

// ExecuteQuery runs a read-only SQL query and returns at most 1000 rows.
func (s *Store) ExecuteQuery(query string) ([]map[string]any, error) {
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			log.WithError(err).Warn("duckdb: scan error in ExecuteQuery")
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the session tables.
func (s *Store) GetSchemaDescription() string {
	return `Table 'rate_samples': session_id (VARCHAR), qid (BIGINT), ts (TIMESTAMP), ` +
		`num_hits (BIGINT), num_complex_events (BIGINT). One row per watched query per second. ` +
		`Table 'feed_records': session_id (VARCHAR), seq (BIGINT), qid (BIGINT), ` +
		`released_at (TIMESTAMP), text (VARCHAR). One row per record released to the feed.`
}

// TableRowCounts returns the row count for each known table using a hardcoded allowlist.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"rate_samples", "feed_records"}
	counts := make(map[string]int64, len(allowedTables))
	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = count
	}
	return counts, nil
}

// QueryTotal summarises the stored samples of one query.
type QueryTotal struct {
	QID              model.QueryID `json:"qid" yaml:"qid"`
	Samples          int64         `json:"samples" yaml:"samples"`
	Hits             int64         `json:"hits" yaml:"hits"`
	ComplexEvents    int64         `json:"complex_events" yaml:"complex_events"`
	MaxHitsPerSec    int64         `json:"max_hits_per_sec" yaml:"max_hits_per_sec"`
	MaxComplexPerSec int64         `json:"max_complex_events_per_sec" yaml:"max_complex_events_per_sec"`
	Records          int64         `json:"records" yaml:"records"`
	FirstSample      time.Time     `json:"first_sample" yaml:"first_sample"`
	LastSample       time.Time     `json:"last_sample" yaml:"last_sample"`
}

// QueryTotals aggregates the stored samples and records of a session per query.
func (s *Store) QueryTotals(sessionID string) ([]QueryTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.qid,
			COUNT(*) AS samples,
			CAST(SUM(s.num_hits) AS BIGINT) AS hits,
			CAST(SUM(s.num_complex_events) AS BIGINT) AS complex_events,
			MAX(s.num_hits) AS max_hits,
			MAX(s.num_complex_events) AS max_complex,
			COALESCE((SELECT COUNT(*) FROM feed_records r WHERE r.session_id = s.session_id AND r.qid = s.qid), 0) AS records,
			MIN(s.ts) AS first_sample,
			MAX(s.ts) AS last_sample
		FROM rate_samples s
		WHERE s.session_id = ?
		GROUP BY s.session_id, s.qid
		ORDER BY s.qid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueryTotal
	for rows.Next() {
		var t QueryTotal
		var qid int64
		if err := rows.Scan(&qid, &t.Samples, &t.Hits, &t.ComplexEvents,
			&t.MaxHitsPerSec, &t.MaxComplexPerSec, &t.Records, &t.FirstSample, &t.LastSample); err != nil {
			return nil, fmt.Errorf("scan query totals: %w", err)
		}
		t.QID = model.QueryID(qid)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentRecords returns the latest stored records of a query, oldest first.
func (s *Store) RecentRecords(sessionID string, qid model.QueryID, limit int) ([]model.FeedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, qid, text FROM (
			SELECT seq, qid, text FROM feed_records
			WHERE session_id = ? AND qid = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, int64(qid), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FeedRecord
	for rows.Next() {
		var seq, id int64
		var rec model.FeedRecord
		if err := rows.Scan(&seq, &id, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan feed record: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.QID = model.QueryID(id)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBefore removes samples and records older than cutoff and returns the
// number of deleted rows.
func (s *Store) DeleteBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	var total int64
	for _, stmt := range []string{
		`DELETE FROM rate_samples WHERE ts < ?`,
		`DELETE FROM feed_records WHERE released_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, stmt, cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
