// Package diaglog persists the scanner's diagnostic feed: one record per
// automation per cycle explaining why it did or did not trade. Kept in its
// own append-heavy sqlite database, separate from the entity store.
package diaglog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"wheelhouse/internal/types"
)

type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("diagnostic log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory is used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS diagnostics (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    trace_id      TEXT NOT NULL,
    user_id       TEXT NOT NULL,
    automation_id INTEGER NOT NULL,
    symbol        TEXT NOT NULL,
    outcome       TEXT NOT NULL,
    reason        TEXT NOT NULL,
    confidence    REAL NOT NULL DEFAULT 0,
    direction     TEXT NOT NULL DEFAULT '',
    candidate     TEXT NOT NULL DEFAULT '',
    score         REAL NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diag_automation ON diagnostics(automation_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_diag_trace ON diagnostics(trace_id);
`)
	return err
}

func (s *Store) Insert(ctx context.Context, d *types.Diagnostic) error {
	candidate := ""
	if d.Candidate != nil {
		raw, err := json.Marshal(d.Candidate)
		if err != nil {
			return err
		}
		candidate = string(raw)
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO diagnostics (trace_id, user_id, automation_id, symbol, outcome, reason, confidence, direction, candidate, score, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TraceID, d.UserID, d.AutomationID, d.Symbol, string(d.Outcome), d.Reason,
		d.Confidence, string(d.Direction), candidate, d.Score, created.Unix())
	if err != nil {
		return err
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// LatestForAutomation returns the most recent records for one automation,
// newest first.
func (s *Store) LatestForAutomation(ctx context.Context, automationID int64, limit int) ([]types.Diagnostic, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, trace_id, user_id, automation_id, symbol, outcome, reason, confidence, direction, candidate, score, created_at
FROM diagnostics WHERE automation_id = ? ORDER BY id DESC LIMIT ?`, automationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDiagnostics(rows)
}

// ByTrace returns every automation's record for one cycle.
func (s *Store) ByTrace(ctx context.Context, traceID string) ([]types.Diagnostic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, trace_id, user_id, automation_id, symbol, outcome, reason, confidence, direction, candidate, score, created_at
FROM diagnostics WHERE trace_id = ? ORDER BY id`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDiagnostics(rows)
}

func scanDiagnostics(rows *sql.Rows) ([]types.Diagnostic, error) {
	var out []types.Diagnostic
	for rows.Next() {
		var d types.Diagnostic
		var outcome, direction, candidate string
		var created int64
		if err := rows.Scan(&d.ID, &d.TraceID, &d.UserID, &d.AutomationID, &d.Symbol,
			&outcome, &d.Reason, &d.Confidence, &direction, &candidate, &d.Score, &created); err != nil {
			return nil, err
		}
		d.Outcome = types.DiagnosticOutcome(outcome)
		d.Direction = types.SignalDirection(direction)
		d.CreatedAt = time.Unix(created, 0).UTC()
		if candidate != "" {
			_ = json.Unmarshal([]byte(candidate), &d.Candidate)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
