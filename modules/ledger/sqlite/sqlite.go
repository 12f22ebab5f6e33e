// Package sqlite persists one row per usage record so spend survives process
// restarts. The ledger is an optional sink on the orchestrator's metering
// path; when unconfigured, nothing is written anywhere.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magi-ai/magi/pkg/message"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// defaultBusyTimeout is the SQLite busy timeout in milliseconds.
const defaultBusyTimeout = 5000

// Record is one persisted usage row.
type Record struct {
	ID           int64
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	CostUSD      float64
	CreatedAt    time.Time
}

// Ledger is a SQLite-backed usage log. Safe for concurrent use; SQLite
// serialises writes through the single connection.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at the given path. The
// database is created with WAL mode, a 5 s busy timeout, and a single
// connection. The schema is migrated automatically.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("ledger: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// Record appends one usage row with the cost computed for it.
func (l *Ledger) Record(ctx context.Context, provider string, u message.Usage, costUSD float64) error {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage (provider, model, input_tokens, output_tokens, cached_tokens, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		provider, u.Model, u.InputTokens, u.OutputTokens, u.CachedTokens, costUSD,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: record usage: %w", err)
	}
	return nil
}

// Recent returns the n most recent rows, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, provider, model, input_tokens, output_tokens, cached_tokens, cost_usd, created_at
		FROM usage ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Provider, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.CachedTokens, &r.CostUSD, &created); err != nil {
			return nil, fmt.Errorf("ledger: scan row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate rows: %w", err)
	}
	return out, nil
}

// TotalSince returns the summed cost of rows at or after t.
func (l *Ledger) TotalSince(ctx context.Context, t time.Time) (float64, error) {
	var total float64
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM usage WHERE created_at >= ?`,
		t.UTC().Format(time.RFC3339Nano),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("ledger: total since: %w", err)
	}
	return total, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
