// Package state manages the SQLite database that carries data between sync
// runs: resolved remote matches, the run history, and the HTTP response
// cache.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pressly/goose/v3"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/transport"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Run states recorded in the runs table.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is one row of the run history.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Items      int
	Errors     int
	Error      string
}

// Store is the SQLite-backed state repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/plextraktsync/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "plextraktsync", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, runs pending
// migrations, and configures WAL mode for better concurrent read performance.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// --- match cache -------------------------------------------------------------

// LookupMatch returns the cached resolver answer for key. A found entry
// with nil ids is a remembered miss.
func (s *Store) LookupMatch(ctx context.Context, key string) (model.IDs, time.Time, bool, error) {
	const q = `SELECT remote_ids, resolved_at FROM match_cache WHERE key = ?`
	var raw, at string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&raw, &at)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("querying match %q: %w", key, err)
	}
	resolvedAt, _ := parseTime(at)
	if raw == "" {
		return nil, resolvedAt, true, nil
	}
	var ids model.IDs
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decoding match %q: %w", key, err)
	}
	return ids, resolvedAt, true, nil
}

// RememberMatch stores a resolver answer. Nil ids records a miss.
func (s *Store) RememberMatch(ctx context.Context, key string, ids model.IDs) error {
	const q = `
		INSERT INTO match_cache (key, remote_ids, resolved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    remote_ids  = excluded.remote_ids,
		    resolved_at = excluded.resolved_at`
	raw := ""
	if ids != nil {
		b, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("encoding match %q: %w", key, err)
		}
		raw = string(b)
	}
	if _, err := s.db.ExecContext(ctx, q, key, raw, formatTime(time.Now())); err != nil {
		return fmt.Errorf("storing match %q: %w", key, err)
	}
	return nil
}

// --- runs --------------------------------------------------------------------

// RecordRun inserts or updates a run row.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	const q = `
		INSERT INTO runs (id, started_at, finished_at, state, items, errors, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    finished_at = excluded.finished_at,
		    state       = excluded.state,
		    items       = excluded.items,
		    errors      = excluded.errors,
		    error       = excluded.error`
	_, err := s.db.ExecContext(ctx, q,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.State,
		run.Items,
		run.Errors,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	const q = `
		SELECT id, started_at, finished_at, state, items, errors, error
		FROM runs ORDER BY started_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- response cache ----------------------------------------------------------

// GetResponse returns the cached response for key, or (nil, nil).
func (s *Store) GetResponse(ctx context.Context, key string) (*transport.CachedResponse, error) {
	const q = `SELECT status, header, body, stored_at FROM http_cache WHERE key = ?`
	var (
		resp           transport.CachedResponse
		header, stored string
	)
	err := s.db.QueryRowContext(ctx, q, key).Scan(&resp.Status, &header, &resp.Body, &stored)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("querying cached response: %w", err)
	}
	if header != "" {
		if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
			return nil, fmt.Errorf("decoding cached header: %w", err)
		}
	}
	resp.StoredAt, _ = parseTime(stored)
	return &resp, nil
}

// PutResponse stores resp under key, replacing any previous entry.
func (s *Store) PutResponse(ctx context.Context, key string, resp *transport.CachedResponse) error {
	const q = `
		INSERT INTO http_cache (key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    status    = excluded.status,
		    header    = excluded.header,
		    body      = excluded.body,
		    stored_at = excluded.stored_at`
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, q, key, resp.Status, string(header), body, formatTime(resp.StoredAt)); err != nil {
		return fmt.Errorf("storing cached response: %w", err)
	}
	return nil
}

// PurgeResponses deletes every cached response whose key starts with prefix.
func (s *Store) PurgeResponses(ctx context.Context, prefix string) error {
	const q = `DELETE FROM http_cache WHERE substr(key, 1, ?) = ?`
	if _, err := s.db.ExecContext(ctx, q, len(prefix), prefix); err != nil {
		return fmt.Errorf("purging responses under %q: %w", prefix, err)
	}
	return nil
}

// ClearResponses empties the response cache and reports how many entries
// were removed.
func (s *Store) ClearResponses(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM http_cache`)
	if err != nil {
		return 0, fmt.Errorf("clearing response cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanRun can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var started, finished string

	err := s.Scan(
		&run.ID,
		&started,
		&finished,
		&run.State,
		&run.Items,
		&run.Errors,
		&run.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning run row: %w", err)
	}

	run.StartedAt, _ = parseTime(started)
	run.FinishedAt, _ = parseTime(finished)

	return &run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
