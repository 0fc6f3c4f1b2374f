// Package store provides durable key/value persistence for settings and
// jobs over an embedded SQLite database, plus the boot-time recovery hook
// that rewrites dangling "running" jobs to "interrupted".
package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a single-writer SQLite connection. A single *sql.DB with
// SetMaxOpenConns(1) serializes writers, since modernc.org/sqlite is
// cgo-free but still single-writer at the file level.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the schema. Safe to call on every boot.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  payload TEXT NOT NULL,
  inserted_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs(status);
CREATE INDEX IF NOT EXISTS jobs_inserted_at_idx ON jobs(inserted_at);

CREATE TABLE IF NOT EXISTS job_metrics (
  job_id TEXT NOT NULL,
  ts INTEGER NOT NULL,
  bytes_done INTEGER NOT NULL,
  speed REAL NOT NULL,
  PRIMARY KEY (job_id, ts),
  FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func nowUnix() int64 { return time.Now().Unix() }

func parseIntDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseInt64Default(s string, def int64) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func stringDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func itoa(v int) string { return strconv.Itoa(v) }

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
