// Package index provides the SQLite-backed relational dictionary: notes,
// keywords, note–keyword links and keyword suggestions, with integrity
// checking and repair.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	filename       TEXT NOT NULL,
	canonical_path TEXT NOT NULL UNIQUE,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS keywords (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword TEXT NOT NULL UNIQUE,
	folder  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS note_keywords (
	note_id    INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	keyword_id INTEGER NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
	link_path  TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (note_id, keyword_id)
);

CREATE TABLE IF NOT EXISTS suggestions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	note_id    INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	keyword    TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.95 CHECK (confidence >= 0 AND confidence <= 1),
	applied    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(note_id, keyword)
);

CREATE INDEX IF NOT EXISTS idx_notes_filename ON notes(filename);
CREATE INDEX IF NOT EXISTS idx_note_keywords_keyword ON note_keywords(keyword_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_pending ON suggestions(note_id, applied);
`

// tables lists every table with its columns in foreign-key load order.
var tables = []struct {
	name    string
	columns []string
}{
	{"notes", []string{"id", "filename", "canonical_path", "created_at"}},
	{"keywords", []string{"id", "keyword", "folder"}},
	{"note_keywords", []string{"note_id", "keyword_id", "link_path", "position"}},
	{"suggestions", []string{"id", "note_id", "keyword", "confidence", "applied"}},
}

// DB wraps a sql.DB with dictionary-specific operations.
type DB struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger

	backupDir   string
	busyRetries int
	busyDelay   time.Duration

	// checkIntegrity is swapped in tests to simulate corruption.
	checkIntegrity func(ctx context.Context) ([]string, error)
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithBackupDir sets where Repair writes backups. Defaults to the database
// file's directory.
func WithBackupDir(dir string) Option {
	return func(db *DB) { db.backupDir = dir }
}

// WithBusyRetry bounds the retries on SQLITE_BUSY/SQLITE_LOCKED. The delay
// doubles after every attempt.
func WithBusyRetry(retries int, delay time.Duration) Option {
	return func(db *DB) {
		if retries > 0 {
			db.busyRetries = retries
		}
		if delay > 0 {
			db.busyDelay = delay
		}
	}
}

// Open opens (or creates) the SQLite database and applies the schema. A file
// SQLite does not recognize fails with an apperr.KindBackendIntegrity error;
// RepairFile can rebuild it.
func Open(path string, opts ...Option) (*DB, error) {
	db := newDB(path, opts...)
	conn, err := openConn(path)
	if err != nil {
		return nil, err
	}
	db.conn = conn
	return db, nil
}

// OpenForRepair opens the database without pinging it or applying the
// schema, so Repair can run against a file that no longer reads as SQLite.
func OpenForRepair(path string, opts ...Option) (*DB, error) {
	db := newDB(path, opts...)
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	db.conn = conn
	return db, nil
}

func newDB(path string, opts ...Option) *DB {
	db := &DB{
		path:        path,
		logger:      slog.Default(),
		backupDir:   filepath.Dir(path),
		busyRetries: 5,
		busyDelay:   50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.checkIntegrity = db.pragmaIntegrity
	return db
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func openConn(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, classify("index: ping", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, classify("index: apply core schema", err)
	}
	return conn, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
