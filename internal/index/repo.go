package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/models"
)

// Verify *DB satisfies dictionary.Index at compile time.
var _ dictionary.Index = (*DB)(nil)

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isCorrupt(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
	}
	return err != nil && strings.Contains(err.Error(), "file is not a database")
}

// classify attaches an apperr kind to SQLite failures callers must react to.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isBusy(err):
		return apperr.E(apperr.KindBackendLocked, op, err)
	case isCorrupt(err):
		return apperr.E(apperr.KindBackendIntegrity, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryBusy runs fn until it stops reporting busy, backing off between
// attempts. After the last attempt the busy error is surfaced.
func (db *DB) retryBusy(ctx context.Context, op string, fn func() error) error {
	delay := db.busyDelay
	var err error
	for attempt := 0; attempt <= db.busyRetries; attempt++ {
		if err = fn(); err == nil || !isBusy(err) {
			return classify(op, err)
		}
		if attempt == db.busyRetries {
			break
		}
		db.logger.Warn("index: store busy, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return classify(op, err)
}

// Begin pins a connection, clears any transaction a previous abnormal exit
// left open on it, and starts a fresh IMMEDIATE transaction scoped to the
// whole batch.
func (db *DB) Begin(ctx context.Context) (dictionary.Batch, error) {
	var b *batch
	err := db.retryBusy(ctx, "index: begin", func() error {
		conn, err := db.conn.Conn(ctx)
		if err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil && !strings.Contains(err.Error(), "no transaction is active") {
			conn.Close()
			return err
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			conn.Close()
			return err
		}
		b = &batch{db: db, conn: conn, tx: tx}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

type batch struct {
	db   *DB
	conn *sql.Conn
	tx   *sql.Tx
	done bool
}

// Upsert replaces the note row's links with entry.Links.
func (b *batch) Upsert(ctx context.Context, entry models.DictionaryEntry) error {
	if b.done {
		return fmt.Errorf("index: upsert: batch already finished")
	}
	return classify("index: upsert "+entry.Filename, upsertEntry(ctx, b.tx, entry))
}

func (b *batch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.conn.Close()
	if err := b.tx.Commit(); err != nil {
		_ = b.tx.Rollback()
		return classify("index: commit", err)
	}
	return nil
}

func (b *batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.conn.Close()
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("index: rollback: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureNote(ctx context.Context, ex execer, filename, canonicalPath string) (int64, error) {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO notes (filename, canonical_path)
		VALUES (?, ?)
		ON CONFLICT(canonical_path) DO UPDATE SET
			filename = excluded.filename
		WHERE notes.filename <> excluded.filename
	`, filename, canonicalPath)
	if err != nil {
		return 0, fmt.Errorf("upsert note: %w", err)
	}
	var id int64
	if err := ex.QueryRowContext(ctx, `SELECT id FROM notes WHERE canonical_path = ?`, canonicalPath).Scan(&id); err != nil {
		return 0, fmt.Errorf("select note id: %w", err)
	}
	return id, nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, entry models.DictionaryEntry) error {
	noteID, err := ensureNote(ctx, tx, entry.Filename, entry.CanonicalPath)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_keywords WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}

	seen := make(map[string]struct{}, len(entry.Links))
	for pos, l := range entry.Links {
		if l.Keyword == "" {
			return fmt.Errorf("link %s has no keyword", l.Path)
		}
		if _, dup := seen[l.Keyword]; dup {
			continue
		}
		seen[l.Keyword] = struct{}{}

		folder := filepath.Dir(l.Path)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO keywords (keyword, folder) VALUES (?, ?)
			ON CONFLICT(keyword) DO UPDATE SET folder = excluded.folder
			WHERE keywords.folder <> excluded.folder
		`, l.Keyword, folder); err != nil {
			return fmt.Errorf("upsert keyword %s: %w", l.Keyword, err)
		}
		var kwID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM keywords WHERE keyword = ?`, l.Keyword).Scan(&kwID); err != nil {
			return fmt.Errorf("select keyword id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO note_keywords (note_id, keyword_id, link_path, position)
			VALUES (?, ?, ?, ?)
		`, noteID, kwID, l.Path, pos); err != nil {
			return fmt.Errorf("insert link %s: %w", l.Path, err)
		}
	}
	return nil
}

// Lookup returns the dictionary entry for note, keyed by canonical path.
func (db *DB) Lookup(ctx context.Context, note models.Note) (*models.DictionaryEntry, error) {
	entry := &models.DictionaryEntry{Links: []models.Link{}}
	var id int64
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, filename, canonical_path, created_at FROM notes WHERE canonical_path = ?
	`, note.CanonicalPath).Scan(&id, &entry.Filename, &entry.CanonicalPath, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "index: lookup "+note.CanonicalPath, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, classify("index: lookup", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT k.keyword, nk.link_path
		FROM note_keywords nk
		JOIN keywords k ON k.id = nk.keyword_id
		WHERE nk.note_id = ?
		ORDER BY nk.position, k.keyword
	`, id)
	if err != nil {
		return nil, classify("index: lookup links", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.Keyword, &l.Path); err != nil {
			return nil, err
		}
		entry.Links = append(entry.Links, l)
	}
	return entry, rows.Err()
}

// Transactional is true: batch upserts become visible on Commit only.
func (db *DB) Transactional() bool { return true }

// Counts returns the row count of every table.
func (db *DB) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		var n int
		if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM `+t.name).Scan(&n); err != nil {
			return nil, classify("index: count "+t.name, err)
		}
		out[t.name] = n
	}
	return out, nil
}
