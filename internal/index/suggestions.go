package index

import (
	"context"
	"database/sql"
	"errors"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

// AddSuggestions stores candidate keywords for note. A (note, keyword) pair
// that already has a suggestion, applied or not, is never re-created. The
// newly stored suggestions are returned.
func (db *DB) AddSuggestions(ctx context.Context, note models.Note, candidates []models.Suggestion) ([]models.Suggestion, error) {
	var added []models.Suggestion
	err := db.retryBusy(ctx, "index: add suggestions", func() error {
		added = nil
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // best-effort on failure path

		noteID, err := ensureNote(ctx, tx, note.Filename, note.CanonicalPath)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO suggestions (note_id, keyword, confidence, applied)
				VALUES (?, ?, ?, 0)
			`, noteID, c.Keyword, c.Confidence)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			added = append(added, models.Suggestion{
				ID:         id,
				NoteID:     noteID,
				NotePath:   note.CanonicalPath,
				Keyword:    c.Keyword,
				Confidence: c.Confidence,
			})
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// PendingSuggestions returns unapplied suggestions for the note at
// canonicalPath, highest confidence first.
func (db *DB) PendingSuggestions(ctx context.Context, canonicalPath string) ([]models.Suggestion, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.id, s.note_id, n.canonical_path, s.keyword, s.confidence, s.applied
		FROM suggestions s
		JOIN notes n ON n.id = s.note_id
		WHERE n.canonical_path = ? AND s.applied = 0
		ORDER BY s.confidence DESC, s.id ASC
	`, canonicalPath)
	if err != nil {
		return nil, classify("index: pending suggestions", err)
	}
	defer rows.Close()

	out := []models.Suggestion{}
	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.ID, &s.NoteID, &s.NotePath, &s.Keyword, &s.Confidence, &s.Applied); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Suggestion returns one suggestion by id.
func (db *DB) Suggestion(ctx context.Context, id int64) (*models.Suggestion, error) {
	var s models.Suggestion
	err := db.conn.QueryRowContext(ctx, `
		SELECT s.id, s.note_id, n.canonical_path, s.keyword, s.confidence, s.applied
		FROM suggestions s
		JOIN notes n ON n.id = s.note_id
		WHERE s.id = ?
	`, id).Scan(&s.ID, &s.NoteID, &s.NotePath, &s.Keyword, &s.Confidence, &s.Applied)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "index: suggestion", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, classify("index: suggestion", err)
	}
	return &s, nil
}

// MarkApplied sets applied=1. It only ever moves a suggestion forward: an
// already-applied suggestion yields ErrAlreadyApplied and is left as is.
func (db *DB) MarkApplied(ctx context.Context, id int64) error {
	var affected int64
	err := db.retryBusy(ctx, "index: mark applied", func() error {
		res, err := db.conn.ExecContext(ctx, `UPDATE suggestions SET applied = 1 WHERE id = ? AND applied = 0`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	if _, err := db.Suggestion(ctx, id); err != nil {
		return err
	}
	return apperr.E(apperr.KindConflict, "index: mark applied", apperr.ErrAlreadyApplied)
}
