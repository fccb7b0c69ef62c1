package dictionary

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/slipbox/internal/models"
)

// Tee writes every upsert to a flat mirror and a primary backend. Flat writes
// land immediately while the primary commits at the end of the batch, so a
// failed primary commit leaves the two out of sync; Transactional reports
// false to make that visible to callers.
type Tee struct {
	Primary Index
	Mirror  Index
}

var _ Index = (*Tee)(nil)

// NewTee combines primary (authoritative for lookups and repair) with mirror.
func NewTee(primary, mirror Index) *Tee {
	return &Tee{Primary: primary, Mirror: mirror}
}

// Begin opens a batch on both backends.
func (t *Tee) Begin(ctx context.Context) (Batch, error) {
	mb, err := t.Mirror.Begin(ctx)
	if err != nil {
		return nil, err
	}
	pb, err := t.Primary.Begin(ctx)
	if err != nil {
		_ = mb.Rollback()
		return nil, err
	}
	return &teeBatch{primary: pb, mirror: mb}, nil
}

// Lookup reads from the primary backend.
func (t *Tee) Lookup(ctx context.Context, note models.Note) (*models.DictionaryEntry, error) {
	return t.Primary.Lookup(ctx, note)
}

// IntegrityCheck merges anomalies from both backends.
func (t *Tee) IntegrityCheck(ctx context.Context) ([]string, error) {
	pa, err := t.Primary.IntegrityCheck(ctx)
	if err != nil {
		return nil, err
	}
	ma, err := t.Mirror.IntegrityCheck(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pa)+len(ma))
	out = append(out, pa...)
	for _, a := range ma {
		out = append(out, "flat: "+a)
	}
	return out, nil
}

// Repair repairs the primary backend only.
func (t *Tee) Repair(ctx context.Context) (*RepairReport, error) {
	return t.Primary.Repair(ctx)
}

// Transactional is false because mirror writes are not rolled back.
func (t *Tee) Transactional() bool { return false }

// CanDiverge reports whether a failed batch on idx can leave a
// non-transactional mirror ahead of a transactional primary.
func CanDiverge(idx Index) bool {
	t, ok := idx.(*Tee)
	return ok && t.Primary.Transactional() && !t.Mirror.Transactional()
}

// Close closes both backends.
func (t *Tee) Close() error {
	return errors.Join(t.Primary.Close(), t.Mirror.Close())
}

type teeBatch struct {
	primary Batch
	mirror  Batch
}

func (b *teeBatch) Upsert(ctx context.Context, entry models.DictionaryEntry) error {
	if err := b.mirror.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("dictionary: mirror upsert: %w", err)
	}
	return b.primary.Upsert(ctx, entry)
}

func (b *teeBatch) Commit() error {
	if err := b.mirror.Commit(); err != nil {
		_ = b.primary.Rollback()
		return err
	}
	return b.primary.Commit()
}

func (b *teeBatch) Rollback() error {
	return errors.Join(b.primary.Rollback(), b.mirror.Rollback())
}
