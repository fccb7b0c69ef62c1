// Package dictionary defines the persisted note → link-path index and its
// flat-file backend. The relational backend lives in package index.
package dictionary

import (
	"context"

	"github.com/starford/slipbox/internal/models"
)

// Index is the backend-agnostic dictionary contract. Backends are selected at
// startup; callers never branch on the storage mode.
type Index interface {
	// Begin opens a batch. Relational backends scope one transaction to it.
	Begin(ctx context.Context) (Batch, error)
	// Lookup returns the entry for note or apperr.ErrNotFound.
	Lookup(ctx context.Context, note models.Note) (*models.DictionaryEntry, error)
	// IntegrityCheck returns anomalies; an empty slice means the store is ok.
	IntegrityCheck(ctx context.Context) ([]string, error)
	// Repair backs up and checks the store, then compacts or rebuilds it.
	Repair(ctx context.Context) (*RepairReport, error)
	// Transactional reports whether every Upsert in a batch becomes visible
	// only on Commit.
	Transactional() bool
	Close() error
}

// Batch groups upserts. Upsert is idempotent: repeating it with identical
// arguments produces no observable change.
type Batch interface {
	Upsert(ctx context.Context, entry models.DictionaryEntry) error
	Commit() error
	Rollback() error
}

// RepairReport describes one Repair run.
type RepairReport struct {
	BackupPath  string         `json:"backup_path"`
	IntegrityOK bool           `json:"integrity_ok"`
	Anomalies   []string       `json:"anomalies,omitempty"`
	Compacted   bool           `json:"compacted"`
	Rebuilt     bool           `json:"rebuilt"`
	ExportDir   string         `json:"export_dir,omitempty"`
	Exported    map[string]int `json:"exported,omitempty"`
	Imported    map[string]int `json:"imported,omitempty"`
	Failed      map[string]int `json:"failed,omitempty"`
}

// UniquePaths returns the entry's link paths without repeats, keeping order.
// Two keywords routed to one folder share a single link path.
func UniquePaths(e models.DictionaryEntry) []string {
	seen := make(map[string]struct{}, len(e.Links))
	out := make([]string, 0, len(e.Links))
	for _, l := range e.Links {
		if _, ok := seen[l.Path]; ok {
			continue
		}
		seen[l.Path] = struct{}{}
		out = append(out, l.Path)
	}
	return out
}
