// Package testutil provides shared test helpers for setting up note
// collections and databases.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/slipbox/internal/index"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := index.Open(filepath.Join(dir, "slipbox.db"), index.WithBackupDir(filepath.Join(dir, "backups")))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Collection is a temporary on-disk layout: a notes directory, a links root
// and a rule file side by side.
type Collection struct {
	Base      string
	NotesDir  string
	LinksRoot string
	RulesPath string
}

// TestCollection creates a collection with the given notes (relative path →
// content) and rule file content. Paths are symlink-resolved so they compare
// equal to canonical note paths.
func TestCollection(t *testing.T, notes map[string]string, rules string) *Collection {
	t.Helper()
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := &Collection{
		Base:      base,
		NotesDir:  filepath.Join(base, "notes"),
		LinksRoot: filepath.Join(base, "links"),
		RulesPath: filepath.Join(base, "rules.txt"),
	}
	if err := os.MkdirAll(c.NotesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for rel, body := range notes {
		c.WriteNote(t, rel, body)
	}
	if err := os.WriteFile(c.RulesPath, []byte(rules), 0o644); err != nil {
		t.Fatal(err)
	}
	return c
}

// WriteNote creates or replaces a note.
func (c *Collection) WriteNote(t *testing.T, rel, body string) {
	t.Helper()
	abs := filepath.Join(c.NotesDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// ReadNote returns a note's content.
func (c *Collection) ReadNote(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(c.NotesDir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// NotePath returns the canonical path of a note.
func (c *Collection) NotePath(rel string) string {
	return filepath.Join(c.NotesDir, filepath.FromSlash(rel))
}

// LinkPath returns where the link for rel under folder is materialized.
func (c *Collection) LinkPath(folder, rel string) string {
	return filepath.Join(c.LinksRoot, folder, filepath.Base(rel))
}
