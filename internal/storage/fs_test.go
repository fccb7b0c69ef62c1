package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func tempCollection(t *testing.T, opts ...FSOption) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir, opts...)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempCollection(t)
	content := []byte("# Hello\n{{idea}}\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWritePreservesMode(t *testing.T) {
	s := tempCollection(t)
	abs := filepath.Join(s.Root(), "ro.md")
	if err := os.WriteFile(abs, []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.md", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestListOrderAndFilters(t *testing.T) {
	s := tempCollection(t, WithExtensions("md", ".txt"))
	_ = s.Write("b.md", []byte("b"))
	_ = s.Write("a.txt", []byte("a"))
	_ = s.Write("sub/c.md", []byte("c"))
	_ = s.Write("skip.png", []byte("x"))
	_ = s.Write(".hidden/d.md", []byte("d"))
	if err := os.Symlink(filepath.Join(s.Root(), "b.md"), filepath.Join(s.Root(), "link.md")); err != nil {
		t.Fatal(err)
	}

	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.Path)
	}
	want := []string{"a.txt", "b.md", "sub/c.md"}
	if len(got) != len(want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListSkipsExcludedDir(t *testing.T) {
	dir := t.TempDir()
	links := filepath.Join(dir, "keywords")
	if err := os.MkdirAll(links, 0o755); err != nil {
		t.Fatal(err)
	}
	s, err := NewFS(dir, WithExclude(links))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Write("n.md", []byte("n"))
	_ = s.Write("keywords/copy.md", []byte("x"))

	items, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "n.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempCollection(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAbsAcceptsInsideRoot(t *testing.T) {
	s := tempCollection(t)
	inside := filepath.Join(s.Root(), "x.md")
	got, err := s.Abs(inside)
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if got != inside {
		t.Errorf("Abs = %q, want %q", got, inside)
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempCollection(t)
	_ = s.Write("atomic.md", []byte("original"))
	if err := s.Write("atomic.md", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != "updated" {
		t.Errorf("expected updated content, got %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(s.root, ".slipbox-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestSymlinkAndReadlink(t *testing.T) {
	s := tempCollection(t)
	_ = s.Write("n.md", []byte("n"))
	target := filepath.Join(s.Root(), "n.md")
	dir := filepath.Join(t.TempDir(), "kw")
	if err := s.MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	link := filepath.Join(dir, "n.md")
	if err := s.Symlink(target, link); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	info, err := s.Lstat(link)
	if err != nil {
		t.Fatalf("Lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("expected a symlink")
	}
	got, err := s.Readlink(link)
	if err != nil || got != target {
		t.Errorf("Readlink = %q, %v", got, err)
	}
	if err := s.Symlink(target, link); err == nil {
		t.Error("expected error creating an existing link")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/slipbox-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "slipbox-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
