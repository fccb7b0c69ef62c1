package internal

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/testutil"
	pkgconfig "github.com/starford/slipbox/pkg/config"
)

func engineConfig(col *testutil.Collection, backend string) *Config {
	cfg := NewDefaultConfig()
	cfg.Notes.Path = col.NotesDir
	cfg.Rules.Path = col.RulesPath
	cfg.Links.Root = col.LinksRoot
	cfg.Dictionary.Backend = backend
	cfg.Dictionary.FlatPath = filepath.Join(col.Base, "dictionary.yaml")
	cfg.Dictionary.SQLitePath = filepath.Join(col.Base, "slipbox.db")
	cfg.Dictionary.BackupDir = filepath.Join(col.Base, "backups")
	return cfg
}

func openEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e, err := Open(cfg, NewLogger(cfg, io.Discard))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpen_BothBackendsStayConsistent(t *testing.T) {
	col := testutil.TestCollection(t, map[string]string{"n1.md": "{{go}} and {{db}}"}, "go: lang\ndb: storage\n")
	e := openEngine(t, engineConfig(col, BackendBoth))
	if e.DB == nil || e.Suggest == nil {
		t.Fatal("relational backend and suggestions should be wired")
	}

	ctx := context.Background()
	report, err := e.Service().Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.LinksCreated != 2 {
		t.Errorf("links created = %d, want 2", report.LinksCreated)
	}

	note := models.Note{Filename: "n1.md", CanonicalPath: col.NotePath("n1.md")}
	fromDB, err := e.DB.Lookup(ctx, note)
	if err != nil {
		t.Fatalf("db lookup: %v", err)
	}
	fromTee, err := e.Dictionary.Lookup(ctx, note)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if strings.Join(fromDB.LinkPaths(), ",") != strings.Join(fromTee.LinkPaths(), ",") {
		t.Errorf("db = %v, tee = %v", fromDB.LinkPaths(), fromTee.LinkPaths())
	}

	flat, err := os.ReadFile(e.Config.Dictionary.FlatPath)
	if err != nil {
		t.Fatalf("flat dictionary not written: %v", err)
	}
	for _, p := range fromDB.LinkPaths() {
		if !strings.Contains(string(flat), p) {
			t.Errorf("flat dictionary missing %s", p)
		}
	}
}

func TestOpen_FlatOnlyHasNoSuggestions(t *testing.T) {
	col := testutil.TestCollection(t, map[string]string{"n1.md": "x"}, "")
	e := openEngine(t, engineConfig(col, BackendFlat))
	if e.DB != nil || e.Suggest != nil {
		t.Fatal("flat backend should not open the database")
	}
	_, err := e.Service().Review(context.Background(), "n1.md")
	if !apperr.Is(err, apperr.KindConfig) {
		t.Errorf("err = %v, want config error", err)
	}
}

func TestOpen_MissingNotesDirectory(t *testing.T) {
	col := testutil.TestCollection(t, nil, "")
	cfg := engineConfig(col, BackendSQLite)
	cfg.Notes.Path = filepath.Join(col.Base, "nope")

	_, err := Open(cfg, NewLogger(cfg, io.Discard))
	if !errors.Is(err, apperr.ErrMissingDirectory) {
		t.Fatalf("err = %v, want ErrMissingDirectory", err)
	}
	if _, statErr := os.Stat(cfg.Dictionary.SQLitePath); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("database created before inputs were validated")
	}
}

func TestRepairDictionaryRecoversUnreadableDatabase(t *testing.T) {
	col := testutil.TestCollection(t, map[string]string{"n1.md": "{{go}}"}, "go: lang\n")
	cfg := engineConfig(col, BackendSQLite)
	if err := os.WriteFile(cfg.Dictionary.SQLitePath, []byte(strings.Repeat("garbage ", 1024)), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(cfg, NewLogger(cfg, io.Discard))
	if !apperr.Is(err, apperr.KindBackendIntegrity) {
		t.Fatalf("Open err = %v, want backend integrity", err)
	}

	report, err := RepairDictionary(context.Background(), cfg, NewLogger(cfg, io.Discard))
	if err != nil {
		t.Fatalf("RepairDictionary: %v", err)
	}
	if !report.Rebuilt {
		t.Errorf("report = %+v, want rebuilt", report)
	}
	if filepath.Dir(report.BackupPath) != cfg.Dictionary.BackupDir {
		t.Errorf("backup %s not in %s", report.BackupPath, cfg.Dictionary.BackupDir)
	}

	e := openEngine(t, cfg)
	if _, err := e.Service().Scan(context.Background()); err != nil {
		t.Fatalf("Scan after repair: %v", err)
	}
}

func TestRepairDictionaryFlatUnsupported(t *testing.T) {
	col := testutil.TestCollection(t, nil, "")
	cfg := engineConfig(col, BackendFlat)
	_, err := RepairDictionary(context.Background(), cfg, nil)
	if !errors.Is(err, apperr.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestInit(t *testing.T) {
	base := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Notes.Path = filepath.Join(base, "notes")
	cfg.Links.Root = filepath.Join(base, "keywords")
	cfg.Rules.Path = filepath.Join(base, "conf", "rules.txt")
	configPath := filepath.Join(base, "conf", "config.yaml")

	created, err := Init(cfg, configPath)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(created) != 4 {
		t.Errorf("created = %v, want 4 paths", created)
	}

	loaded := NewDefaultConfig()
	if err := pkgconfig.Load(configPath, loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Rules.Path != cfg.Rules.Path || loaded.Dictionary.BusyDelay != cfg.Dictionary.BusyDelay {
		t.Errorf("loaded = %+v", loaded)
	}

	again, err := Init(cfg, configPath)
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Init created %v", again)
	}
}
