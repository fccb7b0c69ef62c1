package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/index"
	"github.com/starford/slipbox/internal/linker"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/storage"
	"github.com/starford/slipbox/internal/suggest"
	"github.com/starford/slipbox/internal/testutil"
)

type stubInferencer struct {
	cands []suggest.Candidate
}

func (s stubInferencer) Infer(context.Context, string) ([]suggest.Candidate, error) {
	return s.cands, nil
}

type testEnv struct {
	col    *testutil.Collection
	db     *index.DB
	router http.Handler
}

// newTestEnv wires a collection, a SQLite dictionary, the service and the router.
// An empty authToken means disabled mode.
func newTestEnv(t *testing.T, authToken string, notes map[string]string, ruleText string) *testEnv {
	t.Helper()
	col := testutil.TestCollection(t, notes, ruleText)

	fsys, err := storage.NewFS(col.NotesDir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	db, err := index.Open(filepath.Join(col.Base, "slipbox.db"), index.WithBackupDir(filepath.Join(col.Base, "backups")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rs := rules.NewStore(col.RulesPath, nil)
	orch := scan.New(fsys, rs, linker.New(fsys, col.LinksRoot, nil), db)
	pipe := suggest.New(db, stubInferencer{cands: []suggest.Candidate{{Keyword: "databases", Confidence: 0.82, Scored: true}}}, orch, rs, fsys)

	svc := noteservice.NewService(noteservice.Deps{
		Scanner:    orch,
		Rules:      rs,
		Dictionary: db,
		Suggest:    pipe,
	})
	return &testEnv{col: col, db: db, router: NewRouter(svc, authToken != "", authToken, nil)}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestScanAndLookup(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"n1.md": "about {{go}}"}, "go: lang/go\n")

	w := env.do(t, http.MethodPost, "/scan", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("scan status = %d, body = %s", w.Code, w.Body.String())
	}
	report := decode[scan.Report](t, w)
	if report.State != scan.StateDone || report.LinksCreated != 1 {
		t.Errorf("report = %+v", report)
	}

	w = env.do(t, http.MethodGet, "/dictionary?note=n1.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", w.Code)
	}
	entry := decode[models.DictionaryEntry](t, w)
	want := env.col.LinkPath("lang/go", "n1.md")
	if got := entry.LinkPaths(); len(got) != 1 || got[0] != want {
		t.Errorf("links = %v, want [%s]", got, want)
	}
}

func TestScanMissingRuleFile(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"n1.md": "x"}, "")
	if err := os.Remove(env.col.RulesPath); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPost, "/scan", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	report := decode[scan.Report](t, w)
	if report.State != scan.StateFailed || report.Error == "" {
		t.Errorf("report = %+v", report)
	}
}

func TestScanNote(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"a.md": "{{x}}", "b.md": "{{x}}"}, "x: x\n")

	w := env.do(t, http.MethodPost, "/scan/note", ScanNoteRequest{Path: "a.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if r := decode[scan.Report](t, w); r.Scanned != 1 {
		t.Errorf("scanned = %d, want 1", r.Scanned)
	}

	w = env.do(t, http.MethodPost, "/scan/note", ScanNoteRequest{Path: "missing.md"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing note status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/dictionary?note=b.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unscanned lookup = %d, want 404", w.Code)
	}
}

func TestRules(t *testing.T) {
	env := newTestEnv(t, "", nil, "# rules\ngo: lang\n")

	w := env.do(t, http.MethodPost, "/rules", AddRuleRequest{Keyword: "db", Folder: "storage"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/rules", AddRuleRequest{Keyword: "db", Folder: "elsewhere"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate add = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodGet, "/rules", nil)
	resp := decode[RulesResponse](t, w)
	if len(resp.Rules) != 2 || resp.Rules[1].Keyword != "db" || resp.Rules[1].Folder != "storage" {
		t.Errorf("rules = %+v", resp.Rules)
	}
}

func TestIntegrityAndRepair(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"n1.md": "{{go}}"}, "go: go\n")
	env.do(t, http.MethodPost, "/scan", nil)

	w := env.do(t, http.MethodGet, "/integrity", nil)
	if resp := decode[IntegrityResponse](t, w); !resp.OK || len(resp.Anomalies) != 0 {
		t.Errorf("integrity = %+v", resp)
	}

	w = env.do(t, http.MethodPost, "/repair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repair status = %d, body = %s", w.Code, w.Body.String())
	}
	report := decode[dictionary.RepairReport](t, w)
	if !report.IntegrityOK || !report.Compacted || report.BackupPath == "" {
		t.Errorf("repair = %+v", report)
	}
	if _, err := os.Stat(report.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestSuggestionWorkflow(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"n1.md": "Notes on storage engines."}, "")

	w := env.do(t, http.MethodPost, "/suggestions", SuggestRequest{Path: "n1.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("suggest status = %d, body = %s", w.Code, w.Body.String())
	}
	added := decode[SuggestionsResponse](t, w).Suggestions
	if len(added) != 1 || added[0].Keyword != "databases" {
		t.Fatalf("added = %+v", added)
	}

	w = env.do(t, http.MethodGet, "/suggestions?note=n1.md", nil)
	if pending := decode[SuggestionsResponse](t, w).Suggestions; len(pending) != 1 {
		t.Fatalf("pending = %+v", pending)
	}

	id := strconv.FormatInt(added[0].ID, 10)
	w = env.do(t, http.MethodPost, "/suggestions/"+id+"/apply", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("apply status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[suggest.ApplyResult](t, w)
	if !res.RuleAdded || !res.MarkerAdded {
		t.Errorf("apply = %+v", res)
	}
	if got := env.col.ReadNote(t, "n1.md"); got != "Notes on storage engines.\n{{databases}}\n" {
		t.Errorf("note = %q", got)
	}

	w = env.do(t, http.MethodPost, "/suggestions/"+id+"/ignore", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("ignore after apply = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/suggestions/999/apply", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("apply unknown = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodPost, "/suggestions/abc/apply", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("apply bad id = %d, want 400", w.Code)
	}
}

func TestSuggestAll(t *testing.T) {
	env := newTestEnv(t, "", map[string]string{"a.md": "A", "b.md": "B"}, "")

	w := env.do(t, http.MethodPost, "/suggestions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	summary := decode[suggest.BatchSummary](t, w)
	if summary.Processed != 2 || summary.Added != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSuggestionsUnavailable(t *testing.T) {
	col := testutil.TestCollection(t, map[string]string{"n1.md": "x"}, "")
	fsys, err := storage.NewFS(col.NotesDir)
	if err != nil {
		t.Fatal(err)
	}
	flat := dictionary.NewFlat(filepath.Join(col.Base, "dictionary.yaml"), nil)
	rs := rules.NewStore(col.RulesPath, nil)
	svc := noteservice.NewService(noteservice.Deps{
		Scanner:    scan.New(fsys, rs, linker.New(fsys, col.LinksRoot, nil), flat),
		Rules:      rs,
		Dictionary: flat,
	})
	router := NewRouter(svc, false, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/suggestions?note=n1.md", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t, "", nil, "")

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"scan note without path", http.MethodPost, "/scan/note", `{}`},
		{"scan note invalid json", http.MethodPost, "/scan/note", `{`},
		{"lookup without note", http.MethodGet, "/dictionary", ``},
		{"add rule without folder", http.MethodPost, "/rules", `{"keyword":"x"}`},
		{"review without note", http.MethodGet, "/suggestions", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret", nil, "")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rules", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
