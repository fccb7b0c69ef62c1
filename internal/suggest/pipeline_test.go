package suggest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/index"
	"github.com/starford/slipbox/internal/linker"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/storage"
)

// fakeInferencer answers from a per-text table.
type fakeInferencer struct {
	mu      sync.Mutex
	answers map[string][]Candidate
	fail    map[string]error
	calls   int
}

func (f *fakeInferencer) Infer(_ context.Context, text string) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[text]; err != nil {
		return nil, err
	}
	return f.answers[text], nil
}

type harness struct {
	notesDir  string
	linksRoot string
	rules     *rules.Store
	db        *index.DB
	orch      *scan.Orchestrator
	infer     *fakeInferencer
	pipe      *Pipeline
}

func newHarness(t *testing.T, notes map[string]string) *harness {
	t.Helper()
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	h := &harness{
		notesDir:  filepath.Join(base, "notes"),
		linksRoot: filepath.Join(base, "links"),
		infer:     &fakeInferencer{answers: map[string][]Candidate{}, fail: map[string]error{}},
	}
	require.NoError(t, os.MkdirAll(h.notesDir, 0o755))
	for name, body := range notes {
		require.NoError(t, os.WriteFile(filepath.Join(h.notesDir, name), []byte(body), 0o644))
	}
	rulesPath := filepath.Join(base, "rules.txt")
	require.NoError(t, os.WriteFile(rulesPath, []byte("# rules\n"), 0o644))
	h.rules = rules.NewStore(rulesPath, nil)

	h.db, err = index.Open(filepath.Join(base, "slipbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.db.Close() })

	fsys, err := storage.NewFS(h.notesDir)
	require.NoError(t, err)
	h.orch = scan.New(fsys, h.rules, linker.New(fsys, h.linksRoot, nil), h.db)
	h.pipe = New(h.db, h.infer, h.orch, h.rules, fsys, WithConcurrency(2))
	return h
}

func TestSuggest_DefaultConfidenceAndDedup(t *testing.T) {
	h := newHarness(t, map[string]string{"n1.md": "about {{go}}"})
	h.infer.answers["about {{go}}"] = []Candidate{{Keyword: "go"}, {Keyword: "sqlite"}, {Keyword: "sqlite"}, {Keyword: "bad word"}}

	added, err := h.pipe.Suggest(context.Background(), "n1.md")
	require.NoError(t, err)
	require.Len(t, added, 1, "already-marked, repeated and invalid keywords are dropped")
	assert.Equal(t, "sqlite", added[0].Keyword)
	assert.InDelta(t, DefaultConfidence, added[0].Confidence, 1e-9)
}

func TestSuggest_ServiceScoreIsAuthoritative(t *testing.T) {
	h := newHarness(t, map[string]string{"n1.md": "text"})
	h.infer.answers["text"] = []Candidate{{Keyword: "a", Confidence: 0.3, Scored: true}, {Keyword: "b", Confidence: 0.7, Scored: true}}

	_, err := h.pipe.Suggest(context.Background(), "n1.md")
	require.NoError(t, err)

	pending, err := h.pipe.Review(context.Background(), "n1.md")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].Keyword, "ordered by confidence desc")
	assert.InDelta(t, 0.7, pending[0].Confidence, 1e-9)
}

func TestSuggestAll_SoftFailure(t *testing.T) {
	h := newHarness(t, map[string]string{"a.md": "A", "b.md": "B", "c.md": "C"})
	h.infer.answers["A"] = []Candidate{{Keyword: "x"}}
	h.infer.fail["B"] = apperr.E(apperr.KindExternalService, "suggest: request", errors.New("timeout"))
	h.infer.answers["C"] = []Candidate{{Keyword: "y"}, {Keyword: "z"}}

	summary, err := h.pipe.SuggestAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Added)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "b.md", summary.Failures[0].Path)
}

func TestApply_AddsRuleMarkerAndLink(t *testing.T) {
	h := newHarness(t, map[string]string{"n1.md": "Notes on storage engines."})
	ctx := context.Background()
	h.infer.answers["Notes on storage engines."] = []Candidate{{Keyword: "databases", Confidence: 0.82, Scored: true}}

	added, err := h.pipe.Suggest(ctx, "n1.md")
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.InDelta(t, 0.82, added[0].Confidence, 1e-9)

	res, err := h.pipe.Apply(ctx, added[0].ID)
	require.NoError(t, err)
	assert.True(t, res.RuleAdded)
	assert.True(t, res.MarkerAdded)
	require.NotNil(t, res.Scan)
	assert.Equal(t, scan.StateDone, res.Scan.State)

	folder, err := h.rules.Resolve("databases")
	require.NoError(t, err)
	assert.Equal(t, "databases", folder)

	body, err := os.ReadFile(filepath.Join(h.notesDir, "n1.md"))
	require.NoError(t, err)
	assert.Equal(t, "Notes on storage engines.\n{{databases}}\n", string(body))

	linkPath := filepath.Join(h.linksRoot, "databases", "n1.md")
	dest, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.notesDir, "n1.md"), dest)

	entry, err := h.db.Lookup(ctx, models.Note{CanonicalPath: filepath.Join(h.notesDir, "n1.md")})
	require.NoError(t, err)
	assert.Equal(t, []string{linkPath}, entry.LinkPaths())
}

func TestApplyAndIgnore_AreTerminal(t *testing.T) {
	h := newHarness(t, map[string]string{"n1.md": "{{kept}}"})
	ctx := context.Background()
	require.NoError(t, h.rules.Add("kept", "kept"))
	h.infer.answers["{{kept}}"] = []Candidate{{Keyword: "one"}, {Keyword: "two"}}

	added, err := h.pipe.Suggest(ctx, "n1.md")
	require.NoError(t, err)
	require.Len(t, added, 2)

	ignored, err := h.pipe.Ignore(ctx, added[1].ID)
	require.NoError(t, err)
	assert.True(t, ignored.Applied)

	_, err = h.pipe.Apply(ctx, added[1].ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyApplied)
	_, err = h.pipe.Ignore(ctx, added[1].ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyApplied)

	// Ignore changes nothing but the flag.
	_, err = h.rules.Resolve(added[1].Keyword)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	pending, err := h.pipe.Review(ctx, "n1.md")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, added[0].ID, pending[0].ID)

	// Suggesting again never re-creates the consumed suggestion.
	again, err := h.pipe.Suggest(ctx, "n1.md")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestApply_ExistingRuleAndMarker(t *testing.T) {
	h := newHarness(t, map[string]string{"n1.md": "has {{db}} already\n"})
	ctx := context.Background()
	require.NoError(t, h.rules.Add("db", "storage"))

	added, err := h.db.AddSuggestions(ctx, models.Note{
		Filename:      "n1.md",
		CanonicalPath: filepath.Join(h.notesDir, "n1.md"),
	}, []models.Suggestion{{Keyword: "db", Confidence: 0.5}})
	require.NoError(t, err)

	res, err := h.pipe.Apply(ctx, added[0].ID)
	require.NoError(t, err)
	assert.False(t, res.RuleAdded)
	assert.False(t, res.MarkerAdded)

	_, err = os.Lstat(filepath.Join(h.linksRoot, "storage", "n1.md"))
	assert.NoError(t, err, "existing rule folder is used")
}
