package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

func writeRules(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewStore(path, nil)
}

func TestLoad_SkipsCommentsAndBlanks(t *testing.T) {
	s := writeRules(t, "# routing\n\nproject: projects\n  urgent:   inbox/urgent  \nidea:ideas\n")

	set, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []models.Rule{
		{Keyword: "project", Folder: "projects"},
		{Keyword: "urgent", Folder: "inbox/urgent"},
		{Keyword: "idea", Folder: "ideas"},
	}, set.Rules())
}

func TestLoad_DuplicateFirstWins(t *testing.T) {
	s := writeRules(t, "a: one\na: two\n")
	set, err := s.Load()
	require.NoError(t, err)
	folder, ok := set.Resolve("a")
	require.True(t, ok)
	assert.Equal(t, "one", folder)
	assert.Equal(t, 1, set.Len())
}

func TestLoad_Malformed(t *testing.T) {
	s := writeRules(t, "ok: fine\nbroken\n")
	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfig))
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoad_Missing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.txt"), nil)
	_, err := s.Load()
	require.ErrorIs(t, err, apperr.ErrMissingRuleFile)
	assert.False(t, s.Exists())
}

func TestResolve(t *testing.T) {
	s := writeRules(t, "project: projects\n")
	folder, err := s.Resolve("project")
	require.NoError(t, err)
	assert.Equal(t, "projects", folder)

	_, err = s.Resolve("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdd_AppendsDurably(t *testing.T) {
	s := writeRules(t, "project: projects")
	require.NoError(t, s.Add("idea", "idea"))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "project: projects\nidea: idea\n", string(data))

	folder, err := NewStore(s.Path(), nil).Resolve("idea")
	require.NoError(t, err)
	assert.Equal(t, "idea", folder)
}

func TestAdd_DuplicateRejected(t *testing.T) {
	s := writeRules(t, "project: projects\n")
	before, _ := os.ReadFile(s.Path())

	err := s.Add("project", "elsewhere")
	require.ErrorIs(t, err, apperr.ErrDuplicateKeyword)
	assert.True(t, apperr.Is(err, apperr.KindDuplicateKeyword))

	after, _ := os.ReadFile(s.Path())
	assert.Equal(t, before, after)
}

func TestAdd_CreatesMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "rules.txt"), nil)
	require.NoError(t, s.Add("a", "b"))
	set, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestAdd_InvalidRule(t *testing.T) {
	s := writeRules(t, "")
	assert.Error(t, s.Add("two words", "x"))
	assert.Error(t, s.Add("", "x"))
}
