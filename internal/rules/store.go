// Package rules loads and extends the keyword→folder routing rules.
//
// The rule source is line oriented: blank lines and lines starting with '#'
// are ignored, every other line is "keyword: folder".
package rules

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

// Set is an ordered, keyword-unique snapshot of the rules.
type Set struct {
	rules []models.Rule
	index map[string]int
}

// NewSet builds a Set from rules; later duplicates of a keyword are dropped.
func NewSet(rules ...models.Rule) Set {
	s := Set{index: make(map[string]int, len(rules))}
	for _, r := range rules {
		s.add(r)
	}
	return s
}

func (s *Set) add(r models.Rule) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[r.Keyword]; ok {
		return false
	}
	s.index[r.Keyword] = len(s.rules)
	s.rules = append(s.rules, r)
	return true
}

// Rules returns the rules in source order.
func (s Set) Rules() []models.Rule {
	out := make([]models.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s Set) Len() int { return len(s.rules) }

// Resolve returns the folder mapped to keyword.
func (s Set) Resolve(keyword string) (string, bool) {
	i, ok := s.index[keyword]
	if !ok {
		return "", false
	}
	return s.rules[i].Folder, true
}

// Store is the rule source on disk. It is the single source of truth for
// routing; every Load reads the file fresh.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store for the rule file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the rule file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the rule file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Load parses the rule file.
func (s *Store) Load() (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Set, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Set{}, apperr.E(apperr.KindConfig, "rules: load", fmt.Errorf("%w: %s", apperr.ErrMissingRuleFile, s.path))
		}
		return Set{}, apperr.E(apperr.KindConfig, "rules: load", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return Set{}, apperr.E(apperr.KindConfig, "rules: load "+s.path, err)
	}
	set := Set{}
	for _, r := range rules {
		if !set.add(r) {
			s.logger.Warn("rules: duplicate keyword ignored",
				slog.String("keyword", r.Keyword),
				slog.String("folder", r.Folder))
		}
	}
	return set, nil
}

// Parse reads rules from the line-oriented rule format.
func Parse(data []byte) ([]models.Rule, error) {
	var out []models.Rule
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(strings.Replace(line, ":", " ", 1))
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected \"keyword: folder\", got %q", lineNo, line)
		}
		out = append(out, models.Rule{Keyword: fields[0], Folder: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve returns the folder mapped to keyword, or apperr.ErrNotFound.
func (s *Store) Resolve(keyword string) (string, error) {
	set, err := s.Load()
	if err != nil {
		return "", err
	}
	folder, ok := set.Resolve(keyword)
	if !ok {
		return "", apperr.E(apperr.KindNotFound, "rules: resolve "+keyword, apperr.ErrNotFound)
	}
	return folder, nil
}

// Add appends a rule and fsyncs the file before returning. A keyword that is
// already mapped is rejected with ErrDuplicateKeyword and the file is left
// unchanged. A missing rule file is created.
func (s *Store) Add(keyword, folder string) error {
	keyword = strings.TrimSpace(keyword)
	folder = strings.TrimSpace(folder)
	if keyword == "" || folder == "" || strings.ContainsAny(keyword+folder, " \t\n") {
		return apperr.E(apperr.KindConfig, "rules: add", fmt.Errorf("invalid rule %q: %q", keyword, folder))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load()
	if err != nil && !errors.Is(err, apperr.ErrMissingRuleFile) {
		return err
	}
	if _, ok := set.Resolve(keyword); ok {
		return apperr.E(apperr.KindDuplicateKeyword, "rules: add "+keyword, apperr.ErrDuplicateKeyword)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.E(apperr.KindFilesystem, "rules: add", err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s: %s\n", keyword, folder)
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err == nil && last[0] != '\n' {
			line = "\n" + line
		}
	}
	if _, err := f.WriteString(line); err != nil {
		return apperr.E(apperr.KindFilesystem, "rules: add", err)
	}
	if err := f.Sync(); err != nil {
		return apperr.E(apperr.KindFilesystem, "rules: add", err)
	}
	s.logger.Info("rules: added", slog.String("keyword", keyword), slog.String("folder", folder))
	return nil
}
