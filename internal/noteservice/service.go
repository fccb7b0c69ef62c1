// Package noteservice is the single entry point the CLI, the HTTP API and the
// MCP server use to drive the indexing engine.
package noteservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/suggest"
)

// ErrSuggestionsUnavailable is returned by the suggestion operations when the
// relational backend is not in use.
var ErrSuggestionsUnavailable = errors.New("suggestions require the sqlite dictionary backend")

// Deps are the wired components a Service drives.
type Deps struct {
	Scanner    *scan.Orchestrator
	Rules      *rules.Store
	Dictionary dictionary.Index
	// Suggest is nil when suggestions are unavailable.
	Suggest *suggest.Pipeline
	Logger  *slog.Logger
}

// Service coordinates scans, lookups, rule edits, maintenance and the
// suggestion workflow. Operations that write notes, links, rules or the
// dictionary are serialized.
type Service struct {
	scanner *scan.Orchestrator
	rules   *rules.Store
	dict    dictionary.Index
	suggest *suggest.Pipeline
	logger  *slog.Logger

	mu sync.Mutex
}

// NewService creates a new service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scanner: d.Scanner,
		rules:   d.Rules,
		dict:    d.Dictionary,
		suggest: d.Suggest,
		logger:  logger,
	}
}

// Scan indexes the whole collection.
func (s *Service) Scan(ctx context.Context) (*scan.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanner.Run(ctx)
}

// ScanNote indexes one note.
func (s *Service) ScanNote(ctx context.Context, path string) (*scan.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanner.ScanNote(ctx, path)
}

// Lookup returns the dictionary entry for the note at path.
func (s *Service) Lookup(ctx context.Context, path string) (*models.DictionaryEntry, error) {
	return s.scanner.Lookup(ctx, path)
}

// Rules returns the current rule set in file order.
func (s *Service) Rules() ([]models.Rule, error) {
	set, err := s.rules.Load()
	if err != nil {
		return nil, err
	}
	return nonNilSlice(set.Rules()), nil
}

// AddRule appends a keyword→folder rule.
func (s *Service) AddRule(keyword, folder string) (models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rules.Add(keyword, folder); err != nil {
		return models.Rule{}, err
	}
	f, err := s.rules.Resolve(keyword)
	if err != nil {
		return models.Rule{}, err
	}
	return models.Rule{Keyword: keyword, Folder: f}, nil
}

// Integrity runs the backend integrity check.
func (s *Service) Integrity(ctx context.Context) ([]string, error) {
	anomalies, err := s.dict.IntegrityCheck(ctx)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(anomalies), nil
}

// Repair backs up, checks and then compacts or rebuilds the dictionary.
func (s *Service) Repair(ctx context.Context) (*dictionary.RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, err := s.dict.Repair(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("repair finished",
		slog.String("backup", report.BackupPath),
		slog.Bool("integrity_ok", report.IntegrityOK),
		slog.Bool("rebuilt", report.Rebuilt))
	return report, nil
}

// SuggestionsEnabled reports whether the suggestion workflow is wired.
func (s *Service) SuggestionsEnabled() bool {
	return s.suggest != nil
}

func (s *Service) pipeline(op string) (*suggest.Pipeline, error) {
	if s.suggest == nil {
		return nil, apperr.E(apperr.KindConfig, op, ErrSuggestionsUnavailable)
	}
	return s.suggest, nil
}

// Suggest requests suggestions for the note at path.
func (s *Service) Suggest(ctx context.Context, path string) ([]models.Suggestion, error) {
	p, err := s.pipeline("suggest")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := p.Suggest(ctx, path)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(added), nil
}

// SuggestAll requests suggestions for every note.
func (s *Service) SuggestAll(ctx context.Context) (suggest.BatchSummary, error) {
	p, err := s.pipeline("suggest")
	if err != nil {
		return suggest.BatchSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.SuggestAll(ctx)
}

// Review lists the pending suggestions for the note at path.
func (s *Service) Review(ctx context.Context, path string) ([]models.Suggestion, error) {
	p, err := s.pipeline("review")
	if err != nil {
		return nil, err
	}
	pending, err := p.Review(ctx, path)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(pending), nil
}

// Apply accepts a suggestion.
func (s *Service) Apply(ctx context.Context, id int64) (*suggest.ApplyResult, error) {
	p, err := s.pipeline("apply")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Apply(ctx, id)
}

// Ignore rejects a suggestion.
func (s *Service) Ignore(ctx context.Context, id int64) (*models.Suggestion, error) {
	p, err := s.pipeline("ignore")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.Ignore(ctx, id)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
