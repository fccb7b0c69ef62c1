// Package suggest proposes keywords for notes through an external inference
// service and runs the review, apply and ignore workflow over them.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/parser"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/storage"
)

// DefaultConfidence is stored for candidates the service did not score.
const DefaultConfidence = 0.95

// ErrNoEndpoint is returned by Suggest and SuggestAll when no inference
// endpoint is configured. Review, Apply and Ignore still work.
var ErrNoEndpoint = errors.New("no inference endpoint configured")

// SuggestionStore persists suggestions. *index.DB implements it.
type SuggestionStore interface {
	AddSuggestions(ctx context.Context, note models.Note, candidates []models.Suggestion) ([]models.Suggestion, error)
	PendingSuggestions(ctx context.Context, canonicalPath string) ([]models.Suggestion, error)
	Suggestion(ctx context.Context, id int64) (*models.Suggestion, error)
	MarkApplied(ctx context.Context, id int64) error
}

// Scanner resolves notes and re-scans one. *scan.Orchestrator implements it.
type Scanner interface {
	Resolve(path string) (models.Note, error)
	Notes() ([]models.Note, error)
	ScanNote(ctx context.Context, path string) (*scan.Report, error)
}

// Pipeline runs the suggestion workflow.
type Pipeline struct {
	store   SuggestionStore
	infer   Inferencer
	scanner Scanner
	rules   *rules.Store
	notes   storage.Provider
	logger  *slog.Logger

	defaultConfidence float64
	concurrency       int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithDefaultConfidence overrides DefaultConfidence.
func WithDefaultConfidence(c float64) Option {
	return func(p *Pipeline) {
		if c > 0 && c <= 1 {
			p.defaultConfidence = c
		}
	}
}

// WithConcurrency bounds parallel inference calls in SuggestAll.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// New creates a Pipeline.
func New(store SuggestionStore, infer Inferencer, scanner Scanner, rs *rules.Store, notes storage.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:             store,
		infer:             infer,
		scanner:           scanner,
		rules:             rs,
		notes:             notes,
		logger:            slog.Default(),
		defaultConfidence: DefaultConfidence,
		concurrency:       2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Suggest asks the service for keywords for the note at path and stores the
// new ones. Keywords the note already carries are skipped. No backend
// transaction is open while the service is called.
func (p *Pipeline) Suggest(ctx context.Context, path string) ([]models.Suggestion, error) {
	if p.infer == nil {
		return nil, apperr.E(apperr.KindConfig, "suggest", ErrNoEndpoint)
	}
	note, text, err := p.read(path)
	if err != nil {
		return nil, err
	}
	cands, err := p.infer.Infer(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.store.AddSuggestions(ctx, note, p.filter(note, text, cands))
}

func (p *Pipeline) read(path string) (models.Note, string, error) {
	note, err := p.scanner.Resolve(path)
	if err != nil {
		return models.Note{}, "", err
	}
	data, err := p.notes.Read(note.RelPath)
	if err != nil {
		return models.Note{}, "", apperr.E(apperr.KindFilesystem, "suggest: read "+note.RelPath, err)
	}
	return note, string(data), nil
}

// filter fills in default confidences and drops invalid, repeated and
// already-marked keywords.
func (p *Pipeline) filter(note models.Note, text string, cands []Candidate) []models.Suggestion {
	present := make(map[string]struct{})
	for _, kw := range parser.Extract(text) {
		present[kw] = struct{}{}
	}
	out := make([]models.Suggestion, 0, len(cands))
	for _, c := range cands {
		c.Keyword = strings.TrimSpace(c.Keyword)
		if !c.Scored {
			c.Confidence = p.defaultConfidence
		}
		if err := c.Validate(); err != nil {
			p.logger.Warn("suggest: candidate rejected",
				slog.String("note", note.RelPath),
				slog.String("keyword", c.Keyword),
				slog.String("error", err.Error()))
			continue
		}
		if _, ok := present[c.Keyword]; ok {
			continue
		}
		present[c.Keyword] = struct{}{}
		out = append(out, models.Suggestion{
			NotePath:   note.CanonicalPath,
			Keyword:    c.Keyword,
			Confidence: c.Confidence,
		})
	}
	return out
}

// NoteFailure records a note SuggestAll could not process.
type NoteFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchSummary holds counts from a SuggestAll run.
type BatchSummary struct {
	Processed int           `json:"processed"`
	Added     int           `json:"added"`
	Failed    int           `json:"failed"`
	Failures  []NoteFailure `json:"failures,omitempty"`
}

// SuggestAll runs Suggest over every note. Service calls run in parallel up to
// the configured concurrency; results are stored one note at a time. A failure
// on one note is logged and recorded, and the batch moves on.
func (p *Pipeline) SuggestAll(ctx context.Context) (BatchSummary, error) {
	var summary BatchSummary
	if p.infer == nil {
		return summary, apperr.E(apperr.KindConfig, "suggest", ErrNoEndpoint)
	}
	notes, err := p.scanner.Notes()
	if err != nil {
		return summary, err
	}

	type result struct {
		note  models.Note
		text  string
		cands []Candidate
		err   error
	}
	results := make([]result, len(notes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, n := range notes {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r := result{note: n}
			data, err := p.notes.Read(n.RelPath)
			if err != nil {
				r.err = apperr.E(apperr.KindFilesystem, "suggest: read "+n.RelPath, err)
			} else {
				r.text = string(data)
				r.cands, r.err = p.infer.Infer(gctx, r.text)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Processed++
		err := r.err
		if err == nil {
			var added []models.Suggestion
			added, err = p.store.AddSuggestions(ctx, r.note, p.filter(r.note, r.text, r.cands))
			summary.Added += len(added)
		}
		if err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, NoteFailure{Path: r.note.RelPath, Error: err.Error()})
			p.logger.Warn("suggest: note skipped",
				slog.String("note", r.note.RelPath),
				slog.String("kind", apperr.KindOf(err).String()),
				slog.String("error", err.Error()))
		}
	}
	p.logger.Info("suggest: batch finished",
		slog.Int("processed", summary.Processed),
		slog.Int("added", summary.Added),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// Review returns the pending suggestions for the note at path, highest
// confidence first.
func (p *Pipeline) Review(ctx context.Context, path string) ([]models.Suggestion, error) {
	note, err := p.scanner.Resolve(path)
	if err != nil {
		return nil, err
	}
	return p.store.PendingSuggestions(ctx, note.CanonicalPath)
}

// ApplyResult describes what Apply changed.
type ApplyResult struct {
	Suggestion  models.Suggestion `json:"suggestion"`
	RuleAdded   bool              `json:"rule_added"`
	MarkerAdded bool              `json:"marker_added"`
	Scan        *scan.Report      `json:"scan,omitempty"`
}

// Apply accepts a suggestion: the keyword gets a self-named rule if it has
// none, the note gets a marker if it lacks one, the suggestion is marked
// applied and the note is re-scanned so the link is materialized.
func (p *Pipeline) Apply(ctx context.Context, id int64) (*ApplyResult, error) {
	s, err := p.pending(ctx, id, "suggest: apply")
	if err != nil {
		return nil, err
	}
	res := &ApplyResult{Suggestion: *s}

	if _, err := p.rules.Resolve(s.Keyword); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		if err := p.rules.Add(s.Keyword, s.Keyword); err != nil && !errors.Is(err, apperr.ErrDuplicateKeyword) {
			return nil, err
		}
		res.RuleAdded = true
	}

	data, err := p.notes.Read(s.NotePath)
	if err != nil {
		return nil, apperr.E(apperr.KindFilesystem, "suggest: apply", err)
	}
	text := string(data)
	if !parser.HasMarker(text, s.Keyword) {
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		text += parser.Marker(s.Keyword) + "\n"
		if err := p.notes.Write(s.NotePath, []byte(text)); err != nil {
			return nil, apperr.E(apperr.KindFilesystem, "suggest: apply", err)
		}
		res.MarkerAdded = true
	}

	if err := p.store.MarkApplied(ctx, id); err != nil {
		return nil, err
	}
	res.Suggestion.Applied = true
	p.logger.Info("suggest: applied",
		slog.Int64("id", id),
		slog.String("keyword", s.Keyword),
		slog.Bool("rule_added", res.RuleAdded),
		slog.Bool("marker_added", res.MarkerAdded))

	report, err := p.scanner.ScanNote(ctx, s.NotePath)
	res.Scan = report
	if err != nil {
		return res, fmt.Errorf("suggest: rescan after apply: %w", err)
	}
	return res, nil
}

// Ignore rejects a suggestion. Like Apply it is terminal.
func (p *Pipeline) Ignore(ctx context.Context, id int64) (*models.Suggestion, error) {
	s, err := p.pending(ctx, id, "suggest: ignore")
	if err != nil {
		return nil, err
	}
	if err := p.store.MarkApplied(ctx, id); err != nil {
		return nil, err
	}
	s.Applied = true
	p.logger.Info("suggest: ignored", slog.Int64("id", id), slog.String("keyword", s.Keyword))
	return s, nil
}

func (p *Pipeline) pending(ctx context.Context, id int64, op string) (*models.Suggestion, error) {
	s, err := p.store.Suggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Applied {
		return nil, apperr.E(apperr.KindConflict, op, apperr.ErrAlreadyApplied)
	}
	return s, nil
}
