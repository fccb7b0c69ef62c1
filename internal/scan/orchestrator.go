// Package scan drives batch indexing: enumerate notes, normalize and extract
// markers, materialize links and upsert the dictionary in one batch.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/linker"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/parser"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/storage"
)

// Orchestrator runs scans. At most one run is active per Orchestrator.
type Orchestrator struct {
	notes       storage.Provider
	rules       *rules.Store
	linker      *linker.Materializer
	dict        dictionary.Index
	logger      *slog.Logger
	concurrency int

	mu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConcurrency bounds the parallel read/extract step. Values below 1 mean
// GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// New creates an Orchestrator.
func New(notes storage.Provider, rs *rules.Store, mat *linker.Materializer, idx dictionary.Index, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		notes:  notes,
		rules:  rs,
		linker: mat,
		dict:   idx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = runtime.GOMAXPROCS(0)
	}
	return o
}

// prepared is the read-only half of processing one note.
type prepared struct {
	file       storage.File
	note       models.Note
	text       string
	normalized bool
	err        error
}

// Run scans every note in the collection. The returned Report is never nil.
// Per-note failures are recorded in the report and do not fail the run; a
// dictionary upsert or commit failure does.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := newReport()
	log := o.logger.With(slog.String("run_id", report.RunID.String()))

	set, err := o.validate(report)
	if err != nil {
		log.Error("scan: validation failed", slog.String("error", err.Error()))
		return report, err
	}

	files, err := o.notes.List()
	if err != nil {
		err = apperr.E(apperr.KindFilesystem, "scan: enumerate", err)
		report.finish(StateFailed, err)
		return report, err
	}
	log.Info("scan: started", slog.Int("notes", len(files)), slog.Int("rules", set.Len()))

	return report, o.run(ctx, log, report, set, files)
}

// ScanNote runs the same state machine for a single note. path is relative to
// the collection root or absolute inside it.
func (o *Orchestrator) ScanNote(ctx context.Context, path string) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	report := newReport()
	log := o.logger.With(slog.String("run_id", report.RunID.String()))

	set, err := o.validate(report)
	if err != nil {
		return report, err
	}
	file, err := o.resolve(path)
	if err != nil {
		report.finish(StateFailed, err)
		return report, err
	}
	return report, o.run(ctx, log, report, set, []storage.File{file})
}

// Resolve maps a user-supplied note path to the note it names.
func (o *Orchestrator) Resolve(path string) (models.Note, error) {
	file, err := o.resolve(path)
	if err != nil {
		return models.Note{}, err
	}
	return noteFor(file), nil
}

func (o *Orchestrator) resolve(path string) (storage.File, error) {
	abs, err := o.notes.Abs(path)
	if err != nil {
		return storage.File{}, apperr.E(apperr.KindNotFound, "scan: resolve "+path, fmt.Errorf("%w: %v", apperr.ErrNotFound, err))
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return storage.File{}, apperr.E(apperr.KindNotFound, "scan: resolve "+path, apperr.ErrNotFound)
	}
	rel, err := filepath.Rel(o.notes.Root(), abs)
	if err != nil {
		return storage.File{}, err
	}
	return storage.File{Path: filepath.ToSlash(rel), AbsPath: abs}, nil
}

func noteFor(f storage.File) models.Note {
	return models.Note{
		CanonicalPath: f.AbsPath,
		RelPath:       f.Path,
		Filename:      filepath.Base(f.AbsPath),
	}
}

// validate checks inputs exist before anything touches the backend.
func (o *Orchestrator) validate(report *Report) (rules.Set, error) {
	report.State = StateValidating
	info, err := os.Stat(o.notes.Root())
	if err != nil || !info.IsDir() {
		err = apperr.E(apperr.KindFilesystem, "scan: validate", fmt.Errorf("%w: %s", apperr.ErrMissingDirectory, o.notes.Root()))
		report.finish(StateFailed, err)
		return rules.Set{}, err
	}
	set, err := o.rules.Load()
	if err != nil {
		report.finish(StateFailed, err)
		return rules.Set{}, err
	}
	return set, nil
}

func (o *Orchestrator) prepare(ctx context.Context, files []storage.File) []prepared {
	out := make([]prepared, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, f := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			p := prepared{file: f, note: noteFor(f)}
			data, err := o.notes.Read(f.Path)
			if err != nil {
				p.err = apperr.E(apperr.KindFilesystem, "scan: read "+f.Path, err)
			} else {
				raw := string(data)
				p.text = parser.Normalize(raw)
				p.normalized = p.text != raw
				p.note.Keywords = parser.Extract(p.text)
			}
			out[i] = p
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// run executes Indexing and Committing over files.
func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, report *Report, set rules.Set, files []storage.File) error {
	report.State = StateIndexing
	notes := o.prepare(ctx, files)

	// The batch outlives cancellation of ctx: a run is only aborted between
	// notes and whatever was processed by then is still committed.
	bctx := context.WithoutCancel(ctx)
	batch, err := o.dict.Begin(bctx)
	if err != nil {
		report.finish(StateFailed, err)
		log.Error("scan: begin batch", slog.String("error", err.Error()))
		return err
	}

	for _, p := range notes {
		if ctx.Err() != nil {
			report.Aborted = true
			log.Warn("scan: cancelled", slog.Int("processed", report.Scanned))
			break
		}
		outcome, entry, ok := o.process(log, p, set)
		if ok {
			if err := batch.Upsert(bctx, entry); err != nil {
				outcome.fail(err)
				report.add(outcome)
				_ = batch.Rollback()
				report.Diverged = dictionary.CanDiverge(o.dict)
				report.finish(StateFailed, err)
				log.Error("scan: upsert failed, batch rolled back",
					slog.String("note", p.file.Path),
					slog.String("error", err.Error()))
				return err
			}
			report.Upserted++
		}
		report.add(outcome)
	}

	report.State = StateCommitting
	if err := batch.Commit(); err != nil {
		_ = batch.Rollback()
		report.CommitError = err.Error()
		report.Diverged = dictionary.CanDiverge(o.dict) && report.Upserted > 0
		report.finish(StateFailed, err)
		log.Error("scan: commit failed",
			slog.String("error", err.Error()),
			slog.Bool("diverged", report.Diverged))
		return err
	}

	var runErr error
	if report.Aborted {
		runErr = ctx.Err()
	}
	report.finish(StateDone, runErr)
	log.Info("scan: finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("failed", report.Failed),
		slog.Int("links_created", report.LinksCreated),
		slog.Int("unmapped", len(report.Unmapped)),
		slog.Bool("aborted", report.Aborted))
	return runErr
}

// process applies the side effects for one note. ok reports whether the note
// has an entry to upsert.
func (o *Orchestrator) process(log *slog.Logger, p prepared, set rules.Set) (NoteOutcome, models.DictionaryEntry, bool) {
	outcome := NoteOutcome{Path: p.file.Path, Keywords: p.note.Keywords, Links: []models.Link{}}
	if p.err != nil {
		outcome.fail(p.err)
		log.Warn("scan: note skipped", slog.String("note", p.file.Path), slog.String("error", p.err.Error()))
		return outcome, models.DictionaryEntry{}, false
	}
	if outcome.Keywords == nil {
		outcome.Keywords = []string{}
	}

	if p.normalized {
		if err := o.notes.Write(p.file.Path, []byte(p.text)); err != nil {
			err = apperr.E(apperr.KindFilesystem, "scan: write "+p.file.Path, err)
			outcome.fail(err)
			log.Warn("scan: normalize write failed", slog.String("note", p.file.Path), slog.String("error", err.Error()))
			return outcome, models.DictionaryEntry{}, false
		}
		outcome.Normalized = true
	}

	res, err := o.linker.Materialize(p.note, p.note.Keywords, set)
	outcome.Created = res.Created
	outcome.Links = res.Links()
	outcome.Unmapped = res.Unmapped
	outcome.Conflicts = res.Conflicts
	if err != nil {
		// Links made before the failure stay on disk and in the entry.
		outcome.fail(err)
		log.Warn("scan: materialize failed", slog.String("note", p.file.Path), slog.String("error", err.Error()))
	}
	for _, kw := range res.Unmapped {
		log.Info("scan: unmapped keyword", slog.String("note", p.file.Path), slog.String("keyword", kw))
	}

	entry := models.DictionaryEntry{
		Filename:      p.note.Filename,
		CanonicalPath: p.note.CanonicalPath,
		Links:         outcome.Links,
	}
	return outcome, entry, true
}

// Lookup returns the dictionary entry for the note at path.
func (o *Orchestrator) Lookup(ctx context.Context, path string) (*models.DictionaryEntry, error) {
	note, err := o.Resolve(path)
	if err != nil {
		return nil, err
	}
	return o.dict.Lookup(ctx, note)
}

// Notes returns every note in the collection.
func (o *Orchestrator) Notes() ([]models.Note, error) {
	files, err := o.notes.List()
	if err != nil {
		return nil, apperr.E(apperr.KindFilesystem, "scan: enumerate", err)
	}
	out := make([]models.Note, len(files))
	for i, f := range files {
		out[i] = noteFor(f)
	}
	return out, nil
}

// IsValidation reports whether err came from the Validating state.
func IsValidation(err error) bool {
	return errors.Is(err, apperr.ErrMissingDirectory) || errors.Is(err, apperr.ErrMissingRuleFile)
}
