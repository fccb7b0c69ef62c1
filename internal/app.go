package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/index"
	"github.com/starford/slipbox/internal/linker"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/storage"
	"github.com/starford/slipbox/internal/suggest"
	pkgconfig "github.com/starford/slipbox/pkg/config"
)

// Engine holds the wired indexing components. All surfaces (CLI, HTTP, MCP)
// drive the same Engine.
type Engine struct {
	Config     *Config
	Logger     *slog.Logger
	Notes      *storage.FS
	Rules      *rules.Store
	Dictionary dictionary.Index
	// DB is nil when the flat backend is used alone.
	DB      *index.DB
	Scanner *scan.Orchestrator
	// Suggest is nil when DB is nil.
	Suggest *suggest.Pipeline
}

// NewLogger builds the structured JSON logger used by every component.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// Open wires the engine from cfg. The notes directory must exist; the rule
// file is checked when a scan starts.
func Open(cfg *Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	linksRoot, err := filepath.Abs(cfg.Links.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve links root: %w", err)
	}
	notes, err := storage.NewFS(cfg.Notes.Path,
		storage.WithExtensions(cfg.Notes.Extensions...),
		storage.WithExclude(linksRoot),
	)
	if err != nil {
		return nil, apperr.E(apperr.KindFilesystem, "open notes", fmt.Errorf("%w: %v", apperr.ErrMissingDirectory, err))
	}

	e := &Engine{
		Config: cfg,
		Logger: logger,
		Notes:  notes,
		Rules:  rules.NewStore(cfg.Rules.Path, logger),
	}

	var flat *dictionary.Flat
	if cfg.Dictionary.UsesFlat() {
		flat = dictionary.NewFlat(cfg.Dictionary.FlatPath, logger)
	}
	if cfg.Dictionary.UsesSQLite() {
		e.DB, err = index.Open(cfg.Dictionary.SQLitePath, indexOptions(cfg, logger)...)
		if err != nil {
			if apperr.Is(err, apperr.KindBackendIntegrity) {
				return nil, fmt.Errorf("open dictionary: %w", err)
			}
			return nil, apperr.E(apperr.KindFilesystem, "open dictionary", err)
		}
	}
	switch {
	case flat != nil && e.DB != nil:
		e.Dictionary = dictionary.NewTee(e.DB, flat)
	case e.DB != nil:
		e.Dictionary = e.DB
	default:
		e.Dictionary = flat
	}

	mat := linker.New(notes, linksRoot, logger)
	e.Scanner = scan.New(notes, e.Rules, mat, e.Dictionary, scan.WithLogger(logger))

	if e.DB != nil {
		var infer suggest.Inferencer
		if cfg.Suggest.Enabled() {
			infer = &suggest.HTTPClient{
				Endpoint:        cfg.Suggest.Endpoint,
				Token:           cfg.Suggest.Token,
				Model:           cfg.Suggest.Model,
				Temperature:     cfg.Suggest.Temperature,
				MaxOutputTokens: cfg.Suggest.MaxOutputTokens,
				Timeout:         cfg.Suggest.Timeout,
				MaxRetries:      cfg.Suggest.MaxRetries,
				Client:          &http.Client{},
				Logger:          logger,
			}
		}
		e.Suggest = suggest.New(e.DB, infer, e.Scanner, e.Rules, notes,
			suggest.WithLogger(logger),
			suggest.WithDefaultConfidence(cfg.Suggest.DefaultConfidence),
			suggest.WithConcurrency(cfg.Suggest.Concurrency),
		)
	}

	logger.Info("engine opened",
		slog.String("notes", notes.Root()),
		slog.String("rules", cfg.Rules.Path),
		slog.String("links_root", linksRoot),
		slog.String("backend", cfg.Dictionary.Backend),
		slog.Bool("suggest_enabled", cfg.Suggest.Enabled()))
	return e, nil
}

func indexOptions(cfg *Config, logger *slog.Logger) []index.Option {
	backupDir := cfg.Dictionary.BackupDir
	if backupDir == "" {
		backupDir = filepath.Dir(cfg.Dictionary.SQLitePath)
	}
	return []index.Option{
		index.WithLogger(logger),
		index.WithBackupDir(backupDir),
		index.WithBusyRetry(cfg.Dictionary.BusyRetries, cfg.Dictionary.BusyDelay),
	}
}

// RepairDictionary backs up and rebuilds the SQLite dictionary without
// opening an Engine. It serves the case where Open fails because the
// database file is unreadable.
func RepairDictionary(ctx context.Context, cfg *Config, logger *slog.Logger) (*dictionary.RepairReport, error) {
	if !cfg.Dictionary.UsesSQLite() {
		return nil, apperr.E(apperr.KindConfig, "repair dictionary", apperr.ErrUnsupported)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return index.RepairFile(ctx, cfg.Dictionary.SQLitePath, indexOptions(cfg, logger)...)
}

// Service returns the facade every surface drives.
func (e *Engine) Service() *noteservice.Service {
	return noteservice.NewService(noteservice.Deps{
		Scanner:    e.Scanner,
		Rules:      e.Rules,
		Dictionary: e.Dictionary,
		Suggest:    e.Suggest,
		Logger:     e.Logger,
	})
}

// Close releases the dictionary backends.
func (e *Engine) Close() error {
	if e.Dictionary == nil {
		return nil
	}
	return e.Dictionary.Close()
}

// Init creates the notes directory, links root and an empty rule file if they
// are missing, and writes cfg to configPath when that file does not exist.
func Init(cfg *Config, configPath string) ([]string, error) {
	var created []string
	for _, dir := range []string{cfg.Notes.Path, cfg.Links.Root} {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return created, fmt.Errorf("create %s: %w", dir, err)
			}
			created = append(created, dir)
		}
	}
	if _, err := os.Stat(cfg.Rules.Path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(cfg.Rules.Path), 0o755); err != nil {
			return created, fmt.Errorf("create rules dir: %w", err)
		}
		header := "# keyword: folder\n"
		if err := os.WriteFile(cfg.Rules.Path, []byte(header), 0o644); err != nil {
			return created, fmt.Errorf("create rule file: %w", err)
		}
		created = append(created, cfg.Rules.Path)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			if err := pkgconfig.Save(configPath, cfg); err != nil {
				return created, err
			}
			created = append(created, configPath)
		}
	}
	return created, nil
}
