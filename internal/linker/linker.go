// Package linker materializes (note, keyword) pairs as symlinks under the
// folders the rules map keywords to.
package linker

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/rules"
	"github.com/starford/slipbox/internal/storage"
)

// Result describes one Materialize call.
type Result struct {
	// Created holds links made by this call.
	Created []models.Link
	// Existing holds links that were already in place and point at the note.
	Existing []models.Link
	// Unmapped holds keywords with no rule.
	Unmapped []string
	// Conflicts holds paths occupied by something other than a link to the note.
	Conflicts []string

	links []models.Link
}

// Links returns every link that belongs to the note, in processing order.
func (r Result) Links() []models.Link {
	out := make([]models.Link, len(r.links))
	copy(out, r.links)
	return out
}

// Materializer creates links. It never deletes or overwrites anything.
type Materializer struct {
	fs     storage.LinkFS
	root   string // base for relative rule folders
	logger *slog.Logger
}

// New creates a Materializer resolving relative folders against root.
func New(fsys storage.LinkFS, root string, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{fs: fsys, root: root, logger: logger}
}

// Folder resolves a rule folder to an absolute directory.
func (m *Materializer) Folder(folder string) string {
	if filepath.IsAbs(folder) {
		return filepath.Clean(folder)
	}
	return filepath.Join(m.root, folder)
}

// Materialize ensures one link per mapped keyword at folder/filename pointing
// at note.CanonicalPath. keywords are processed in the order given. Work done
// before a failure is kept; the partial Result is returned with the error.
func (m *Materializer) Materialize(note models.Note, keywords []string, set rules.Set) (Result, error) {
	var res Result
	for _, kw := range keywords {
		folder, ok := set.Resolve(kw)
		if !ok {
			res.Unmapped = append(res.Unmapped, kw)
			continue
		}
		dir := m.Folder(folder)
		linkPath := filepath.Join(dir, note.Filename)
		link := models.Link{Keyword: kw, Path: linkPath}

		info, err := m.fs.Lstat(linkPath)
		switch {
		case err == nil:
			if m.pointsAt(linkPath, info, note.CanonicalPath) {
				res.Existing = append(res.Existing, link)
				res.links = append(res.links, link)
			} else {
				m.logger.Warn("linker: path occupied, left untouched",
					slog.String("path", linkPath),
					slog.String("note", note.CanonicalPath))
				res.Conflicts = append(res.Conflicts, linkPath)
			}
			continue
		case !errors.Is(err, fs.ErrNotExist):
			return res, apperr.E(apperr.KindFilesystem, "linker: stat "+linkPath, err)
		}

		if err := m.fs.MkdirAll(dir); err != nil {
			return res, apperr.E(apperr.KindFilesystem, "linker: folder "+dir, err)
		}
		if err := m.fs.Symlink(note.CanonicalPath, linkPath); err != nil {
			return res, apperr.E(apperr.KindFilesystem, "linker: link "+linkPath, err)
		}
		m.logger.Debug("linker: created",
			slog.String("keyword", kw),
			slog.String("path", linkPath))
		res.Created = append(res.Created, link)
		res.links = append(res.links, link)
	}
	return res, nil
}

func (m *Materializer) pointsAt(linkPath string, info fs.FileInfo, target string) bool {
	if info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	dest, err := m.fs.Readlink(linkPath)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(linkPath), dest)
	}
	if filepath.Clean(dest) == filepath.Clean(target) {
		return true
	}
	resolved, err := filepath.EvalSymlinks(dest)
	return err == nil && resolved == target
}

// String renders a short summary for logs.
func (r Result) String() string {
	return fmt.Sprintf("created=%d existing=%d unmapped=%d conflicts=%d",
		len(r.Created), len(r.Existing), len(r.Unmapped), len(r.Conflicts))
}
