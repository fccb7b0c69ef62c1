package dictionary

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/storage"
)

// Flat stores one line per note: "filename: [originalPath, link1, ...]".
// A line belongs to the note whose filename and original path both match, so
// notes sharing a filename in different folders keep separate lines.
// Every Upsert rewrites the file atomically; there is no transaction.
type Flat struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ Index = (*Flat)(nil)

// NewFlat opens the flat dictionary at path. The file is created lazily.
func NewFlat(path string, logger *slog.Logger) *Flat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flat{path: path, logger: logger}
}

// line is one physical line of the dictionary file. Malformed lines are kept
// verbatim so a rewrite never drops data.
type line struct {
	raw      string
	filename string
	paths    []string
	ok       bool
}

func parseLine(raw string) line {
	l := line{raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return l
	}
	var m map[string][]string
	if err := yaml.Unmarshal([]byte(trimmed), &m); err != nil || len(m) != 1 {
		return l
	}
	for k, v := range m {
		if k == "" || len(v) == 0 {
			return l
		}
		l.filename, l.paths, l.ok = k, v, true
	}
	return l
}

func (l line) matches(filename, canonical string) bool {
	return l.ok && l.filename == filename && l.paths[0] == canonical
}

func encodeLine(filename string, paths []string) (string, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, p := range paths {
		seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: p})
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: filename},
		seq,
	}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (f *Flat) readLines() ([]line, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.E(apperr.KindConfig, "dictionary: read "+f.path, err)
	}
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		out = append(out, parseLine(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.E(apperr.KindConfig, "dictionary: scan "+f.path, err)
	}
	return out, nil
}

func (f *Flat) upsert(entry models.DictionaryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLines()
	if err != nil {
		return err
	}
	paths := append([]string{entry.CanonicalPath}, UniquePaths(entry)...)
	encoded, err := encodeLine(entry.Filename, paths)
	if err != nil {
		return fmt.Errorf("dictionary: encode %s: %w", entry.Filename, err)
	}

	replaced := false
	for i, l := range lines {
		if l.matches(entry.Filename, entry.CanonicalPath) {
			if l.raw == encoded {
				return nil
			}
			lines[i] = line{raw: encoded, filename: entry.Filename, paths: paths, ok: true}
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, line{raw: encoded, filename: entry.Filename, paths: paths, ok: true})
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.raw)
		buf.WriteByte('\n')
	}
	if err := storage.WriteFileAtomic(f.path, buf.Bytes()); err != nil {
		return apperr.E(apperr.KindFilesystem, "dictionary: write", err)
	}
	return nil
}

// Begin returns a batch whose upserts are written through immediately.
func (f *Flat) Begin(_ context.Context) (Batch, error) {
	return flatBatch{f: f}, nil
}

// Lookup finds the line for note.Filename whose original path is
// note.CanonicalPath.
func (f *Flat) Lookup(_ context.Context, note models.Note) (*models.DictionaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLines()
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if !l.matches(note.Filename, note.CanonicalPath) {
			continue
		}
		entry := &models.DictionaryEntry{
			Filename:      l.filename,
			CanonicalPath: l.paths[0],
			Links:         []models.Link{},
		}
		for _, p := range l.paths[1:] {
			entry.Links = append(entry.Links, models.Link{Path: p})
		}
		return entry, nil
	}
	return nil, apperr.E(apperr.KindNotFound, "dictionary: lookup "+note.CanonicalPath, apperr.ErrNotFound)
}

// IntegrityCheck reports lines that do not parse as a dictionary record,
// repeated records for the same note, and filenames shared by several notes.
func (f *Flat) IntegrityCheck(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lines, err := f.readLines()
	if err != nil {
		return nil, err
	}
	anomalies := []string{}
	seen := make(map[[2]string]int)
	byName := make(map[string]int)
	for i, l := range lines {
		trimmed := strings.TrimSpace(l.raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !l.ok {
			anomalies = append(anomalies, fmt.Sprintf("line %d: malformed record %q", i+1, l.raw))
			continue
		}
		key := [2]string{l.filename, l.paths[0]}
		if prev, dup := seen[key]; dup {
			anomalies = append(anomalies, fmt.Sprintf("line %d: duplicate entry for %s (first on line %d)", i+1, l.paths[0], prev))
			continue
		}
		seen[key] = i + 1
		if prev, clash := byName[l.filename]; clash {
			anomalies = append(anomalies, fmt.Sprintf("line %d: filename %s collides with line %d (%s)", i+1, l.filename, prev, l.paths[0]))
			continue
		}
		byName[l.filename] = i + 1
	}
	return anomalies, nil
}

// Repair is not supported by the flat backend.
func (f *Flat) Repair(_ context.Context) (*RepairReport, error) {
	return nil, apperr.E(apperr.KindConfig, "dictionary: repair", apperr.ErrUnsupported)
}

// Transactional is false: upserts are visible as soon as they return.
func (f *Flat) Transactional() bool { return false }

// Close is a no-op.
func (f *Flat) Close() error { return nil }

type flatBatch struct{ f *Flat }

func (b flatBatch) Upsert(_ context.Context, entry models.DictionaryEntry) error {
	return b.f.upsert(entry)
}

func (b flatBatch) Commit() error   { return nil }
func (b flatBatch) Rollback() error { return nil }
