package scan

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/models"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateIndexing   State = "indexing"
	StateCommitting State = "committing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// NoteOutcome is what happened to one note during a run.
type NoteOutcome struct {
	Path       string        `json:"path"`
	Keywords   []string      `json:"keywords"`
	Normalized bool          `json:"normalized,omitempty"`
	Created    []models.Link `json:"created,omitempty"`
	Links      []models.Link `json:"links"`
	Unmapped   []string      `json:"unmapped,omitempty"`
	Conflicts  []string      `json:"conflicts,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

func (o *NoteOutcome) fail(err error) {
	o.Error = err.Error()
	o.ErrorKind = apperr.KindOf(err).String()
}

// Report is the per-run result. It is returned for every run, failed ones
// included, so divergence between backends is never hidden.
type Report struct {
	RunID      uuid.UUID     `json:"run_id"`
	State      State         `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Notes      []NoteOutcome `json:"notes"`
	// Unmapped is the sorted set of keywords with no rule across the run.
	Unmapped     []string `json:"unmapped"`
	Scanned      int      `json:"scanned"`
	Failed       int      `json:"failed"`
	LinksCreated int      `json:"links_created"`
	Upserted     int      `json:"upserted"`
	// CommitError is set when the dictionary batch could not be committed.
	CommitError string `json:"commit_error,omitempty"`
	// Diverged is true when a failed commit left non-transactional backend
	// writes (the flat file) ahead of the relational store.
	Diverged bool `json:"diverged"`
	// Aborted is true when the run was cancelled between notes.
	Aborted bool `json:"aborted"`
	Error   string `json:"error,omitempty"`
}

func newReport() *Report {
	return &Report{
		RunID:     uuid.New(),
		State:     StateIdle,
		StartedAt: time.Now().UTC(),
		Notes:     []NoteOutcome{},
		Unmapped:  []string{},
	}
}

func (r *Report) add(o NoteOutcome) {
	r.Notes = append(r.Notes, o)
	r.Scanned++
	if o.Error != "" {
		r.Failed++
	}
	r.LinksCreated += len(o.Created)
}

func (r *Report) finish(state State, err error) {
	r.State = state
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.Error = err.Error()
	}
	seen := make(map[string]struct{})
	for _, o := range r.Notes {
		for _, kw := range o.Unmapped {
			seen[kw] = struct{}{}
		}
	}
	r.Unmapped = r.Unmapped[:0]
	for kw := range seen {
		r.Unmapped = append(r.Unmapped, kw)
	}
	sort.Strings(r.Unmapped)
}
