// Package models defines the domain types for slipbox.
package models

import "time"

// Note is a single source document in the collection.
type Note struct {
	CanonicalPath string   `json:"canonical_path"`
	RelPath       string   `json:"rel_path"`
	Filename      string   `json:"filename"`
	Keywords      []string `json:"keywords,omitempty"`
}

// Rule routes a keyword to a target folder.
type Rule struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Folder  string `json:"folder" yaml:"folder"`
}

// Link is a materialized (note, keyword) association on disk.
type Link struct {
	Keyword string `json:"keyword,omitempty"`
	Path    string `json:"path"`
}

// DictionaryEntry is the persisted state of one note.
type DictionaryEntry struct {
	Filename      string    `json:"filename"`
	CanonicalPath string    `json:"canonical_path"`
	Links         []Link    `json:"links"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// LinkPaths returns the entry's link paths in order.
func (e DictionaryEntry) LinkPaths() []string {
	out := make([]string, len(e.Links))
	for i, l := range e.Links {
		out[i] = l.Path
	}
	return out
}

// Suggestion is a keyword proposed by the inference service.
type Suggestion struct {
	ID         int64   `json:"id"`
	NoteID     int64   `json:"note_id"`
	NotePath   string  `json:"note_path"`
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`
	Applied    bool    `json:"applied"`
}
