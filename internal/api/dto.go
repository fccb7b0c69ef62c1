package api

import (
	"github.com/starford/slipbox/internal/dictionary"
	"github.com/starford/slipbox/internal/models"
	"github.com/starford/slipbox/internal/scan"
	"github.com/starford/slipbox/internal/suggest"
)

// ScanNoteRequest is the request body for indexing a single note.
type ScanNoteRequest struct {
	Path string `json:"path" example:"2024/storage.md" validate:"required"`
}

// AddRuleRequest is the request body for adding a keyword→folder rule.
type AddRuleRequest struct {
	Keyword string `json:"keyword" example:"databases" validate:"required"`
	Folder  string `json:"folder" example:"tech/databases" validate:"required"`
}

// SuggestRequest is the request body for requesting suggestions. An empty
// path runs the whole collection.
type SuggestRequest struct {
	Path string `json:"path,omitempty" example:"2024/storage.md"`
}

// ScanReport is the scan run report (aliased from the domain layer).
type ScanReport = scan.Report

// DictionaryEntry is a persisted dictionary entry.
type DictionaryEntry = models.DictionaryEntry

// RepairReport describes a repair run.
type RepairReport = dictionary.RepairReport

// ApplyResult describes what accepting a suggestion changed.
type ApplyResult = suggest.ApplyResult

// RulesResponse wraps the rule set.
type RulesResponse struct {
	Rules []models.Rule `json:"rules" validate:"required"`
}

// IntegrityResponse reports the integrity check outcome.
type IntegrityResponse struct {
	OK        bool     `json:"ok"`
	Anomalies []string `json:"anomalies" validate:"required"`
}

// SuggestionsResponse wraps a list of suggestions.
type SuggestionsResponse struct {
	Suggestions []models.Suggestion `json:"suggestions" validate:"required"`
}

// BatchSummary reports a whole-collection suggestion run.
type BatchSummary = suggest.BatchSummary
