package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/noteservice"
	"github.com/starford/slipbox/internal/scan"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// writeReport writes a scan report. A failed run still returns its report,
// with the status derived from the error.
func (h *Handler) writeReport(w http.ResponseWriter, report *scan.Report, err error) {
	if err != nil && report == nil {
		writeError(w, h.logger, "scan", err)
		return
	}
	status := http.StatusOK
	if err != nil && !report.Aborted {
		status = statusFor(apperr.KindOf(err))
	}
	writeJSON(w, status, report)
}

// Scan handles POST /api/scan.
//
//	@Summary		Index the whole note collection
//	@Tags			scan
//	@Produce		json
//	@Success		200	{object}	ScanReport
//	@Failure		422	{object}	ScanReport
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Scan(r.Context())
	h.writeReport(w, report, err)
}

// ScanNote handles POST /api/scan/note.
//
//	@Summary		Index a single note
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ScanNoteRequest	true	"Note to index"
//	@Success		200		{object}	ScanReport
//	@Failure		404		{object}	ScanReport
//	@Security		BearerAuth
//	@Router			/scan/note [post]
func (h *Handler) ScanNote(w http.ResponseWriter, r *http.Request) {
	var req ScanNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	report, err := h.svc.ScanNote(r.Context(), req.Path)
	h.writeReport(w, report, err)
}

// Lookup handles GET /api/dictionary?note=.
//
//	@Summary		Look up the dictionary entry of a note
//	@Tags			dictionary
//	@Produce		json
//	@Param			note	query		string	true	"Note path"
//	@Success		200		{object}	DictionaryEntry
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dictionary [get]
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("note")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'note' is required"))
		return
	}
	entry, err := h.svc.Lookup(r.Context(), path)
	if err != nil {
		writeError(w, h.logger, "lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListRules handles GET /api/rules.
//
//	@Summary		List keyword→folder rules
//	@Tags			rules
//	@Produce		json
//	@Success		200	{object}	RulesResponse
//	@Security		BearerAuth
//	@Router			/rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, _ *http.Request) {
	rs, err := h.svc.Rules()
	if err != nil {
		writeError(w, h.logger, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, RulesResponse{Rules: rs})
}

// AddRule handles POST /api/rules.
//
//	@Summary		Add a keyword→folder rule
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddRuleRequest	true	"Rule to add"
//	@Success		201		{object}	models.Rule
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rules [post]
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	var req AddRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Keyword == "" || req.Folder == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("keyword and folder are required"))
		return
	}
	rule, err := h.svc.AddRule(req.Keyword, req.Folder)
	if err != nil {
		writeError(w, h.logger, "add rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// Integrity handles GET /api/integrity.
//
//	@Summary		Check dictionary backend integrity
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	IntegrityResponse
//	@Security		BearerAuth
//	@Router			/integrity [get]
func (h *Handler) Integrity(w http.ResponseWriter, r *http.Request) {
	anomalies, err := h.svc.Integrity(r.Context())
	if err != nil {
		writeError(w, h.logger, "integrity check", err)
		return
	}
	writeJSON(w, http.StatusOK, IntegrityResponse{OK: len(anomalies) == 0, Anomalies: anomalies})
}

// Repair handles POST /api/repair.
//
//	@Summary		Back up and repair the dictionary backend
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	RepairReport
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/repair [post]
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Repair(r.Context())
	if err != nil {
		writeError(w, h.logger, "repair", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Suggest handles POST /api/suggestions.
//
//	@Summary		Request keyword suggestions for a note or the whole collection
//	@Tags			suggestions
//	@Accept			json
//	@Produce		json
//	@Param			note	query		string			false	"Note path"
//	@Param			body	body		SuggestRequest	false	"Note to analyze"
//	@Success		200		{object}	SuggestionsResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions [post]
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		req.Path = r.URL.Query().Get("note")
	}
	if req.Path == "" {
		summary, err := h.svc.SuggestAll(r.Context())
		if err != nil {
			writeError(w, h.logger, "suggest all", err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}
	added, err := h.svc.Suggest(r.Context(), req.Path)
	if err != nil {
		writeError(w, h.logger, "suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: added})
}

// Review handles GET /api/suggestions?note=.
//
//	@Summary		List pending suggestions for a note
//	@Tags			suggestions
//	@Produce		json
//	@Param			note	query		string	true	"Note path"
//	@Success		200		{object}	SuggestionsResponse
//	@Security		BearerAuth
//	@Router			/suggestions [get]
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("note")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'note' is required"))
		return
	}
	pending, err := h.svc.Review(r.Context(), path)
	if err != nil {
		writeError(w, h.logger, "review", err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestionsResponse{Suggestions: pending})
}

func suggestionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid suggestion id"))
		return 0, false
	}
	return id, true
}

// Apply handles POST /api/suggestions/{id}/apply.
//
//	@Summary		Accept a suggestion
//	@Tags			suggestions
//	@Produce		json
//	@Param			id	path		int	true	"Suggestion ID"
//	@Success		200	{object}	ApplyResult
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions/{id}/apply [post]
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Apply(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "apply", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Ignore handles POST /api/suggestions/{id}/ignore.
//
//	@Summary		Reject a suggestion
//	@Tags			suggestions
//	@Produce		json
//	@Param			id	path		int	true	"Suggestion ID"
//	@Success		200	{object}	models.Suggestion
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions/{id}/ignore [post]
func (h *Handler) Ignore(w http.ResponseWriter, r *http.Request) {
	id, ok := suggestionID(w, r)
	if !ok {
		return
	}
	s, err := h.svc.Ignore(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "ignore", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
