package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/starford/slipbox/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Indexing.
	r.Post("/scan", h.Scan)
	r.Post("/scan/note", h.ScanNote)
	r.Get("/dictionary", h.Lookup)

	// Rules.
	r.Get("/rules", h.ListRules)
	r.Post("/rules", h.AddRule)

	// Maintenance.
	r.Get("/integrity", h.Integrity)
	r.Post("/repair", h.Repair)

	// Suggestions.
	r.Get("/suggestions", h.Review)
	r.Post("/suggestions", h.Suggest)
	r.Post("/suggestions/{id}/apply", h.Apply)
	r.Post("/suggestions/{id}/ignore", h.Ignore)

	return r
}
