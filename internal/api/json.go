package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/slipbox/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Kind  string `json:"kind,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConfig:
		return http.StatusUnprocessableEntity
	case apperr.KindDuplicateKeyword, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBackendLocked:
		return http.StatusServiceUnavailable
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with the status its kind maps to.
// Internal failures hide the message from the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	body := errResponse{Error: err.Error(), Kind: kind.String()}
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", slog.String("kind", kind.String()), slog.String("error", err.Error()))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
