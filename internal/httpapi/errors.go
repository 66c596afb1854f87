package httpapi

import (
	"errors"
	"net/http"

	"github.com/adamavenir/mailroom/internal/core"
)

type errorBody struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	Field          string `json:"field,omitempty"`
	CurrentVersion *int64 `json:"current_version,omitempty"`
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: code, Message: message})
}

// respondMailboxError maps engine errors onto HTTP statuses.
func (s *Server) respondMailboxError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *core.ValidationError
	var conflict *core.ConflictError
	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Message: err.Error(), Field: validation.Field})
	case errors.As(err, &conflict):
		current := conflict.CurrentVersion
		respondJSON(w, http.StatusConflict, errorBody{Error: "version_conflict", Message: err.Error(), CurrentVersion: &current})
	case errors.Is(err, core.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, core.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, core.ErrStoreBusy):
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "store_busy", "store is busy, retry shortly")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func respondNotFound(w http.ResponseWriter, what string) {
	respondError(w, http.StatusNotFound, "not_found", what+" not found")
}
