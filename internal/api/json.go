package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/otomatty/zedi-sub000/internal/apperr"
)

// maxJSONBytes bounds request bodies on JSON endpoints.
const maxJSONBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP. Not-found keeps the specific
// message so "content not found" stays distinguishable from "page not found".
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, apperr.ErrUnprovisioned):
		return http.StatusForbidden, apperr.ErrUnprovisioned.Error()
	case errors.Is(err, apperr.ErrContentNotFound):
		return http.StatusNotFound, apperr.ErrContentNotFound.Error()
	case errors.Is(err, apperr.ErrPageNotFound):
		return http.StatusNotFound, apperr.ErrPageNotFound.Error()
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, apperr.ErrNotFound.Error()
	case errors.Is(err, apperr.ErrVersionConflict):
		return http.StatusConflict, apperr.ErrVersionConflict.Error()
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict, apperr.ErrAlreadyExists.Error()
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrTransient):
		return http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError renders err and logs anything that is not a client error.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody(msg))
}

// authError adapts writeError to auth.ErrorWriter.
func authError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, "auth", err)
}
