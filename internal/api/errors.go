package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hydro-core/internal/floor"
	"github.com/nerrad567/hydro-core/internal/relay"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnprocessable  = "unprocessable"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeTimeout        = "timeout"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// statusForError maps floor and relay errors to an HTTP status and code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, floor.ErrUnknownFloor),
		errors.Is(err, relay.ErrUnknownDevice):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, relay.ErrInvalidSlot),
		errors.Is(err, relay.ErrInvalidField),
		errors.Is(err, relay.ErrInvalidTime),
		errors.Is(err, relay.ErrInvalidPreset),
		errors.Is(err, relay.ErrPresetNotFound),
		errors.Is(err, relay.ErrInvalidMode):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, relay.ErrAutomaticMode):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, relay.ErrNotSchedulable):
		return http.StatusUnprocessableEntity, ErrCodeUnprocessable
	case errors.Is(err, relay.ErrWriteFailed):
		return http.StatusBadGateway, ErrCodeUpstream
	case errors.Is(err, relay.ErrNotObserving),
		errors.Is(err, relay.ErrSessionStopped),
		errors.Is(err, relay.ErrLoading):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeCommandError writes the response for a failed floor command.
// Server-side failures are logged; client errors are not.
func (s *Server) writeCommandError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("floor command failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
	if status == http.StatusInternalServerError {
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
