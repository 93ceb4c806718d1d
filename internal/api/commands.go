package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hydro-core/internal/audit"
)

// handleListCommands returns the floor's command history, most recent first.
//
// Query parameters:
//   - action: filter by action (set_mode, toggle, set_period, apply_preset, clear_schedule)
//   - device: filter by device key
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commandLog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Floor:  chi.URLParam(r, "floor"),
		Action: q.Get("action"),
		Device: q.Get("device"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.commandLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "floor", filter.Floor, "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
