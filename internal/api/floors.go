package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hydro-core/internal/relay"
)

// catalogResponse is the body of GET /catalog.
type catalogResponse struct {
	Devices    []relay.Device    `json:"devices"`
	QuickTimes []relay.QuickTime `json:"quick_times"`
}

// setModeRequest is the body of PUT /floors/{floor}/mode.
type setModeRequest struct {
	Mode string `json:"mode"`
}

// toggleResponse is the body returned by a successful toggle.
type toggleResponse struct {
	Device relay.DeviceKey  `json:"device"`
	On     bool             `json:"on"`
	State  relay.FloorState `json:"state"`
}

// periodFieldRequest is the body of PATCH /floors/{floor}/schedule/{device}/{slot}.
// Exactly one of Value and DeltaMinutes must be set; an empty Value unsets
// the field.
type periodFieldRequest struct {
	Field        string  `json:"field"`
	Value        *string `json:"value,omitempty"`
	DeltaMinutes *int    `json:"delta_minutes,omitempty"`
}

// periodFieldResponse reports the value written to one period field.
type periodFieldResponse struct {
	Device relay.DeviceKey  `json:"device"`
	Slot   string           `json:"slot"`
	Field  string           `json:"field"`
	Value  string           `json:"value"`
	State  relay.FloorState `json:"state"`
}

// setScheduleRequest is the body of PUT /floors/{floor}/schedule/{device}.
// Preset names a catalog preset; Periods gives one period per slot.
type setScheduleRequest struct {
	Preset  string         `json:"preset,omitempty"`
	Periods []relay.Period `json:"periods,omitempty"`
}

// handleCatalog returns the device catalog and the quick-time shortcuts.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{
		Devices:    s.floors.Catalog().Devices(),
		QuickTimes: relay.QuickTimes(),
	})
}

// handleListFloors returns the state of every floor the token grants.
func (s *Server) handleListFloors(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	floors := make([]relay.FloorState, 0)
	for _, state := range s.floors.States() {
		if claims.CanAccessFloor(state.Floor) {
			floors = append(floors, state)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"floors": floors,
		"count":  len(floors),
	})
}

// handleGetFloor returns one floor's state. A floor whose mirror has not
// loaded yet is reported with loading=true.
func (s *Server) handleGetFloor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFromContext(r.Context()).State())
}

// handleSetMode switches a floor between manual and automatic.
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode, err := relay.ParseMode(req.Mode)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}

	session := sessionFromContext(r.Context())
	if err := session.SetMode(r.Context(), mode); err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

// handleToggle flips one relay. It is refused with 409 while the floor is
// in automatic mode.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	key := relay.DeviceKey(chi.URLParam(r, "device"))
	session := sessionFromContext(r.Context())

	on, err := session.Toggle(r.Context(), key)
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Device: key, On: on, State: session.State()})
}

// handleSetPeriodField sets or nudges the start or end of one schedule slot.
func (s *Server) handleSetPeriodField(w http.ResponseWriter, r *http.Request) {
	var req periodFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if (req.Value == nil) == (req.DeltaMinutes == nil) {
		writeBadRequest(w, "exactly one of value or delta_minutes is required")
		return
	}

	key := relay.DeviceKey(chi.URLParam(r, "device"))
	slot := chi.URLParam(r, "slot")
	session := sessionFromContext(r.Context())

	var value string
	var err error
	if req.Value != nil {
		value = *req.Value
		err = session.SetPeriodField(r.Context(), key, slot, req.Field, value)
	} else {
		value, err = session.NudgePeriodField(r.Context(), key, slot, req.Field, *req.DeltaMinutes)
	}
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, periodFieldResponse{
		Device: key,
		Slot:   slot,
		Field:  req.Field,
		Value:  value,
		State:  session.State(),
	})
}

// handleSetSchedule replaces a device's schedule with a catalog preset or
// with explicit periods.
func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req setScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if (req.Preset == "") == (req.Periods == nil) {
		writeBadRequest(w, "exactly one of preset or periods is required")
		return
	}

	key := relay.DeviceKey(chi.URLParam(r, "device"))
	session := sessionFromContext(r.Context())

	var err error
	if req.Preset != "" {
		err = session.ApplyPresetByName(r.Context(), key, req.Preset)
	} else {
		err = session.ApplyPreset(r.Context(), key, relay.Preset{Name: "custom", Periods: req.Periods})
	}
	if err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

// handleClearSchedule removes every slot of a device's schedule.
func (s *Server) handleClearSchedule(w http.ResponseWriter, r *http.Request) {
	key := relay.DeviceKey(chi.URLParam(r, "device"))
	session := sessionFromContext(r.Context())

	if err := session.ClearAll(r.Context(), key); err != nil {
		s.writeCommandError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}
