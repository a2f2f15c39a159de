package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/discovery"
	"github.com/ternarybob/dinewise/internal/services/tracker"
)

// SessionHandler exposes session state, preferences and the device location feed
type SessionHandler struct {
	discovery *discovery.Service
	sources   *tracker.PushRegistry
	logger    arbor.ILogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(discovery *discovery.Service, sources *tracker.PushRegistry, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		discovery: discovery,
		sources:   sources,
		logger:    logger,
	}
}

type sessionView struct {
	models.SearchSession
	LocationState tracker.State `json:"location_state"`
}

// CreateSessionHandler handles POST /api/sessions
func (h *SessionHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	m, err := h.discovery.Sessions().Open(r.Context(), "")
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create session")
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	WriteJSON(w, http.StatusCreated, h.view(m.ID(), m.Snapshot()))
}

// GetSessionHandler handles GET /api/sessions/{id}
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := PathVar(r, "id")
	m, err := h.discovery.Sessions().Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}

	WriteJSON(w, http.StatusOK, h.view(id, m.Snapshot()))
}

// DeleteSessionHandler handles DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := PathVar(r, "id")
	if err := h.discovery.Sessions().Delete(r.Context(), id); err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	h.discovery.Forget(id)
	h.sources.Remove(id)

	h.logger.Info().Str("session_id", id).Msg("Session deleted")
	WriteSuccess(w, "Session deleted")
}

// PreferencesHandler handles GET and PUT /api/sessions/{id}/preferences
func (h *SessionHandler) PreferencesHandler(w http.ResponseWriter, r *http.Request) {
	id := PathVar(r, "id")

	switch r.Method {
	case http.MethodGet:
		m, err := h.discovery.Sessions().Get(r.Context(), id)
		if err != nil {
			h.writeSessionError(w, id, err)
			return
		}
		WriteJSON(w, http.StatusOK, m.Preferences())

	case http.MethodPut:
		var partial models.Preferences
		if err := DecodeJSON(w, r, &partial, false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		m, err := h.discovery.Sessions().Get(r.Context(), id)
		if err != nil {
			h.writeSessionError(w, id, err)
			return
		}
		if _, err := m.UpdatePreferences(r.Context(), partial); err != nil {
			if errors.Is(err, models.ErrInvalidPreference) {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.logger.Error().Err(err).Str("session_id", id).Msg("Failed to update preferences")
			WriteError(w, http.StatusInternalServerError, "Failed to update preferences")
			return
		}
		WriteJSON(w, http.StatusOK, m.Preferences())

	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type locationRequest struct {
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
}

func (req locationRequest) point() (models.GeoPoint, bool) {
	if req.Latitude == nil || req.Longitude == nil {
		return models.GeoPoint{}, false
	}
	p := models.NewGeoPoint(*req.Latitude, *req.Longitude)
	if req.AccuracyMeters != nil {
		p = p.WithAccuracy(*req.AccuracyMeters)
	}
	return p, geo.ValidPoint(p)
}

// LocationHandler handles POST /api/sessions/{id}/location - a device fix.
// The fix feeds the session's position source so tracking and pending
// single-shot requests see it.
func (h *SessionHandler) LocationHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := PathVar(r, "id")
	var req locationRequest
	if err := DecodeJSON(w, r, &req, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	fix, ok := req.point()
	if !ok {
		WriteError(w, http.StatusBadRequest, "latitude and longitude are required and must be in range")
		return
	}

	m, err := h.discovery.Sessions().Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}
	if err := h.sources.Source(id).Report(fix); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	recorded := m.RecordLocation(r.Context(), fix)

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": id,
		"recorded":   recorded,
	})
}

type permissionRequest struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error,omitempty"` // "timeout" or "unavailable"
	Message string `json:"message,omitempty"`
}

// PermissionHandler handles POST /api/sessions/{id}/permission - the device's
// permission decision or a platform acquisition failure
func (h *SessionHandler) PermissionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := PathVar(r, "id")
	var req permissionRequest
	if err := DecodeJSON(w, r, &req, false); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.discovery.Sessions().Get(r.Context(), id); err != nil {
		h.writeSessionError(w, id, err)
		return
	}

	source := h.sources.Source(id)
	switch req.Error {
	case "":
		source.ReportPermission(req.Granted)
	case "timeout":
		source.ReportError(models.ErrKindLocationTimeout, req.Message)
	case "unavailable":
		source.ReportError(models.ErrKindPositionUnavailable, req.Message)
	default:
		WriteError(w, http.StatusBadRequest, "error must be timeout or unavailable")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id":     id,
		"location_state": h.discovery.LocationState(id),
	})
}

// HistoryHandler handles GET /api/sessions/{id}/history
func (h *SessionHandler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := PathVar(r, "id")
	m, err := h.discovery.Sessions().Get(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, id, err)
		return
	}

	history := m.History()
	if history == nil {
		history = []models.SearchMetric{}
	}
	WriteJSON(w, http.StatusOK, history)
}

func (h *SessionHandler) view(id string, s models.SearchSession) sessionView {
	return sessionView{SearchSession: s, LocationState: h.discovery.LocationState(id)}
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, models.ErrSessionNotFound) {
		WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	h.logger.Error().Err(err).Str("session_id", id).Msg("Session lookup failed")
	WriteError(w, http.StatusInternalServerError, "Failed to load session")
}
