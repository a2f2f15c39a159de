package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/discovery"
)

// searchRequest omits latitude and longitude to search around the device's
// current fix. An empty session id opens a new session.
type searchRequest struct {
	SessionID      string   `json:"session_id,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	WithZones      bool     `json:"with_zones,omitempty"`
}

// SearchHandler handles restaurant discovery requests
type SearchHandler struct {
	discovery *discovery.Service
	logger    arbor.ILogger
}

// NewSearchHandler creates a new search handler with dependencies
func NewSearchHandler(discovery *discovery.Service, logger arbor.ILogger) *SearchHandler {
	return &SearchHandler{
		discovery: discovery,
		logger:    logger,
	}
}

// SearchHandler handles GET /api/search?session_id=&lat=&lng=&zones= and
// POST /api/search with a JSON body
func (h *SearchHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	switch r.Method {
	case http.MethodGet:
		parsed, err := parseSearchQuery(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = parsed
	case http.MethodPost:
		if err := DecodeJSON(w, r, &req, true); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var point *models.GeoPoint
	switch {
	case req.Latitude != nil && req.Longitude != nil:
		p := models.NewGeoPoint(*req.Latitude, *req.Longitude)
		if req.AccuracyMeters != nil {
			p = p.WithAccuracy(*req.AccuracyMeters)
		}
		point = &p
	case req.Latitude != nil || req.Longitude != nil:
		WriteError(w, http.StatusBadRequest, "latitude and longitude must be given together")
		return
	}

	outcome, err := h.discovery.SearchNear(r.Context(), req.SessionID, point, discovery.SearchOptions{WithZones: req.WithZones})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCoordinate):
			WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrSessionNotFound):
			WriteError(w, http.StatusNotFound, "Session not found")
		case r.Context().Err() != nil:
			h.logger.Debug().Str("session_id", req.SessionID).Msg("Search abandoned by client")
		default:
			h.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("Search failed")
			WriteError(w, http.StatusInternalServerError, "Search failed")
		}
		return
	}

	unit := models.UnitKilometers
	if m, err := h.discovery.Sessions().Get(r.Context(), outcome.SessionID); err == nil {
		unit = m.Preferences().DistanceUnit
	}

	h.logger.Debug().
		Str("session_id", outcome.SessionID).
		Str("data_source", outcome.DataSource).
		Int("results", len(outcome.Records)).
		Msg("Search served")

	WriteJSON(w, http.StatusOK, presentOutcome(outcome, unit, h.discovery.Polygons(outcome)))
}

func parseSearchQuery(r *http.Request) (searchRequest, error) {
	q := r.URL.Query()
	req := searchRequest{SessionID: q.Get("session_id")}

	parse := func(name string) (*float64, error) {
		raw := q.Get(name)
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.New("invalid " + name + " parameter")
		}
		return &v, nil
	}

	var err error
	if req.Latitude, err = parse("lat"); err != nil {
		return req, err
	}
	if req.Longitude, err = parse("lng"); err != nil {
		return req, err
	}
	if req.AccuracyMeters, err = parse("accuracy"); err != nil {
		return req, err
	}
	if zones := q.Get("zones"); zones != "" {
		if req.WithZones, err = strconv.ParseBool(zones); err != nil {
			return req, errors.New("invalid zones parameter")
		}
	}
	return req, nil
}
