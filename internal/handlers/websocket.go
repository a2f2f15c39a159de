package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/discovery"
	"github.com/ternarybob/dinewise/internal/services/tracker"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every server-to-client frame
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// trackClientMessage is a device report sent over the tracking socket.
// Type is "fix", "permission" or "error".
type trackClientMessage struct {
	Type           string  `json:"type"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`
	Granted        bool    `json:"granted,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// TrackHandler streams fresh search outcomes while the client moves
type TrackHandler struct {
	discovery *discovery.Service
	sources   *tracker.PushRegistry
	logger    arbor.ILogger
}

func NewTrackHandler(discovery *discovery.Service, sources *tracker.PushRegistry, logger arbor.ILogger) *TrackHandler {
	return &TrackHandler{
		discovery: discovery,
		sources:   sources,
		logger:    logger,
	}
}

// wsConn serializes writes to one connection
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(WSMessage{Type: msgType, Payload: payload})
}

// HandleTrack handles GET /api/sessions/{id}/track. Device fixes arrive as
// client frames; each outcome that is still current is pushed back.
func (h *TrackHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	id := PathVar(r, "id")
	m, err := h.discovery.Sessions().Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", id).Msg("Session lookup failed")
		WriteError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	withZones, _ := strconv.ParseBool(r.URL.Query().Get("zones"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	client := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tracking, err := h.discovery.Track(ctx, id, discovery.SearchOptions{WithZones: withZones}, func(outcome *models.SearchOutcome) {
		view := presentOutcome(outcome, m.Preferences().DistanceUnit, h.discovery.Polygons(outcome))
		if err := client.send("outcome", view); err != nil {
			h.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to send outcome to client")
		}
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to start tracking")
		client.send("error", map[string]string{"error": err.Error()})
		conn.Close()
		return
	}

	defer func() {
		conn.Close()
		tracking.Stop()
		h.logger.Debug().Str("session_id", id).Msg("Tracking client disconnected")
	}()

	client.send("tracking", map[string]interface{}{
		"session_id":     id,
		"location_state": h.discovery.LocationState(id),
	})

	conn.SetReadLimit(wsMaxMessageSize)
	source := h.sources.Source(id)
	for {
		var msg trackClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("session_id", id).Msg("WebSocket error")
			}
			return
		}

		if err := h.apply(source, msg); err != nil {
			client.send("error", map[string]string{"error": err.Error()})
		}
	}
}

func (h *TrackHandler) apply(source *tracker.PushSource, msg trackClientMessage) error {
	switch msg.Type {
	case "fix":
		fix := models.NewGeoPoint(msg.Latitude, msg.Longitude)
		if msg.AccuracyMeters > 0 {
			fix = fix.WithAccuracy(msg.AccuracyMeters)
		}
		return source.Report(fix)
	case "permission":
		source.ReportPermission(msg.Granted)
		return nil
	case "error":
		switch msg.Error {
		case "timeout":
			source.ReportError(models.ErrKindLocationTimeout, "")
		case "unavailable":
			source.ReportError(models.ErrKindPositionUnavailable, "")
		default:
			return errors.New("error must be timeout or unavailable")
		}
		return nil
	default:
		return errors.New("unknown message type " + strconv.Quote(msg.Type))
	}
}
