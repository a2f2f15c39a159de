package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	a := s.app

	// API routes - System
	r.HandleFunc("/api/version", a.APIHandler.VersionHandler)
	r.HandleFunc("/api/health", a.APIHandler.HealthHandler)

	// API routes - Discovery
	r.HandleFunc("/api/search", a.SearchHandler.SearchHandler).Methods(http.MethodGet, http.MethodPost)

	// API routes - Sessions
	r.HandleFunc("/api/sessions", a.SessionHandler.CreateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", a.SessionHandler.GetSessionHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", a.SessionHandler.DeleteSessionHandler).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/preferences", a.SessionHandler.PreferencesHandler).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/api/sessions/{id}/location", a.SessionHandler.LocationHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/permission", a.SessionHandler.PermissionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/history", a.SessionHandler.HistoryHandler).Methods(http.MethodGet)

	// WebSocket route - continuous tracking
	r.HandleFunc("/api/sessions/{id}/track", a.TrackHandler.HandleTrack).Methods(http.MethodGet)

	// API routes - Provider credentials
	r.HandleFunc("/api/kv", a.KVHandler.ListKVHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/kv/{key}", a.KVHandler.KeyHandler).Methods(http.MethodPut, http.MethodDelete)

	// API routes - Scheduler
	r.HandleFunc("/api/jobs", a.SchedulerHandler.ListJobsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{name}/trigger", a.SchedulerHandler.TriggerJobHandler).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(a.APIHandler.NotFoundHandler)

	return r
}
