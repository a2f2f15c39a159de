package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
)

// ProviderLister reports the configured provider chain
type ProviderLister interface {
	Providers() []string
}

// SessionCounter reports how many sessions are loaded in memory
type SessionCounter interface {
	Count() int
}

type APIHandler struct {
	logger    arbor.ILogger
	providers ProviderLister
	sessions  SessionCounter
	startedAt time.Time
}

func NewAPIHandler(providers ProviderLister, sessions SessionCounter, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		logger:    logger,
		providers: providers,
		sessions:  sessions,
		startedAt: time.Now(),
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	providers := []string{}
	if h.providers != nil {
		providers = h.providers.Providers()
	}
	active := 0
	if h.sessions != nil {
		active = h.sessions.Count()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"providers":       providers,
		"active_sessions": active,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
