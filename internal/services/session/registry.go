package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// Registry keeps the live session managers by id and restores them from the store
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager

	store    interfaces.SessionStore
	events   interfaces.EventService
	validate *validator.Validate
	config   Config
	logger   arbor.ILogger
}

// NewRegistry creates a registry. store and events may be nil.
func NewRegistry(store interfaces.SessionStore, events interfaces.EventService, config Config, logger arbor.ILogger) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		store:    store,
		events:   events,
		validate: validator.New(),
		config:   config.withDefaults(),
		logger:   logger,
	}
}

// Open returns the manager for sessionID, restoring it from the store when it
// is not live. An empty or unknown id creates a new session with a fresh id.
func (r *Registry) Open(ctx context.Context, sessionID string) (*Manager, error) {
	if sessionID != "" {
		m, err := r.Get(ctx, sessionID)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
	}
	return r.create(ctx), nil
}

// Get returns a live or stored session without creating one
func (r *Registry) Get(ctx context.Context, sessionID string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[sessionID]; ok {
		return m, nil
	}
	if r.store == nil {
		return nil, models.ErrSessionNotFound
	}

	stored, err := r.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	restored := r.normalize(*stored)
	m := newManager(restored, r.store, r.events, r.validate, r.config, r.logger)
	r.managers[sessionID] = m

	r.logger.Info().
		Str("session_id", sessionID).
		Int("history_size", len(restored.History)).
		Msg("Session restored")

	return m, nil
}

func (r *Registry) create(ctx context.Context) *Manager {
	now := time.Now()
	s := models.SearchSession{
		SessionID:       common.NewSessionID(),
		CreatedAt:       now,
		UpdatedAt:       now,
		DefaultRadiusKm: r.config.DefaultRadiusKm,
		MaxRadiusKm:     r.config.MaxRadiusKm,
		DistanceUnit:    r.config.DistanceUnit,
	}
	m := newManager(s, r.store, r.events, r.validate, r.config, r.logger)

	r.mu.Lock()
	r.managers[s.SessionID] = m
	r.mu.Unlock()

	m.persist(ctx)

	r.logger.Info().
		Str("session_id", s.SessionID).
		Float64("default_radius_km", s.DefaultRadiusKm).
		Msg("Session created")

	return m
}

// normalize repairs stored sessions written under different defaults
func (r *Registry) normalize(s models.SearchSession) models.SearchSession {
	if s.DefaultRadiusKm <= 0 {
		s.DefaultRadiusKm = r.config.DefaultRadiusKm
	}
	if s.MaxRadiusKm < s.DefaultRadiusKm {
		s.MaxRadiusKm = maxFloat(r.config.MaxRadiusKm, s.DefaultRadiusKm)
	}
	if !s.DistanceUnit.Valid() {
		s.DistanceUnit = r.config.DistanceUnit
	}
	if over := len(s.History) - r.config.HistorySize; over > 0 {
		s.History = s.History[over:]
	}
	return s
}

// Delete removes a session from memory and the store
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	_, live := r.managers[sessionID]
	delete(r.managers, sessionID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Delete(ctx, sessionID); err != nil && !(live && errors.Is(err, models.ErrSessionNotFound)) {
			return err
		}
	} else if !live {
		return models.ErrSessionNotFound
	}
	return nil
}

// EvictIdle unloads sessions inactive for longer than idle. Pinned sessions
// are never evicted. Evicted sessions stay in the store and are restored on
// next use.
func (r *Registry) EvictIdle(ctx context.Context, idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var evicted []*Manager
	for id, m := range r.managers {
		if m.idleSince(cutoff) {
			evicted = append(evicted, m)
			delete(r.managers, id)
		}
	}
	r.mu.Unlock()

	for _, m := range evicted {
		m.persist(ctx)
		r.publishEvicted(ctx, m.ID())
	}

	if len(evicted) > 0 {
		r.logger.Info().
			Int("evicted", len(evicted)).
			Dur("idle_ttl", idle).
			Msg("Evicted idle sessions")
	}
	return len(evicted)
}

// Flush persists every live session
func (r *Registry) Flush(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		live = append(live, m)
	}
	r.mu.Unlock()

	for _, m := range live {
		m.persist(ctx)
	}
}

// publishEvicted announces an eviction so trackers and device feeds are released
func (r *Registry) publishEvicted(ctx context.Context, sessionID string) {
	if r.events == nil {
		return
	}
	err := r.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventSessionEvicted,
		Payload: map[string]interface{}{
			"session_id": sessionID,
		},
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to publish session eviction - tracking state not released")
	}
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
