// Package discovery is the entry point for "search near here" and
// "track me and keep results fresh".
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/radius"
	"github.com/ternarybob/dinewise/internal/services/session"
	"github.com/ternarybob/dinewise/internal/services/tracker"
	"github.com/ternarybob/dinewise/internal/services/zones"
)

// DefaultMovementThresholdMeters suppresses re-searches caused by GPS jitter
const DefaultMovementThresholdMeters = 100.0

// SourceProvider resolves the device position source for a session
type SourceProvider interface {
	PositionSource(sessionID string) interfaces.PositionSource
}

// Config carries the named constants the facade needs
type Config struct {
	DefaultAnchor           models.GeoPoint
	MovementThresholdMeters float64
	Radius                  radius.Params
	Tracker                 tracker.Config
	ZonePolygonPoints       int
}

// SearchOptions tunes a single search
type SearchOptions struct {
	WithZones bool
}

// Service composes location, radius search, zones and session state
type Service struct {
	sessions *session.Registry
	searcher *radius.Searcher
	sources  SourceProvider
	events   interfaces.EventService
	config   Config
	logger   arbor.ILogger

	mu        sync.Mutex
	trackers  map[string]*tracker.Tracker
	trackings map[*Tracking]struct{}
	trackSeq  uint64
}

// NewService creates the discovery facade. events may be nil.
func NewService(sessions *session.Registry, searcher *radius.Searcher, sources SourceProvider, events interfaces.EventService, config Config, logger arbor.ILogger) (*Service, error) {
	if !geo.ValidPoint(config.DefaultAnchor) {
		return nil, fmt.Errorf("default anchor %f,%f is not a valid coordinate", config.DefaultAnchor.Latitude, config.DefaultAnchor.Longitude)
	}
	if err := config.Radius.Validate(); err != nil {
		return nil, fmt.Errorf("invalid radius parameters: %w", err)
	}
	if config.MovementThresholdMeters <= 0 {
		config.MovementThresholdMeters = DefaultMovementThresholdMeters
	}
	return &Service{
		sessions:  sessions,
		searcher:  searcher,
		sources:   sources,
		events:    events,
		config:    config,
		logger:    logger,
		trackers:  make(map[string]*tracker.Tracker),
		trackings: make(map[*Tracking]struct{}),
	}, nil
}

// Sessions exposes the session registry
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

// LocationState returns the tracker state for a session
func (s *Service) LocationState(sessionID string) tracker.State {
	return s.trackerFor(sessionID).State()
}

// Polygons returns zone outlines for an outcome
func (s *Service) Polygons(outcome *models.SearchOutcome) []zones.Polygon {
	if outcome == nil || len(outcome.Zones) == 0 {
		return nil
	}
	return zones.Polygons(outcome.Center, outcome.Zones, s.config.ZonePolygonPoints)
}

// SearchNear runs one adaptive search for the session. When point is nil the
// device is asked for a fix; if that fails the default anchor is used and the
// outcome's LocationStatus says why. An empty sessionID opens a new session.
func (s *Service) SearchNear(ctx context.Context, sessionID string, point *models.GeoPoint, opts SearchOptions) (*models.SearchOutcome, error) {
	m, err := s.manager(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	center, status, err := s.resolveCenter(ctx, m.ID(), point)
	if err != nil {
		return nil, err
	}
	if status == models.LocationOK {
		m.RecordLocation(ctx, center)
	}

	generation := m.BeginSearch(session.DirectStream)
	outcome, err := s.run(ctx, m, center, opts)
	if err != nil {
		return nil, err
	}
	outcome.SessionID = m.ID()
	outcome.LocationStatus = status

	if !m.ApplyOutcome(ctx, session.DirectStream, generation, outcome) {
		s.logger.Debug().
			Str("session_id", m.ID()).
			Msg("Search superseded by a newer one - metrics not recorded")
	}
	s.publishCompleted(ctx, m.ID(), outcome)

	return outcome, nil
}

func (s *Service) manager(ctx context.Context, sessionID string) (*session.Manager, error) {
	if sessionID == "" {
		return s.sessions.Open(ctx, "")
	}
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) resolveCenter(ctx context.Context, sessionID string, point *models.GeoPoint) (models.GeoPoint, models.LocationStatus, error) {
	if point != nil {
		if !geo.ValidPoint(*point) {
			return models.GeoPoint{}, "", fmt.Errorf("%w: %f,%f", models.ErrInvalidCoordinate, point.Latitude, point.Longitude)
		}
		return *point, models.LocationOK, nil
	}

	fix, err := s.trackerFor(sessionID).RequestOnce(ctx)
	if err == nil {
		return fix, models.LocationOK, nil
	}
	if ctx.Err() != nil {
		return models.GeoPoint{}, "", ctx.Err()
	}

	status := statusFor(models.KindOf(err))
	s.logger.Info().
		Str("session_id", sessionID).
		Str("location_status", string(status)).
		Float64("anchor_latitude", s.config.DefaultAnchor.Latitude).
		Float64("anchor_longitude", s.config.DefaultAnchor.Longitude).
		Msg("Location unavailable - searching around default anchor")
	return s.config.DefaultAnchor, status, nil
}

func statusFor(kind models.ErrorKind) models.LocationStatus {
	switch kind {
	case models.ErrKindPermissionDenied:
		return models.LocationPermissionDenied
	case models.ErrKindLocationTimeout:
		return models.LocationTimedOut
	default:
		return models.LocationPositionUnavailable
	}
}

// run performs the radius search with the session's radius preferences
func (s *Service) run(ctx context.Context, m *session.Manager, center models.GeoPoint, opts SearchOptions) (*models.SearchOutcome, error) {
	prefs := m.Preferences()
	params := s.config.Radius
	params.InitialRadiusKm = prefs.DefaultRadiusKm
	params.MaxRadiusKm = prefs.MaxRadiusKm

	outcome, err := s.searcher.Search(ctx, center, params)
	if err != nil {
		return nil, err
	}
	if opts.WithZones {
		outcome.Zones = zones.Segment(center, outcome.Records, outcome.FinalRadiusKm)
	}
	return outcome, nil
}

func (s *Service) trackerFor(sessionID string) *tracker.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trackers[sessionID]
	if !ok {
		t = tracker.NewTracker(s.sources.PositionSource(sessionID), s.events, sessionID, s.config.Tracker, s.logger)
		s.trackers[sessionID] = t
	}
	return t
}

// Forget drops per-session tracking state after a session is evicted or deleted
func (s *Service) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.trackers, sessionID)
	var active []*Tracking
	for t := range s.trackings {
		if t.sessionID == sessionID {
			active = append(active, t)
		}
	}
	s.mu.Unlock()

	for _, t := range active {
		t.Stop()
	}
}

// StopAll ends every active tracking
func (s *Service) StopAll() {
	s.mu.Lock()
	active := make([]*Tracking, 0, len(s.trackings))
	for t := range s.trackings {
		active = append(active, t)
	}
	s.mu.Unlock()

	for _, t := range active {
		t.Stop()
	}
}

func (s *Service) publishCompleted(ctx context.Context, sessionID string, outcome *models.SearchOutcome) {
	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventSearchCompleted,
		Payload: map[string]interface{}{
			"session_id":      sessionID,
			"latitude":        outcome.Center.Latitude,
			"longitude":       outcome.Center.Longitude,
			"data_source":     outcome.DataSource,
			"final_radius_km": outcome.FinalRadiusKm,
			"attempts":        outcome.Attempts,
			"results_count":   len(outcome.Records),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to publish search completion")
	}
}
