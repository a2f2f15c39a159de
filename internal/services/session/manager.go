// Package session owns per-client search state: identity, last location,
// preferences and bounded search history.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// Defaults applied when Config leaves a field zero
const (
	DefaultToleranceMeters = 10.0
	DefaultHistorySize     = 50
)

// DirectStream is the search stream of one-shot searches. Each tracking loop
// uses its own stream so the two never supersede each other.
const DirectStream = "direct"

// Config holds the defaults for new sessions
type Config struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DistanceUnit    models.DistanceUnit
	ToleranceMeters float64
	HistorySize     int
}

func (c Config) withDefaults() Config {
	if c.DefaultRadiusKm <= 0 {
		c.DefaultRadiusKm = 2
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 15
	}
	if !c.DistanceUnit.Valid() {
		c.DistanceUnit = models.UnitKilometers
	}
	if c.ToleranceMeters <= 0 {
		c.ToleranceMeters = DefaultToleranceMeters
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Manager is the only writer of a SearchSession. Every read returns a copy.
type Manager struct {
	mu          sync.Mutex
	session     models.SearchSession
	generations map[string]uint64
	pins        int

	// persistMu orders store writes; each write snapshots under it
	persistMu sync.Mutex

	store    interfaces.SessionStore
	events   interfaces.EventService
	validate *validator.Validate
	config   Config
	logger   arbor.ILogger
}

func newManager(session models.SearchSession, store interfaces.SessionStore, events interfaces.EventService, validate *validator.Validate, config Config, logger arbor.ILogger) *Manager {
	return &Manager{
		session:     session,
		generations: make(map[string]uint64),
		store:       store,
		events:      events,
		validate:    validate,
		config:      config,
		logger:      logger,
	}
}

// ID returns the session id
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.SessionID
}

// RecordLocation stores point as the last known location. It is a no-op returning
// false when point is within max(accuracy of either point, tolerance) of the
// current location.
func (m *Manager) RecordLocation(ctx context.Context, point models.GeoPoint) bool {
	if !geo.ValidPoint(point) {
		m.logger.Warn().
			Str("session_id", m.ID()).
			Float64("latitude", point.Latitude).
			Float64("longitude", point.Longitude).
			Msg("Ignoring invalid location")
		return false
	}

	m.mu.Lock()
	if last := m.session.LastLocation; last != nil {
		tolerance := math.Max(m.config.ToleranceMeters, math.Max(last.Accuracy(), point.Accuracy()))
		if geo.DistanceMeters(*last, point) <= tolerance {
			m.mu.Unlock()
			return false
		}
	}
	p := point
	m.session.LastLocation = &p
	m.session.UpdatedAt = time.Now()
	id := m.session.SessionID
	m.mu.Unlock()

	m.persist(ctx)
	m.publishLocation(ctx, id, point)
	return true
}

// UpdatePreferences merges partial into the session and validates the result.
// On failure the session is unchanged and the error wraps models.ErrInvalidPreference.
func (m *Manager) UpdatePreferences(ctx context.Context, partial models.Preferences) (models.SearchSession, error) {
	m.mu.Lock()
	candidate := m.session.Clone()
	if partial.DefaultRadiusKm != nil {
		candidate.DefaultRadiusKm = *partial.DefaultRadiusKm
	}
	if partial.MaxRadiusKm != nil {
		candidate.MaxRadiusKm = *partial.MaxRadiusKm
	}
	if partial.DistanceUnit != nil {
		candidate.DistanceUnit = *partial.DistanceUnit
	}

	if err := m.check(candidate); err != nil {
		current := m.session.Clone()
		m.mu.Unlock()
		m.logger.Warn().
			Str("session_id", candidate.SessionID).
			Err(err).
			Msg("Rejected preference update")
		return current, fmt.Errorf("%w: %v", models.ErrInvalidPreference, err)
	}

	candidate.UpdatedAt = time.Now()
	m.session = candidate
	snapshot := m.session.Clone()
	m.mu.Unlock()

	m.persist(ctx)

	m.logger.Info().
		Str("session_id", snapshot.SessionID).
		Float64("default_radius_km", snapshot.DefaultRadiusKm).
		Float64("max_radius_km", snapshot.MaxRadiusKm).
		Str("distance_unit", string(snapshot.DistanceUnit)).
		Msg("Preferences updated")

	return snapshot, nil
}

func (m *Manager) check(candidate models.SearchSession) error {
	if math.IsInf(candidate.DefaultRadiusKm, 0) || math.IsInf(candidate.MaxRadiusKm, 0) {
		return fmt.Errorf("radius must be finite")
	}
	if err := m.validate.Struct(&candidate); err != nil {
		return err
	}
	if candidate.DefaultRadiusKm > candidate.MaxRadiusKm {
		return fmt.Errorf("default radius %v exceeds max radius %v", candidate.DefaultRadiusKm, candidate.MaxRadiusKm)
	}
	return nil
}

// RecordSearchMetrics appends one telemetry entry, keeping the last HistorySize
func (m *Manager) RecordSearchMetrics(ctx context.Context, outcome *models.SearchOutcome) {
	if outcome == nil {
		return
	}
	m.mu.Lock()
	m.appendMetricLocked(outcome)
	m.mu.Unlock()

	m.persist(ctx)
}

func (m *Manager) appendMetricLocked(outcome *models.SearchOutcome) {
	ts := outcome.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m.session.History = append(m.session.History, models.SearchMetric{
		Timestamp:   ts,
		RadiusKm:    outcome.FinalRadiusKm,
		Attempts:    outcome.Attempts,
		DataSource:  outcome.DataSource,
		RecordCount: len(outcome.Records),
	})
	if over := len(m.session.History) - m.config.HistorySize; over > 0 {
		m.session.History = append([]models.SearchMetric(nil), m.session.History[over:]...)
	}
	m.session.UpdatedAt = time.Now()
}

// BeginSearch issues a new generation on stream. Results of any earlier
// generation on the same stream become stale; other streams are unaffected.
func (m *Manager) BeginSearch(stream string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[stream]++
	return m.generations[stream]
}

// ApplyOutcome records outcome only when generation is still the latest on
// stream. It reports whether the outcome was applied.
func (m *Manager) ApplyOutcome(ctx context.Context, stream string, generation uint64, outcome *models.SearchOutcome) bool {
	m.mu.Lock()
	if latest := m.generations[stream]; generation != latest {
		id := m.session.SessionID
		m.mu.Unlock()
		m.logger.Debug().
			Str("session_id", id).
			Str("stream", stream).
			Int64("generation", int64(generation)).
			Int64("latest", int64(latest)).
			Msg("Discarding stale search outcome")
		return false
	}
	if outcome != nil {
		m.appendMetricLocked(outcome)
	}
	m.mu.Unlock()

	m.persist(ctx)
	return true
}

// EndStream forgets a stream's generation once its searches are done
func (m *Manager) EndStream(stream string) {
	m.mu.Lock()
	delete(m.generations, stream)
	m.mu.Unlock()
}

// Pin keeps the session loaded while a long-lived consumer such as a
// tracking loop holds it. Every Pin needs a matching Unpin.
func (m *Manager) Pin() {
	m.mu.Lock()
	m.pins++
	m.mu.Unlock()
}

// Unpin releases a Pin and marks the session active
func (m *Manager) Unpin() {
	m.mu.Lock()
	if m.pins > 0 {
		m.pins--
	}
	m.session.UpdatedAt = time.Now()
	m.mu.Unlock()
}

// Snapshot returns a copy of the session
func (m *Manager) Snapshot() models.SearchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// History returns a copy of the metric history, oldest first
func (m *Manager) History() []models.SearchMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.SearchMetric, len(m.session.History))
	copy(out, m.session.History)
	return out
}

// Preferences returns the settings view of the session
func (m *Manager) Preferences() models.PreferenceView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.PreferenceView{
		DefaultRadiusKm: m.session.DefaultRadiusKm,
		MaxRadiusKm:     m.session.MaxRadiusKm,
		DistanceUnit:    m.session.DistanceUnit,
	}
}

// LastLocation returns the last recorded location, if any
func (m *Manager) LastLocation() (models.GeoPoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.LastLocation == nil {
		return models.GeoPoint{}, false
	}
	return *m.session.LastLocation, true
}

// idleSince reports whether the session is unpinned and untouched since cutoff
func (m *Manager) idleSince(cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins == 0 && m.session.UpdatedAt.Before(cutoff)
}

// persist writes the current state. It is best-effort; state in memory stays
// authoritative. Writes are serialized and each snapshots after the previous
// one completed, so the store never ends on an older state.
func (m *Manager) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	snapshot := m.Snapshot()
	if err := m.store.Put(ctx, &snapshot); err != nil {
		m.logger.Warn().
			Err(err).
			Str("session_id", snapshot.SessionID).
			Msg("Failed to persist session")
	}
}

func (m *Manager) publishLocation(ctx context.Context, sessionID string, point models.GeoPoint) {
	if m.events == nil {
		return
	}
	payload := map[string]interface{}{
		"session_id":  sessionID,
		"latitude":    point.Latitude,
		"longitude":   point.Longitude,
		"captured_at": point.CapturedAt,
	}
	if point.AccuracyMeters != nil {
		payload["accuracy_meters"] = *point.AccuracyMeters
	}
	err := m.events.Publish(ctx, interfaces.Event{Type: interfaces.EventLocationUpdated, Payload: payload})
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to publish location update")
	}
}
