package models

import "time"

// SearchSession is the long-lived per-client state. It is owned by the session
// manager and only ever handed out as a copy.
type SearchSession struct {
	SessionID       string         `json:"session_id" badgerhold:"key"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastLocation    *GeoPoint      `json:"last_location,omitempty"`
	DefaultRadiusKm float64        `json:"default_radius_km" validate:"gt=0"`
	MaxRadiusKm     float64        `json:"max_radius_km" validate:"gt=0,gtefield=DefaultRadiusKm"`
	DistanceUnit    DistanceUnit   `json:"distance_unit" validate:"oneof=km mi"`
	History         []SearchMetric `json:"history,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutines
func (s SearchSession) Clone() SearchSession {
	if s.LastLocation != nil {
		loc := *s.LastLocation
		s.LastLocation = &loc
	}
	if s.History != nil {
		history := make([]SearchMetric, len(s.History))
		copy(history, s.History)
		s.History = history
	}
	return s
}

// Preferences is a partial preference update; nil fields are left unchanged
type Preferences struct {
	DefaultRadiusKm *float64      `json:"default_radius_km,omitempty"`
	MaxRadiusKm     *float64      `json:"max_radius_km,omitempty"`
	DistanceUnit    *DistanceUnit `json:"distance_unit,omitempty"`
}

// PreferenceView is the settings payload exposed to a settings UI
type PreferenceView struct {
	DefaultRadiusKm float64      `json:"default_radius_km"`
	MaxRadiusKm     float64      `json:"max_radius_km"`
	DistanceUnit    DistanceUnit `json:"distance_unit"`
}

// SearchMetric is one lightweight telemetry entry kept in session history
type SearchMetric struct {
	Timestamp   time.Time `json:"timestamp"`
	RadiusKm    float64   `json:"radius_km"`
	Attempts    int       `json:"attempts"`
	DataSource  string    `json:"data_source"`
	RecordCount int       `json:"record_count"`
}
