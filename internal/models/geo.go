package models

import "time"

// GeoPoint is an immutable geographic coordinate captured at a point in time.
// AccuracyMeters is nil when the source did not report an accuracy radius.
type GeoPoint struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// NewGeoPoint creates a point captured now with no accuracy information
func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Latitude: lat, Longitude: lng, CapturedAt: time.Now()}
}

// WithAccuracy returns a copy of the point carrying the given accuracy radius
func (p GeoPoint) WithAccuracy(meters float64) GeoPoint {
	p.AccuracyMeters = &meters
	return p
}

// Accuracy returns the accuracy radius in meters, or 0 when unknown
func (p GeoPoint) Accuracy() float64 {
	if p.AccuracyMeters == nil {
		return 0
	}
	return *p.AccuracyMeters
}

// DistanceUnit is the unit used when presenting distances to a session
type DistanceUnit string

const (
	UnitKilometers DistanceUnit = "km"
	UnitMiles      DistanceUnit = "mi"
)

// Valid reports whether the unit is one of the supported units
func (u DistanceUnit) Valid() bool {
	return u == UnitKilometers || u == UnitMiles
}
