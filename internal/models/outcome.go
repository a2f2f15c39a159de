package models

import "time"

// ZoneLabel names one of the concentric buffer rings
type ZoneLabel string

const (
	ZoneInner  ZoneLabel = "inner"
	ZoneMiddle ZoneLabel = "middle"
	ZoneOuter  ZoneLabel = "outer"
)

// BufferZone is one ring of a zone partition. RadiusKm is the ring's outer bound.
type BufferZone struct {
	Label    ZoneLabel          `json:"label"`
	RadiusKm float64            `json:"radius_km"`
	Members  []RestaurantRecord `json:"members"`
}

// LocationStatus tells the caller whether the search center came from the device
// or was substituted with the default anchor
type LocationStatus string

const (
	LocationOK                  LocationStatus = "ok"
	LocationPermissionDenied    LocationStatus = "permission_denied"
	LocationPositionUnavailable LocationStatus = "position_unavailable"
	LocationTimedOut            LocationStatus = "location_timeout"
)

// DataSourceFallback marks outcomes served by the static fallback adapter
const DataSourceFallback = "fallback"

// SearchOutcome is the terminal value of an adaptive search
type SearchOutcome struct {
	SessionID      string             `json:"session_id,omitempty"`
	Center         GeoPoint           `json:"center"`
	FinalRadiusKm  float64            `json:"final_radius_km"`
	Attempts       int                `json:"attempts"`
	Records        []RestaurantRecord `json:"records"`
	Zones          []BufferZone       `json:"zones,omitempty"`
	DataSource     string             `json:"data_source"`
	Providers      []ProviderResult   `json:"providers,omitempty"`
	LocationStatus LocationStatus     `json:"location_status,omitempty"`
	CompletedAt    time.Time          `json:"completed_at"`
}

// IsFallback reports whether the outcome was served from sample data
func (o *SearchOutcome) IsFallback() bool {
	return o.DataSource == DataSourceFallback
}
