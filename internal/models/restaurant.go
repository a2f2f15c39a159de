package models

// RestaurantRecord is the provider-agnostic shape every adapter normalizes into.
// IdentityKey is derived from the name and a rounded coordinate so the same
// physical restaurant reported by two providers collapses to one record.
type RestaurantRecord struct {
	IdentityKey    string   `json:"identity_key"`
	Name           string   `json:"name"`
	Location       GeoPoint `json:"location"`
	HasLocation    bool     `json:"has_location"`
	Cuisine        string   `json:"cuisine,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`     // 0..5
	PriceTier      *int     `json:"price_tier,omitempty"` // provider tier, 1..4
	Address        string   `json:"address,omitempty"`
	SourceProvider string   `json:"source_provider"`
	DistanceKm     *float64 `json:"distance_km,omitempty"`
}

// ProviderResult records the outcome of a single adapter attempt.
// Records is left empty in the diagnostic trace attached to a SearchOutcome.
type ProviderResult struct {
	Provider  string             `json:"provider"`
	Records   []RestaurantRecord `json:"-"`
	Count     int                `json:"count"`
	Succeeded bool               `json:"succeeded"`
	ElapsedMs int64              `json:"elapsed_ms"`
	ErrorKind ErrorKind          `json:"error_kind,omitempty"`
}
