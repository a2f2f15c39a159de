package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
)

const (
	// DefaultPlacesBaseURL is the Google Places web service root
	DefaultPlacesBaseURL = "https://maps.googleapis.com/maps/api/place"

	// Google Places nearby search rejects radii above 50 km
	placesMaxRadiusMeters = 50000
)

// PlacesAdapter queries Google Places Nearby Search for restaurants
type PlacesAdapter struct {
	*transport
	apiKey     string
	maxResults int
}

// NewPlacesAdapter creates the Google Places adapter
func NewPlacesAdapter(name, apiKey string, config *common.PlacesAPIConfig, logger arbor.ILogger, opts ...Option) *PlacesAdapter {
	baseOpts := []Option{WithBaseURL(config.BaseURL), WithRateLimit(config.RateLimit.Duration())}
	maxResults := config.MaxResultsPerSearch
	if maxResults <= 0 {
		maxResults = 20
	}
	return &PlacesAdapter{
		transport:  newTransport(name, DefaultPlacesBaseURL, config.RequestTimeout.Duration(), logger, append(baseOpts, opts...)),
		apiKey:     apiKey,
		maxResults: maxResults,
	}
}

func (a *PlacesAdapter) Name() string {
	return a.name
}

// Search performs a nearby search with type=restaurant around center
func (a *PlacesAdapter) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error) {
	limit = clampLimit(limit, a.maxResults)
	radius := radiusMeters(radiusKm, placesMaxRadiusMeters)

	endpoint := strings.TrimRight(a.baseURL, "/") + "/nearbysearch/json"
	params := url.Values{}
	params.Set("location", fmt.Sprintf("%f,%f", center.Latitude, center.Longitude))
	params.Set("radius", fmt.Sprintf("%d", radius))
	params.Set("type", "restaurant")
	params.Set("key", a.apiKey)

	// Redact API key in logs
	logURL := fmt.Sprintf("%s?location=%f,%f&radius=%d&type=restaurant&key=***REDACTED***",
		endpoint, center.Latitude, center.Longitude, radius)

	var apiResp placesNearbyResponse
	err := a.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	}, logURL, &apiResp)
	if err != nil {
		return nil, err
	}

	if apiResp.Status != "OK" && apiResp.Status != "ZERO_RESULTS" {
		return nil, providerError(a.name, "API error: %s - %s", apiResp.Status, apiResp.ErrorMessage)
	}

	records := make([]models.RestaurantRecord, 0, len(apiResp.Results))
	for _, place := range apiResp.Results {
		if len(records) >= limit {
			break
		}
		if record, ok := a.convert(place); ok {
			records = append(records, record)
		}
	}

	a.logger.Info().
		Str("provider", a.name).
		Str("status", apiResp.Status).
		Float64("radius_km", radiusKm).
		Int("results_count", len(records)).
		Msg("Google Places nearby search completed")

	return records, nil
}

func (a *PlacesAdapter) convert(place placeResult) (models.RestaurantRecord, bool) {
	if strings.TrimSpace(place.Name) == "" {
		return models.RestaurantRecord{}, false
	}
	if place.BusinessStatus == "CLOSED_PERMANENTLY" {
		return models.RestaurantRecord{}, false
	}

	record := models.RestaurantRecord{
		Name:           place.Name,
		Cuisine:        cuisineFromTypes(place.Types),
		Rating:         place.Rating,
		PriceTier:      place.PriceLevel,
		Address:        firstNonEmpty(place.Vicinity, place.FormattedAddress),
		SourceProvider: a.name,
	}
	if place.Geometry != nil && place.Geometry.Location != nil {
		record.Location = models.NewGeoPoint(place.Geometry.Location.Lat, place.Geometry.Location.Lng)
		record.HasLocation = true
	}
	return finalize(record), true
}

// cuisineFromTypes maps a "<cuisine>_restaurant" place type to its cuisine
func cuisineFromTypes(types []string) string {
	for _, t := range types {
		if t == "restaurant" || !strings.HasSuffix(t, "_restaurant") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSuffix(t, "_restaurant"), "_", " ")
	}
	return ""
}

// finalize fills the identity key and drops values outside their domain
func finalize(record models.RestaurantRecord) models.RestaurantRecord {
	if record.Rating != nil && (*record.Rating < 0 || *record.Rating > 5) {
		record.Rating = nil
	}
	if record.PriceTier != nil && *record.PriceTier < 0 {
		record.PriceTier = nil
	}
	if record.HasLocation && !geo.ValidPoint(record.Location) {
		record.HasLocation = false
		record.Location = models.GeoPoint{}
	}
	if record.HasLocation {
		record.IdentityKey = geo.IdentityKey(record.Name, record.Location)
	} else {
		record.IdentityKey = geo.IdentityKeyNameOnly(record.Name, record.SourceProvider)
	}
	return record
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// placesNearbyResponse represents the Google Places Nearby Search API response
type placesNearbyResponse struct {
	Results       []placeResult `json:"results"`
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type placeResult struct {
	BusinessStatus   string    `json:"business_status,omitempty"`
	FormattedAddress string    `json:"formatted_address,omitempty"`
	Geometry         *geometry `json:"geometry,omitempty"`
	Name             string    `json:"name"`
	PlaceID          string    `json:"place_id"`
	PriceLevel       *int      `json:"price_level,omitempty"`
	Rating           *float64  `json:"rating,omitempty"`
	Types            []string  `json:"types,omitempty"`
	Vicinity         string    `json:"vicinity,omitempty"`
}

type geometry struct {
	Location *latLng `json:"location,omitempty"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
