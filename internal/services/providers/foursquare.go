package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/models"
)

const (
	// DefaultFoursquareBaseURL is the Foursquare Places v3 API root
	DefaultFoursquareBaseURL = "https://api.foursquare.com/v3"

	// Foursquare taxonomy id for "Dining and Drinking > Restaurant"
	foursquareRestaurantCategory = "13065"

	foursquareMaxRadiusMeters = 100000
)

// FoursquareAdapter queries Foursquare Places search for restaurants
type FoursquareAdapter struct {
	*transport
	apiKey     string
	maxResults int
}

// NewFoursquareAdapter creates the Foursquare adapter
func NewFoursquareAdapter(name, apiKey string, config *common.FoursquareAPIConfig, logger arbor.ILogger, opts ...Option) *FoursquareAdapter {
	baseOpts := []Option{WithBaseURL(config.BaseURL), WithRateLimit(config.RateLimit.Duration())}
	maxResults := config.MaxResultsPerSearch
	if maxResults <= 0 {
		maxResults = 50
	}
	return &FoursquareAdapter{
		transport:  newTransport(name, DefaultFoursquareBaseURL, config.RequestTimeout.Duration(), logger, append(baseOpts, opts...)),
		apiKey:     apiKey,
		maxResults: maxResults,
	}
}

func (a *FoursquareAdapter) Name() string {
	return a.name
}

func (a *FoursquareAdapter) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error) {
	limit = clampLimit(limit, a.maxResults)

	endpoint := strings.TrimRight(a.baseURL, "/") + "/places/search"
	params := url.Values{}
	params.Set("ll", fmt.Sprintf("%f,%f", center.Latitude, center.Longitude))
	params.Set("radius", fmt.Sprintf("%d", radiusMeters(radiusKm, foursquareMaxRadiusMeters)))
	params.Set("categories", foursquareRestaurantCategory)
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("fields", "fsq_id,name,geocodes,location,categories,rating,price")
	fullURL := endpoint + "?" + params.Encode()

	var apiResp foursquareSearchResponse
	err := a.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", a.apiKey)
		return req, nil
	}, fullURL, &apiResp)
	if err != nil {
		return nil, err
	}

	records := make([]models.RestaurantRecord, 0, len(apiResp.Results))
	for _, place := range apiResp.Results {
		if len(records) >= limit {
			break
		}
		if strings.TrimSpace(place.Name) == "" {
			continue
		}
		records = append(records, a.convert(place))
	}

	a.logger.Info().
		Str("provider", a.name).
		Float64("radius_km", radiusKm).
		Int("results_count", len(records)).
		Msg("Foursquare place search completed")

	return records, nil
}

func (a *FoursquareAdapter) convert(place foursquarePlace) models.RestaurantRecord {
	record := models.RestaurantRecord{
		Name:           place.Name,
		PriceTier:      place.Price,
		Address:        place.Location.FormattedAddress,
		SourceProvider: a.name,
	}
	if place.Rating != nil {
		// Foursquare rates on a 0-10 scale
		rating := *place.Rating / 2
		record.Rating = &rating
	}
	if len(place.Categories) > 0 {
		record.Cuisine = strings.ToLower(strings.TrimSuffix(place.Categories[0].Name, " Restaurant"))
		if record.Cuisine == "restaurant" {
			record.Cuisine = ""
		}
	}
	if main := place.Geocodes.Main; main != nil {
		record.Location = models.NewGeoPoint(main.Latitude, main.Longitude)
		record.HasLocation = true
	}
	return finalize(record)
}

type foursquareSearchResponse struct {
	Results []foursquarePlace `json:"results"`
}

type foursquarePlace struct {
	FsqID    string `json:"fsq_id"`
	Name     string `json:"name"`
	Geocodes struct {
		Main *struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"main,omitempty"`
	} `json:"geocodes"`
	Location struct {
		FormattedAddress string `json:"formatted_address,omitempty"`
	} `json:"location"`
	Categories []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"categories,omitempty"`
	Rating *float64 `json:"rating,omitempty"`
	Price  *int     `json:"price,omitempty"`
}
