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

// DefaultOverpassURL is the public OpenStreetMap Overpass interpreter
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassAdapter queries OpenStreetMap for amenity=restaurant nodes and ways.
// It needs no credentials.
type OverpassAdapter struct {
	*transport
}

// NewOverpassAdapter creates the Overpass adapter
func NewOverpassAdapter(name string, config *common.OverpassAPIConfig, logger arbor.ILogger, opts ...Option) *OverpassAdapter {
	baseOpts := []Option{WithBaseURL(config.BaseURL), WithRateLimit(config.RateLimit.Duration())}
	return &OverpassAdapter{
		transport: newTransport(name, DefaultOverpassURL, config.RequestTimeout.Duration(), logger, append(baseOpts, opts...)),
	}
}

func (a *OverpassAdapter) Name() string {
	return a.name
}

func (a *OverpassAdapter) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := overpassQuery(center, radiusMeters(radiusKm, 0), limit)
	form := url.Values{}
	form.Set("data", query)
	body := form.Encode()

	var apiResp overpassResponse
	err := a.doJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, a.baseURL, &apiResp)
	if err != nil {
		return nil, err
	}

	if apiResp.Remark != "" && len(apiResp.Elements) == 0 && strings.Contains(strings.ToLower(apiResp.Remark), "error") {
		return nil, providerError(a.name, "overpass remark: %s", apiResp.Remark)
	}

	records := make([]models.RestaurantRecord, 0, len(apiResp.Elements))
	for _, el := range apiResp.Elements {
		if len(records) >= limit {
			break
		}
		if record, ok := a.convert(el); ok {
			records = append(records, record)
		}
	}

	a.logger.Info().
		Str("provider", a.name).
		Float64("radius_km", radiusKm).
		Int("results_count", len(records)).
		Msg("Overpass restaurant query completed")

	return records, nil
}

func overpassQuery(center models.GeoPoint, radius, limit int) string {
	around := fmt.Sprintf("(around:%d,%f,%f)", radius, center.Latitude, center.Longitude)
	return fmt.Sprintf(`[out:json][timeout:25];(node["amenity"="restaurant"]%s;way["amenity"="restaurant"]%s;);out center %d;`,
		around, around, limit)
}

func (a *OverpassAdapter) convert(el overpassElement) (models.RestaurantRecord, bool) {
	name := strings.TrimSpace(el.Tags["name"])
	if name == "" {
		return models.RestaurantRecord{}, false
	}

	record := models.RestaurantRecord{
		Name:           name,
		Cuisine:        strings.ReplaceAll(strings.SplitN(el.Tags["cuisine"], ";", 2)[0], "_", " "),
		Address:        overpassAddress(el.Tags),
		SourceProvider: a.name,
	}
	switch {
	case el.Lat != nil && el.Lon != nil:
		record.Location = models.NewGeoPoint(*el.Lat, *el.Lon)
		record.HasLocation = true
	case el.Center != nil:
		record.Location = models.NewGeoPoint(el.Center.Lat, el.Center.Lon)
		record.HasLocation = true
	}
	return finalize(record), true
}

func overpassAddress(tags map[string]string) string {
	street := strings.TrimSpace(strings.TrimSpace(tags["addr:housenumber"]) + " " + strings.TrimSpace(tags["addr:street"]))
	parts := []string{}
	for _, p := range []string{street, tags["addr:city"]} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

type overpassResponse struct {
	Remark   string            `json:"remark,omitempty"`
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string   `json:"type"`
	ID     int64    `json:"id"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center,omitempty"`
	Tags map[string]string `json:"tags"`
}
