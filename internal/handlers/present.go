package handlers

import (
	"time"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/zones"
)

// recordView is a restaurant with its distance expressed in the session's unit
type recordView struct {
	models.RestaurantRecord
	Distance *float64 `json:"distance,omitempty"`
}

type zoneView struct {
	Label   models.ZoneLabel  `json:"label"`
	Radius  float64           `json:"radius"`
	Members []recordView      `json:"members"`
	Outline []models.GeoPoint `json:"outline,omitempty"`
}

type outcomeView struct {
	SessionID      string                  `json:"session_id"`
	Center         models.GeoPoint         `json:"center"`
	FinalRadius    float64                 `json:"final_radius"`
	DistanceUnit   models.DistanceUnit     `json:"distance_unit"`
	Attempts       int                     `json:"attempts"`
	DataSource     string                  `json:"data_source"`
	Fallback       bool                    `json:"fallback"`
	LocationStatus models.LocationStatus   `json:"location_status"`
	Records        []recordView            `json:"records"`
	Zones          []zoneView              `json:"zones,omitempty"`
	Providers      []models.ProviderResult `json:"providers,omitempty"`
	CompletedAt    time.Time               `json:"completed_at"`
}

func presentOutcome(outcome *models.SearchOutcome, unit models.DistanceUnit, polygons []zones.Polygon) outcomeView {
	if unit == "" {
		unit = models.UnitKilometers
	}

	view := outcomeView{
		SessionID:      outcome.SessionID,
		Center:         outcome.Center,
		FinalRadius:    geo.ConvertKm(outcome.FinalRadiusKm, unit),
		DistanceUnit:   unit,
		Attempts:       outcome.Attempts,
		DataSource:     outcome.DataSource,
		Fallback:       outcome.IsFallback(),
		LocationStatus: outcome.LocationStatus,
		Records:        presentRecords(outcome.Records, unit),
		Providers:      outcome.Providers,
		CompletedAt:    outcome.CompletedAt,
	}

	outlines := make(map[models.ZoneLabel][]models.GeoPoint, len(polygons))
	for _, p := range polygons {
		outlines[p.Label] = p.Ring
	}
	for _, z := range outcome.Zones {
		view.Zones = append(view.Zones, zoneView{
			Label:   z.Label,
			Radius:  geo.ConvertKm(z.RadiusKm, unit),
			Members: presentRecords(z.Members, unit),
			Outline: outlines[z.Label],
		})
	}
	return view
}

func presentRecords(records []models.RestaurantRecord, unit models.DistanceUnit) []recordView {
	out := make([]recordView, len(records))
	for i, r := range records {
		out[i] = recordView{RestaurantRecord: r}
		if r.DistanceKm != nil {
			d := geo.ConvertKm(*r.DistanceKm, unit)
			out[i].Distance = &d
		}
	}
	return out
}
