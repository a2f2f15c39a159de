// Package zones partitions a result set into concentric buffer rings.
package zones

import (
	"math"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
)

var ringFractions = []struct {
	label    models.ZoneLabel
	fraction float64
}{
	{models.ZoneInner, 1.0 / 3.0},
	{models.ZoneMiddle, 2.0 / 3.0},
	{models.ZoneOuter, 1.0},
}

// Segment splits records into inner (<= r/3), middle (<= 2r/3) and outer (<= r)
// rings around center. Records past r land in outer. Records without
// coordinates are left out of every ring. A non-positive radius yields no zones.
func Segment(center models.GeoPoint, records []models.RestaurantRecord, finalRadiusKm float64) []models.BufferZone {
	if !(finalRadiusKm > 0) || math.IsInf(finalRadiusKm, 0) {
		return nil
	}

	zones := make([]models.BufferZone, len(ringFractions))
	for i, ring := range ringFractions {
		zones[i] = models.BufferZone{
			Label:    ring.label,
			RadiusKm: finalRadiusKm * ring.fraction,
			Members:  []models.RestaurantRecord{},
		}
	}

	for _, record := range records {
		d, ok := distanceOf(center, record)
		if !ok {
			continue
		}
		record.DistanceKm = &d

		idx := len(zones) - 1
		for i := range zones {
			if d <= zones[i].RadiusKm {
				idx = i
				break
			}
		}
		zones[idx].Members = append(zones[idx].Members, record)
	}

	return zones
}

func distanceOf(center models.GeoPoint, record models.RestaurantRecord) (float64, bool) {
	if record.DistanceKm != nil {
		d := *record.DistanceKm
		return d, !math.IsNaN(d) && !math.IsInf(d, 0)
	}
	if !record.HasLocation {
		return 0, false
	}
	d := geo.DistanceKm(center, record.Location)
	return d, !math.IsNaN(d)
}

// Polygon is the outline of one zone for map overlays
type Polygon struct {
	Label    models.ZoneLabel  `json:"label"`
	RadiusKm float64           `json:"radius_km"`
	Ring     []models.GeoPoint `json:"ring"`
}

// Polygons returns a circle outline per zone
func Polygons(center models.GeoPoint, zones []models.BufferZone, points int) []Polygon {
	out := make([]Polygon, 0, len(zones))
	for _, z := range zones {
		out = append(out, Polygon{
			Label:    z.Label,
			RadiusKm: z.RadiusKm,
			Ring:     geo.CirclePolygon(center, z.RadiusKm, points),
		})
	}
	return out
}
