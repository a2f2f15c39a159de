package geo

import "github.com/ternarybob/dinewise/internal/models"

// DefaultPolygonPoints is the vertex count used when callers pass zero
const DefaultPolygonPoints = 64

// CirclePolygon approximates a circle of radiusKm around center as a closed
// ring of points+1 vertices (the first vertex is repeated at the end).
func CirclePolygon(center models.GeoPoint, radiusKm float64, points int) []models.GeoPoint {
	if points <= 0 {
		points = DefaultPolygonPoints
	}
	if points < 3 {
		points = 3
	}

	ring := make([]models.GeoPoint, 0, points+1)
	step := 360.0 / float64(points)
	for i := 0; i < points; i++ {
		ring = append(ring, Destination(center, float64(i)*step, radiusKm))
	}
	ring = append(ring, ring[0])

	return ring
}
