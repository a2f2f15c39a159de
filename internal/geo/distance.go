// Package geo holds the pure coordinate math used by discovery: great-circle
// distance, forward projection, circle rings and identity keys.
package geo

import (
	"math"

	"github.com/ternarybob/dinewise/internal/models"
)

const (
	// EarthRadiusKm is the IUGG mean Earth radius
	EarthRadiusKm = 6371.0088

	kmPerMile = 1.609344
)

// DistanceKm returns the haversine great-circle distance between two points
func DistanceKm(a, b models.GeoPoint) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	deltaLat := toRadians(b.Latitude - a.Latitude)
	deltaLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	// Rounding can push h fractionally outside [0,1] for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// DistanceMeters is DistanceKm scaled to meters
func DistanceMeters(a, b models.GeoPoint) float64 {
	return DistanceKm(a, b) * 1000
}

// Destination projects a point distanceKm away from origin along bearingDeg
// (clockwise from true north). The result carries the origin's capture time.
func Destination(origin models.GeoPoint, bearingDeg, distanceKm float64) models.GeoPoint {
	angular := distanceKm / EarthRadiusKm
	bearing := toRadians(bearingDeg)
	lat1 := toRadians(origin.Latitude)
	lng1 := toRadians(origin.Longitude)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(
		math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2),
	)

	return models.GeoPoint{
		Latitude:   toDegrees(lat2),
		Longitude:  normalizeLongitude(toDegrees(lng2)),
		CapturedAt: origin.CapturedAt,
	}
}

// ValidPoint reports whether the coordinate is finite and within WGS84 bounds
func ValidPoint(p models.GeoPoint) bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// KmToMiles converts kilometers to statute miles
func KmToMiles(km float64) float64 {
	return km / kmPerMile
}

// MilesToKm converts statute miles to kilometers
func MilesToKm(mi float64) float64 {
	return mi * kmPerMile
}

// ConvertKm expresses a kilometer distance in the given unit
func ConvertKm(km float64, unit models.DistanceUnit) float64 {
	if unit == models.UnitMiles {
		return KmToMiles(km)
	}
	return km
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func normalizeLongitude(lng float64) float64 {
	for lng > 180 {
		lng -= 360
	}
	for lng < -180 {
		lng += 360
	}
	return lng
}
