package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/dinewise/internal/models"
)

var samplePoints = []models.GeoPoint{
	{Latitude: 13.7563, Longitude: 100.5018},  // Bangkok
	{Latitude: 51.5074, Longitude: -0.1278},   // London
	{Latitude: -33.8688, Longitude: 151.2093}, // Sydney
	{Latitude: 40.7128, Longitude: -74.0060},  // New York
	{Latitude: 0, Longitude: 0},
	{Latitude: 89.9, Longitude: 179.9},
	{Latitude: -89.9, Longitude: -179.9},
}

func TestDistanceKm_Symmetric(t *testing.T) {
	for _, a := range samplePoints {
		for _, b := range samplePoints {
			ab := DistanceKm(a, b)
			ba := DistanceKm(b, a)
			assert.InDelta(t, ab, ba, 1e-9, "distance(%v,%v) not symmetric", a, b)
			assert.GreaterOrEqual(t, ab, 0.0)
		}
	}
}

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	for _, p := range samplePoints {
		assert.InDelta(t, 0.0, DistanceKm(p, p), 1e-9)
	}
}

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name string
		a, b models.GeoPoint
		want float64
		tol  float64
	}{
		{"london to new york", samplePoints[1], samplePoints[3], 5570, 15},
		{"one degree of latitude", models.GeoPoint{Latitude: 0}, models.GeoPoint{Latitude: 1}, 111.19, 0.1},
		{"antipodes", models.GeoPoint{Latitude: 0, Longitude: 0}, models.GeoPoint{Latitude: 0, Longitude: 180}, math.Pi * EarthRadiusKm, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("DistanceKm() = %.3f, want %.3f ± %.3f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	origin := samplePoints[0]
	for _, bearing := range []float64{0, 45, 90, 180, 270, 359} {
		for _, dist := range []float64{0.1, 1, 2.5, 15} {
			dest := Destination(origin, bearing, dist)
			assert.InDelta(t, dist, DistanceKm(origin, dest), 1e-6, "bearing=%v dist=%v", bearing, dist)
		}
	}
}

func TestValidPoint(t *testing.T) {
	assert.True(t, ValidPoint(models.GeoPoint{Latitude: 13.7, Longitude: 100.5}))
	assert.False(t, ValidPoint(models.GeoPoint{Latitude: 91, Longitude: 0}))
	assert.False(t, ValidPoint(models.GeoPoint{Latitude: 0, Longitude: -181}))
	assert.False(t, ValidPoint(models.GeoPoint{Latitude: math.NaN(), Longitude: 0}))
	assert.False(t, ValidPoint(models.GeoPoint{Latitude: 0, Longitude: math.Inf(1)}))
}

func TestUnitConversion(t *testing.T) {
	assert.InDelta(t, 1.0, KmToMiles(1.609344), 1e-12)
	assert.InDelta(t, 1.609344, MilesToKm(1), 1e-12)
	assert.InDelta(t, 10.0, ConvertKm(10, models.UnitKilometers), 1e-12)
	assert.InDelta(t, 6.2137, ConvertKm(10, models.UnitMiles), 1e-4)
}
