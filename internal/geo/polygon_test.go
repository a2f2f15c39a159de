package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/dinewise/internal/models"
)

func TestCirclePolygon(t *testing.T) {
	center := models.GeoPoint{Latitude: 13.7563, Longitude: 100.5018}

	ring := CirclePolygon(center, 2, 0)
	require.Len(t, ring, DefaultPolygonPoints+1)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")

	for _, p := range ring {
		assert.InDelta(t, 2.0, DistanceKm(center, p), 1e-6)
	}
}

func TestCirclePolygon_MinimumVertices(t *testing.T) {
	center := models.GeoPoint{Latitude: 0, Longitude: 0}
	ring := CirclePolygon(center, 1, 2)
	assert.Len(t, ring, 4)
}

func TestIdentityKey(t *testing.T) {
	p := models.GeoPoint{Latitude: 13.75631, Longitude: 100.50179}
	q := models.GeoPoint{Latitude: 13.75629, Longitude: 100.50181}

	assert.Equal(t, IdentityKey("Som Tam  Nua", p), IdentityKey("som-tam nua!", q))
	assert.NotEqual(t, IdentityKey("Som Tam Nua", p), IdentityKey("Som Tam Nua", models.GeoPoint{Latitude: 13.7600, Longitude: 100.5018}))
	assert.Equal(t, "som tam nua@13.7563,100.5018", IdentityKey("Som Tam Nua", p))
}
