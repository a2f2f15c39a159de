package interfaces

import (
	"context"

	"github.com/ternarybob/dinewise/internal/models"
)

// ProviderAdapter normalizes one upstream restaurant source.
//
// Search must return an error (never an empty success) on network, status or
// decode failures: the orchestrator relies on that distinction to tell
// "provider broken, try the next one" apart from "no restaurants here".
type ProviderAdapter interface {
	// Name identifies the provider; it becomes SearchOutcome.DataSource
	Name() string

	// Search returns up to limit restaurants within radiusKm of center
	Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error)
}
