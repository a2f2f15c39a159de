package providers

import (
	"context"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
)

// DefaultFallbackCount is the size of the generated sample dataset
const DefaultFallbackCount = 8

type sampleRestaurant struct {
	name    string
	cuisine string
	rating  float64
	price   int
}

var sampleRestaurants = []sampleRestaurant{
	{"Corner Noodle House", "noodles", 4.3, 1},
	{"Harbour Grill", "steak", 4.1, 3},
	{"Little Saigon Kitchen", "vietnamese", 4.5, 1},
	{"Trattoria Verde", "italian", 4.2, 2},
	{"Spice Route", "indian", 4.0, 2},
	{"Sakura Sushi Bar", "japanese", 4.4, 3},
	{"Green Bowl", "vegetarian", 4.6, 2},
	{"El Patio Taqueria", "mexican", 3.9, 1},
	{"Golden Dumpling", "chinese", 4.2, 1},
	{"Baan Thai", "thai", 4.7, 2},
	{"The Brunch Club", "cafe", 4.1, 2},
	{"Seoul Table", "korean", 4.3, 2},
}

// StaticAdapter always succeeds with a fixed set of sample restaurants laid out
// around the search center, all inside the requested radius.
type StaticAdapter struct {
	name  string
	count int
}

// NewStaticAdapter creates the terminal fallback adapter
func NewStaticAdapter(count int) *StaticAdapter {
	if count <= 0 {
		count = DefaultFallbackCount
	}
	if count > len(sampleRestaurants) {
		count = len(sampleRestaurants)
	}
	return &StaticAdapter{name: models.DataSourceFallback, count: count}
}

func (a *StaticAdapter) Name() string {
	return a.name
}

// Search never fails. Positions depend only on center and radius.
func (a *StaticAdapter) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error) {
	if radiusKm <= 0 {
		radiusKm = 1
	}
	n := a.count
	if limit > 0 && limit < n {
		n = limit
	}

	records := make([]models.RestaurantRecord, 0, n)
	for i := 0; i < n; i++ {
		sample := sampleRestaurants[i]
		bearing := float64(i)*360/float64(n) + 15
		// Spread from 20% to 85% of the radius so every ring of the zones is populated
		fraction := 0.2 + 0.65*float64(i)/float64(max(n-1, 1))
		location := geo.Destination(center, bearing, radiusKm*fraction)

		rating := sample.rating
		price := sample.price
		records = append(records, finalize(models.RestaurantRecord{
			Name:           sample.name,
			Location:       location,
			HasLocation:    true,
			Cuisine:        sample.cuisine,
			Rating:         &rating,
			PriceTier:      &price,
			SourceProvider: a.name,
		}))
	}
	return records, nil
}
