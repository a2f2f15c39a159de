package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

const (
	// DefaultCacheTTL is how long a successful provider response is reused
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheEntries bounds the cache size
	DefaultCacheEntries = 10_000
)

// CachedAdapter decorates an adapter with a TTL cache of successful, non-empty responses.
// Errors and empty results always reach the next call.
type CachedAdapter struct {
	next   interfaces.ProviderAdapter
	cache  *otter.Cache[string, []models.RestaurantRecord]
	logger arbor.ILogger
}

// NewCachedAdapter wraps next with an otter cache
func NewCachedAdapter(next interfaces.ProviderAdapter, ttl time.Duration, maxEntries int, logger arbor.ILogger) *CachedAdapter {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	cache := otter.Must(&otter.Options[string, []models.RestaurantRecord]{
		MaximumSize:      maxEntries,
		ExpiryCalculator: otter.ExpiryWriting[string, []models.RestaurantRecord](ttl),
	})
	return &CachedAdapter{next: next, cache: cache, logger: logger}
}

func (c *CachedAdapter) Name() string {
	return c.next.Name()
}

func (c *CachedAdapter) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) ([]models.RestaurantRecord, error) {
	key := cacheKey(c.next.Name(), center, radiusKm, limit)

	if records, ok := c.cache.GetIfPresent(key); ok {
		c.logger.Debug().
			Str("provider", c.next.Name()).
			Str("cache_key", key).
			Msg("Provider cache hit")
		return cloneRecords(records), nil
	}

	records, err := c.next.Search(ctx, center, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		c.cache.Set(key, cloneRecords(records))
	}
	return records, nil
}

// Invalidate drops every cached response
func (c *CachedAdapter) Invalidate() {
	c.cache.InvalidateAll()
}

// Center rounded to 3 decimals (about 110 m) so nearby fixes share entries
func cacheKey(provider string, center models.GeoPoint, radiusKm float64, limit int) string {
	return fmt.Sprintf("%s|%.3f,%.3f|%.3f|%d", provider, center.Latitude, center.Longitude, radiusKm, limit)
}

func cloneRecords(records []models.RestaurantRecord) []models.RestaurantRecord {
	out := make([]models.RestaurantRecord, len(records))
	copy(out, records)
	for i := range out {
		out[i].DistanceKm = nil
	}
	return out
}
