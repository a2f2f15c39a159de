package providers

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/interfaces"
)

// Provider names accepted in providers.order
const (
	NameGooglePlaces = "google_places"
	NameFoursquare   = "foursquare"
	NameOverpass     = "overpass"
)

// BuildChain creates the ordered adapter chain and the terminal fallback from config.
// Adapters without credentials are left out of the chain with a warning.
func BuildChain(ctx context.Context, config *common.ProvidersConfig, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) ([]interfaces.ProviderAdapter, interfaces.ProviderAdapter) {
	retryOpt := WithRetry(config.RetryAttempts, 0)
	chain := make([]interfaces.ProviderAdapter, 0, len(config.Order))

	for _, name := range config.Order {
		var adapter interfaces.ProviderAdapter

		switch name {
		case NameGooglePlaces:
			apiKey, err := common.ResolveAPIKey(ctx, kvStorage, "google_places_api_key", config.GooglePlaces.APIKey)
			if err != nil {
				logger.Warn().Str("provider", name).Msg("No API key configured - provider skipped")
				continue
			}
			adapter = NewPlacesAdapter(name, apiKey, &config.GooglePlaces, logger, retryOpt)
		case NameFoursquare:
			apiKey, err := common.ResolveAPIKey(ctx, kvStorage, "foursquare_api_key", config.Foursquare.APIKey)
			if err != nil {
				logger.Warn().Str("provider", name).Msg("No API key configured - provider skipped")
				continue
			}
			adapter = NewFoursquareAdapter(name, apiKey, &config.Foursquare, logger, retryOpt)
		case NameOverpass:
			if !config.Overpass.Enabled {
				logger.Info().Str("provider", name).Msg("Provider disabled")
				continue
			}
			adapter = NewOverpassAdapter(name, &config.Overpass, logger, retryOpt)
		default:
			logger.Warn().Str("provider", name).Msg("Unknown provider in order - ignored")
			continue
		}

		if config.Cache.Enabled {
			adapter = NewCachedAdapter(adapter, config.Cache.TTL.Duration(), config.Cache.MaxEntries, logger)
		}
		chain = append(chain, adapter)
	}

	names := make([]string, len(chain))
	for i, a := range chain {
		names[i] = a.Name()
	}
	logger.Info().
		Strs("providers", names).
		Bool("cache_enabled", config.Cache.Enabled).
		Msg("Provider chain built")

	return chain, NewStaticAdapter(config.Fallback.Count)
}
