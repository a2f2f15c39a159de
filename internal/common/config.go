package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/dinewise/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Discovery    DiscoveryConfig    `toml:"discovery"`
	Providers    ProvidersConfig    `toml:"providers"`
	Tracker      TrackerConfig      `toml:"tracker"`
	Housekeeping HousekeepingConfig `toml:"housekeeping"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path; empty runs in memory
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// DiscoveryConfig holds the adaptive search defaults and the anchor used when
// the device location is unavailable
type DiscoveryConfig struct {
	InitialRadiusKm         float64      `toml:"initial_radius_km"`
	MaxRadiusKm             float64      `toml:"max_radius_km"`
	MinResults              int          `toml:"min_results"`
	ExpansionFactor         float64      `toml:"expansion_factor"`
	MaxAttempts             int          `toml:"max_attempts"`
	ResultLimit             int          `toml:"result_limit"`              // Per-provider record limit
	MovementThresholdMeters float64      `toml:"movement_threshold_meters"` // Re-search only after moving this far
	LocationToleranceMeters float64      `toml:"location_tolerance_meters"` // Identical-point tolerance for session updates
	HistorySize             int          `toml:"history_size"`              // Search metrics kept per session
	DistanceUnit            string       `toml:"distance_unit"`             // "km" or "mi"
	ZonePolygonPoints       int          `toml:"zone_polygon_points"`
	DefaultAnchor           AnchorConfig `toml:"default_anchor"`
}

// AnchorConfig is a named fixed coordinate
type AnchorConfig struct {
	Name      string  `toml:"name"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// ProvidersConfig configures the ordered fallback chain
type ProvidersConfig struct {
	Order         []string              `toml:"order"`          // Priority order of provider names
	Timeout       Duration              `toml:"timeout"`        // Per-provider call timeout
	MergeResults  bool                  `toml:"merge_results"`  // Query every provider and merge instead of first-success-wins
	RetryAttempts uint                  `toml:"retry_attempts"` // HTTP attempts per provider call for 429/5xx responses
	Cache         ProviderCacheConfig   `toml:"cache"`
	GooglePlaces  PlacesAPIConfig       `toml:"google_places"`
	Foursquare    FoursquareAPIConfig   `toml:"foursquare"`
	Overpass      OverpassAPIConfig     `toml:"overpass"`
	Fallback      FallbackDatasetConfig `toml:"fallback"`
}

// ProviderCacheConfig controls the in-memory response cache in front of each adapter
type ProviderCacheConfig struct {
	Enabled    bool     `toml:"enabled"`
	TTL        Duration `toml:"ttl"`
	MaxEntries int      `toml:"max_entries"`
}

// PlacesAPIConfig contains Google Places API configuration
type PlacesAPIConfig struct {
	APIKey              string   `toml:"api_key"`                // Google Places API key
	BaseURL             string   `toml:"base_url"`               // Override for testing
	RateLimit           Duration `toml:"rate_limit"`             // Minimum time between API requests
	RequestTimeout      Duration `toml:"request_timeout"`        // HTTP request timeout
	MaxResultsPerSearch int      `toml:"max_results_per_search"` // Google Places API limit per request
}

// FoursquareAPIConfig contains Foursquare Places API configuration
type FoursquareAPIConfig struct {
	APIKey              string   `toml:"api_key"`
	BaseURL             string   `toml:"base_url"`
	RateLimit           Duration `toml:"rate_limit"`
	RequestTimeout      Duration `toml:"request_timeout"`
	MaxResultsPerSearch int      `toml:"max_results_per_search"`
}

// OverpassAPIConfig contains OpenStreetMap Overpass configuration. No key is required.
type OverpassAPIConfig struct {
	Enabled        bool     `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	RateLimit      Duration `toml:"rate_limit"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// FallbackDatasetConfig sizes the static sample dataset
type FallbackDatasetConfig struct {
	Count int `toml:"count"`
}

// TrackerConfig sets the device acquisition policy
type TrackerConfig struct {
	RequestTimeout     Duration `toml:"request_timeout"`
	MaximumAge         Duration `toml:"maximum_age"`
	EnableHighAccuracy bool     `toml:"enable_high_accuracy"`
	HighAccuracyMeters float64  `toml:"high_accuracy_meters"` // Fixes coarser than this are dropped when high accuracy is on
}

// HousekeepingConfig controls idle session eviction
type HousekeepingConfig struct {
	Enabled        bool     `toml:"enabled"`
	Schedule       string   `toml:"schedule"` // Cron schedule format
	SessionIdleTTL Duration `toml:"session_idle_ttl"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Discovery: DiscoveryConfig{
			InitialRadiusKm:         2,
			MaxRadiusKm:             15,
			MinResults:              5,
			ExpansionFactor:         1.5,
			MaxAttempts:             4,
			ResultLimit:             20,
			MovementThresholdMeters: 100, // GPS jitter is well under this
			LocationToleranceMeters: 10,
			HistorySize:             50,
			DistanceUnit:            "km",
			ZonePolygonPoints:       64,
			DefaultAnchor: AnchorConfig{
				Name:      "Bangkok city centre",
				Latitude:  13.7563,
				Longitude: 100.5018,
			},
		},
		Providers: ProvidersConfig{
			Order:         []string{"google_places", "foursquare", "overpass"},
			Timeout:       Duration(8 * time.Second),
			MergeResults:  false,
			RetryAttempts: 2,
			Cache: ProviderCacheConfig{
				Enabled:    true,
				TTL:        Duration(5 * time.Minute),
				MaxEntries: 10_000,
			},
			GooglePlaces: PlacesAPIConfig{
				APIKey:              "", // User must provide API key in config file
				BaseURL:             "https://maps.googleapis.com/maps/api/place",
				RateLimit:           Duration(100 * time.Millisecond),
				RequestTimeout:      Duration(10 * time.Second),
				MaxResultsPerSearch: 20, // Google Places API default limit
			},
			Foursquare: FoursquareAPIConfig{
				APIKey:              "",
				BaseURL:             "https://api.foursquare.com/v3",
				RateLimit:           Duration(200 * time.Millisecond),
				RequestTimeout:      Duration(10 * time.Second),
				MaxResultsPerSearch: 50,
			},
			Overpass: OverpassAPIConfig{
				Enabled:        true,
				BaseURL:        "https://overpass-api.de/api/interpreter",
				RateLimit:      Duration(1 * time.Second), // Public instance asks for at most one request per second
				RequestTimeout: Duration(10 * time.Second),
			},
			Fallback: FallbackDatasetConfig{
				Count: 8,
			},
		},
		Tracker: TrackerConfig{
			RequestTimeout:     Duration(10 * time.Second),
			MaximumAge:         Duration(30 * time.Second),
			EnableHighAccuracy: false,
			HighAccuracyMeters: 100,
		},
		Housekeeping: HousekeepingConfig{
			Enabled:        true,
			Schedule:       "*/5 * * * *",
			SessionIdleTTL: Duration(30 * time.Minute),
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks cross-field constraints that defaults and overrides must satisfy
func (c *Config) Validate() error {
	d := c.Discovery
	if d.InitialRadiusKm <= 0 || d.MaxRadiusKm <= 0 {
		return fmt.Errorf("discovery radii must be positive (initial=%v, max=%v)", d.InitialRadiusKm, d.MaxRadiusKm)
	}
	if d.InitialRadiusKm > d.MaxRadiusKm {
		return fmt.Errorf("discovery.initial_radius_km %v exceeds discovery.max_radius_km %v", d.InitialRadiusKm, d.MaxRadiusKm)
	}
	if d.ExpansionFactor <= 1 {
		return fmt.Errorf("discovery.expansion_factor must be greater than 1, got %v", d.ExpansionFactor)
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("discovery.max_attempts must be at least 1, got %d", d.MaxAttempts)
	}
	if d.DistanceUnit != "km" && d.DistanceUnit != "mi" {
		return fmt.Errorf("discovery.distance_unit must be km or mi, got %q", d.DistanceUnit)
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DINEWISE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DINEWISE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DINEWISE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath, ok := os.LookupEnv("DINEWISE_BADGER_PATH"); ok {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("DINEWISE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("DINEWISE_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("DINEWISE_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Discovery configuration
	if v := os.Getenv("DINEWISE_DISCOVERY_INITIAL_RADIUS_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Discovery.InitialRadiusKm = f
		}
	}
	if v := os.Getenv("DINEWISE_DISCOVERY_MAX_RADIUS_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Discovery.MaxRadiusKm = f
		}
	}
	if v := os.Getenv("DINEWISE_DISCOVERY_MIN_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Discovery.MinResults = n
		}
	}
	if v := os.Getenv("DINEWISE_DISCOVERY_MOVEMENT_THRESHOLD_METERS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Discovery.MovementThresholdMeters = f
		}
	}
	if v := os.Getenv("DINEWISE_DISCOVERY_ANCHOR"); v != "" {
		// "lat,lng"
		parts := splitList(v)
		if len(parts) == 2 {
			lat, errLat := strconv.ParseFloat(parts[0], 64)
			lng, errLng := strconv.ParseFloat(parts[1], 64)
			if errLat == nil && errLng == nil {
				config.Discovery.DefaultAnchor = AnchorConfig{Name: "env", Latitude: lat, Longitude: lng}
			}
		}
	}

	// Provider configuration
	if order := os.Getenv("DINEWISE_PROVIDERS_ORDER"); order != "" {
		if names := splitList(order); len(names) > 0 {
			config.Providers.Order = names
		}
	}
	if timeout := os.Getenv("DINEWISE_PROVIDERS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Providers.Timeout = Duration(d)
		}
	}
	if apiKey := os.Getenv("DINEWISE_GOOGLE_PLACES_API_KEY"); apiKey != "" {
		config.Providers.GooglePlaces.APIKey = apiKey
	}
	if apiKey := os.Getenv("DINEWISE_FOURSQUARE_API_KEY"); apiKey != "" {
		config.Providers.Foursquare.APIKey = apiKey
	}
	if enabled := os.Getenv("DINEWISE_OVERPASS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Providers.Overpass.Enabled = b
		}
	}

	// Housekeeping configuration
	if schedule := os.Getenv("DINEWISE_HOUSEKEEPING_SCHEDULE"); schedule != "" {
		config.Housekeeping.Schedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveAPIKey resolves an API key by name.
// Resolution order: environment variable → KV store → config fallback → error
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	keyToEnv := map[string]string{
		"google_places_api_key": "DINEWISE_GOOGLE_PLACES_API_KEY",
		"foursquare_api_key":    "DINEWISE_FOURSQUARE_API_KEY",
	}

	if envName, ok := keyToEnv[name]; ok {
		if envValue := os.Getenv(envName); envValue != "" {
			return envValue, nil
		}
	}

	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
