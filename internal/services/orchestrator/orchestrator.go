// Package orchestrator runs the ordered provider chain with per-provider timeouts
// and a terminal fallback, so a search always yields a result set.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// DefaultProviderTimeout bounds each adapter call
const DefaultProviderTimeout = 8 * time.Second

// Config controls chain behaviour
type Config struct {
	ProviderTimeout time.Duration
	// MergeAll queries every provider and merges results instead of stopping at the first success
	MergeAll bool
}

// Result is the outcome of one orchestrated search
type Result struct {
	Records    []models.RestaurantRecord
	DataSource string
	Providers  []models.ProviderResult
}

// Orchestrator owns the ordered adapter chain
type Orchestrator struct {
	adapters []interfaces.ProviderAdapter
	fallback interfaces.ProviderAdapter
	config   Config
	logger   arbor.ILogger
}

// New creates an orchestrator. fallback must always succeed.
func New(adapters []interfaces.ProviderAdapter, fallback interfaces.ProviderAdapter, config Config, logger arbor.ILogger) (*Orchestrator, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback adapter is required")
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = DefaultProviderTimeout
	}
	return &Orchestrator{
		adapters: adapters,
		fallback: fallback,
		config:   config,
		logger:   logger,
	}, nil
}

// Providers returns the names of the configured chain in priority order
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return names
}

// Search returns the first non-empty successful provider result, or the fallback
// dataset when every provider fails. The only error is a cancelled parent context.
func (o *Orchestrator) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) (Result, error) {
	if o.config.MergeAll {
		return o.searchAll(ctx, center, radiusKm, limit)
	}

	trace := make([]models.ProviderResult, 0, len(o.adapters)+1)
	for _, adapter := range o.adapters {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result := o.call(ctx, adapter, center, radiusKm, limit)
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		trace = append(trace, traceEntry(result))

		if result.Succeeded && len(result.Records) > 0 {
			return o.finish(center, result.Records, adapter.Name(), trace, 0), nil
		}
	}

	return o.useFallback(ctx, center, radiusKm, limit, trace)
}

// searchAll queries every provider sequentially and merges in priority order
func (o *Orchestrator) searchAll(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) (Result, error) {
	trace := make([]models.ProviderResult, 0, len(o.adapters)+1)
	var merged []models.RestaurantRecord
	var sources []string

	for _, adapter := range o.adapters {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		result := o.call(ctx, adapter, center, radiusKm, limit)
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		trace = append(trace, traceEntry(result))

		if result.Succeeded && len(result.Records) > 0 {
			merged = append(merged, result.Records...)
			sources = append(sources, adapter.Name())
		}
	}

	if len(merged) == 0 {
		return o.useFallback(ctx, center, radiusKm, limit, trace)
	}
	return o.finish(center, merged, strings.Join(sources, "+"), trace, limit), nil
}

func (o *Orchestrator) useFallback(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int, trace []models.ProviderResult) (Result, error) {
	o.logger.Warn().
		Err(models.ErrAllProvidersExhausted).
		Int("providers_tried", len(trace)).
		Float64("radius_km", radiusKm).
		Msg("Using fallback dataset")

	result := o.call(ctx, o.fallback, center, radiusKm, limit)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	trace = append(trace, traceEntry(result))

	if !result.Succeeded {
		o.logger.Error().
			Str("provider", o.fallback.Name()).
			Str("error_kind", string(result.ErrorKind)).
			Msg("Fallback adapter failed - returning empty result")
	}

	return o.finish(center, result.Records, models.DataSourceFallback, trace, 0), nil
}

// call runs one adapter under its own timeout. An adapter that ignores its
// context is abandoned when the timeout fires.
func (o *Orchestrator) call(ctx context.Context, adapter interfaces.ProviderAdapter, center models.GeoPoint, radiusKm float64, limit int) models.ProviderResult {
	callCtx, cancel := context.WithTimeout(ctx, o.config.ProviderTimeout)
	defer cancel()

	type reply struct {
		records []models.RestaurantRecord
		err     error
	}
	done := make(chan reply, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		records, err := adapter.Search(callCtx, center, radiusKm, limit)
		done <- reply{records: records, err: err}
	}()

	var out reply
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = reply{err: callCtx.Err()}
	}

	result := models.ProviderResult{
		Provider:  adapter.Name(),
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	if out.err != nil {
		result.ErrorKind = models.KindOf(out.err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			result.ErrorKind = models.ErrKindProviderTimeout
		}
		if ctx.Err() == nil {
			o.logger.Warn().
				Str("provider", adapter.Name()).
				Str("error_kind", string(result.ErrorKind)).
				Int64("elapsed_ms", result.ElapsedMs).
				Err(out.err).
				Msg("Provider failed - trying next")
		}
		return result
	}

	result.Succeeded = true
	result.Records = out.records
	result.Count = len(out.records)

	o.logger.Debug().
		Str("provider", adapter.Name()).
		Int("results_count", result.Count).
		Int64("elapsed_ms", result.ElapsedMs).
		Msg("Provider returned")

	return result
}

// finish dedups, annotates distances and orders by distance. Ties keep provider order.
func (o *Orchestrator) finish(center models.GeoPoint, records []models.RestaurantRecord, source string, trace []models.ProviderResult, limit int) Result {
	records = WithDistances(center, Dedupe(records))
	sort.SliceStable(records, func(i, j int) bool {
		return lessByDistance(records[i], records[j])
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	o.logger.Info().
		Str("data_source", source).
		Int("results_count", len(records)).
		Int("providers_tried", len(trace)).
		Msg("Provider search completed")

	return Result{Records: records, DataSource: source, Providers: trace}
}

// Dedupe drops every record whose IdentityKey was already seen. The first
// occurrence wins, so callers pass records in provider priority order.
func Dedupe(records []models.RestaurantRecord) []models.RestaurantRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]models.RestaurantRecord, 0, len(records))
	for _, r := range records {
		key := r.IdentityKey
		if key == "" {
			if r.HasLocation {
				key = geo.IdentityKey(r.Name, r.Location)
			} else {
				key = geo.IdentityKeyNameOnly(r.Name, r.SourceProvider)
			}
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		r.IdentityKey = key
		out = append(out, r)
	}
	return out
}

// WithDistances returns copies of records with DistanceKm set from center.
// Records without coordinates keep a nil distance.
func WithDistances(center models.GeoPoint, records []models.RestaurantRecord) []models.RestaurantRecord {
	out := make([]models.RestaurantRecord, len(records))
	for i, r := range records {
		r.DistanceKm = nil
		if r.HasLocation {
			d := geo.DistanceKm(center, r.Location)
			r.DistanceKm = &d
		}
		out[i] = r
	}
	return out
}

func lessByDistance(a, b models.RestaurantRecord) bool {
	switch {
	case a.DistanceKm == nil:
		return false
	case b.DistanceKm == nil:
		return true
	default:
		return *a.DistanceKm < *b.DistanceKm
	}
}

func traceEntry(r models.ProviderResult) models.ProviderResult {
	r.Records = nil
	return r
}
