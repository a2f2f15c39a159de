// Package radius widens the search radius until enough restaurants are found.
package radius

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/orchestrator"
)

// ProviderSearcher is the orchestrator contract the loop depends on
type ProviderSearcher interface {
	Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) (orchestrator.Result, error)
}

// Params controls a single adaptive search
type Params struct {
	InitialRadiusKm float64
	MaxRadiusKm     float64
	MinResults      int
	ExpansionFactor float64
	MaxAttempts     int
	Limit           int
}

// DefaultParams returns the stock expansion policy
func DefaultParams() Params {
	return Params{
		InitialRadiusKm: 2,
		MaxRadiusKm:     15,
		MinResults:      5,
		ExpansionFactor: 1.5,
		MaxAttempts:     4,
		Limit:           20,
	}
}

// Validate rejects parameters that could not terminate or make no sense
func (p Params) Validate() error {
	switch {
	case !(p.InitialRadiusKm > 0) || math.IsInf(p.InitialRadiusKm, 0):
		return fmt.Errorf("initial radius must be positive, got %v", p.InitialRadiusKm)
	case !(p.MaxRadiusKm > 0) || math.IsInf(p.MaxRadiusKm, 0):
		return fmt.Errorf("max radius must be positive, got %v", p.MaxRadiusKm)
	case p.InitialRadiusKm > p.MaxRadiusKm:
		return fmt.Errorf("initial radius %v exceeds max radius %v", p.InitialRadiusKm, p.MaxRadiusKm)
	case !(p.ExpansionFactor > 1):
		return fmt.Errorf("expansion factor must be greater than 1, got %v", p.ExpansionFactor)
	case p.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.MinResults < 0:
		return fmt.Errorf("min results cannot be negative, got %d", p.MinResults)
	}
	return nil
}

// AttemptObserver is notified before each orchestrator call
type AttemptObserver func(attempt int, radiusKm float64)

// Option configures a Searcher
type Option func(*Searcher)

// WithAttemptObserver registers an observer for each radius tried
func WithAttemptObserver(fn AttemptObserver) Option {
	return func(s *Searcher) {
		s.onAttempt = fn
	}
}

// Searcher runs the expansion loop over a provider searcher
type Searcher struct {
	providers ProviderSearcher
	logger    arbor.ILogger
	onAttempt AttemptObserver
}

// NewSearcher creates an adaptive radius searcher
func NewSearcher(providers ProviderSearcher, logger arbor.ILogger, opts ...Option) *Searcher {
	s := &Searcher{providers: providers, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search queries at the initial radius and widens by ExpansionFactor until
// MinResults are found, MaxRadiusKm is reached, or MaxAttempts calls were made.
// The outcome carries the records of the last call only.
func (s *Searcher) Search(ctx context.Context, center models.GeoPoint, params Params) (*models.SearchOutcome, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid radius parameters: %w", err)
	}

	radius := params.InitialRadiusKm
	attempt := 0
	start := time.Now()

	for {
		if s.onAttempt != nil {
			s.onAttempt(attempt, radius)
		}

		result, err := s.providers.Search(ctx, center, radius, params.Limit)
		if err != nil {
			return nil, err
		}

		s.logger.Debug().
			Int("attempt", attempt+1).
			Float64("radius_km", radius).
			Int("results_count", len(result.Records)).
			Str("data_source", result.DataSource).
			Msg("Radius attempt completed")

		if len(result.Records) >= params.MinResults || radius >= params.MaxRadiusKm || attempt+1 >= params.MaxAttempts {
			outcome := &models.SearchOutcome{
				Center:        center,
				FinalRadiusKm: radius,
				Attempts:      attempt + 1,
				Records:       result.Records,
				DataSource:    result.DataSource,
				Providers:     result.Providers,
				CompletedAt:   time.Now(),
			}

			s.logger.Info().
				Float64("final_radius_km", radius).
				Int("attempts", outcome.Attempts).
				Int("results_count", len(outcome.Records)).
				Str("data_source", outcome.DataSource).
				Dur("elapsed", time.Since(start)).
				Msg("Adaptive radius search completed")

			return outcome, nil
		}

		radius = math.Min(radius*params.ExpansionFactor, params.MaxRadiusKm)
		attempt++
	}
}
