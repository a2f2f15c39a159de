package radius

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/orchestrator"
)

var center = models.NewGeoPoint(13.7563, 100.5018)

// scriptedProviders returns a fixed number of records per call in sequence
type scriptedProviders struct {
	counts []int
	radii  []float64
}

func (s *scriptedProviders) Search(ctx context.Context, c models.GeoPoint, radiusKm float64, limit int) (orchestrator.Result, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.Result{}, err
	}
	idx := len(s.radii)
	if idx >= len(s.counts) {
		idx = len(s.counts) - 1
	}
	n := s.counts[idx]
	s.radii = append(s.radii, radiusKm)

	records := make([]models.RestaurantRecord, n)
	for i := range records {
		records[i] = models.RestaurantRecord{Name: "r", IdentityKey: string(rune('a'+i)) + "@call" + string(rune('0'+len(s.radii)))}
	}
	return orchestrator.Result{Records: records, DataSource: "primary"}, nil
}

func TestSearch_EnoughOnFirstAttempt(t *testing.T) {
	providers := &scriptedProviders{counts: []int{6}}
	searcher := NewSearcher(providers, arbor.NewLogger())

	outcome, err := searcher.Search(context.Background(), center, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 2.0, outcome.FinalRadiusKm)
	assert.Equal(t, "primary", outcome.DataSource)
	assert.Len(t, outcome.Records, 6)
	assert.Equal(t, []float64{2}, providers.radii)
}

func TestSearch_ExpandsAndKeepsLastCallOnly(t *testing.T) {
	providers := &scriptedProviders{counts: []int{3, 7}}
	searcher := NewSearcher(providers, arbor.NewLogger())

	outcome, err := searcher.Search(context.Background(), center, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 3.0, outcome.FinalRadiusKm)
	require.Len(t, outcome.Records, 7)
	for _, r := range outcome.Records {
		assert.Contains(t, r.IdentityKey, "@call2")
	}
}

func TestSearch_StopsAtMaxAttempts(t *testing.T) {
	providers := &scriptedProviders{counts: []int{0}}
	var observed []float64
	searcher := NewSearcher(providers, arbor.NewLogger(), WithAttemptObserver(func(attempt int, radiusKm float64) {
		observed = append(observed, radiusKm)
	}))

	outcome, err := searcher.Search(context.Background(), center, DefaultParams())
	require.NoError(t, err)

	assert.Equal(t, 4, outcome.Attempts)
	assert.Equal(t, []float64{2, 3, 4.5, 6.75}, providers.radii)
	assert.Equal(t, providers.radii, observed)
	assert.InDelta(t, 6.75, outcome.FinalRadiusKm, 1e-9)
}

func TestSearch_RadiiNonDecreasingAndBounded(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"defaults", DefaultParams()},
		{"reaches max", Params{InitialRadiusKm: 2, MaxRadiusKm: 5, MinResults: 5, ExpansionFactor: 2, MaxAttempts: 10, Limit: 20}},
		{"initial equals max", Params{InitialRadiusKm: 15, MaxRadiusKm: 15, MinResults: 5, ExpansionFactor: 1.5, MaxAttempts: 4, Limit: 20}},
		{"single attempt", Params{InitialRadiusKm: 1, MaxRadiusKm: 15, MinResults: 5, ExpansionFactor: 1.5, MaxAttempts: 1, Limit: 20}},
		{"slow growth", Params{InitialRadiusKm: 0.5, MaxRadiusKm: 50, MinResults: 100, ExpansionFactor: 1.01, MaxAttempts: 25, Limit: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers := &scriptedProviders{counts: []int{0}}
			outcome, err := NewSearcher(providers, arbor.NewLogger()).Search(context.Background(), center, tt.params)
			require.NoError(t, err)

			require.NotEmpty(t, providers.radii)
			assert.LessOrEqual(t, len(providers.radii), tt.params.MaxAttempts)
			assert.Equal(t, len(providers.radii), outcome.Attempts)
			for i, r := range providers.radii {
				assert.LessOrEqual(t, r, tt.params.MaxRadiusKm)
				if i > 0 {
					assert.GreaterOrEqual(t, r, providers.radii[i-1])
				}
			}
		})
	}
}

func TestSearch_StopsWhenMaxRadiusReached(t *testing.T) {
	providers := &scriptedProviders{counts: []int{1}}
	params := Params{InitialRadiusKm: 2, MaxRadiusKm: 5, MinResults: 5, ExpansionFactor: 2, MaxAttempts: 10, Limit: 20}

	outcome, err := NewSearcher(providers, arbor.NewLogger()).Search(context.Background(), center, params)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 5}, providers.radii)
	assert.Equal(t, 5.0, outcome.FinalRadiusKm)
}

func TestSearch_PropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSearcher(&scriptedProviders{counts: []int{0}}, arbor.NewLogger()).Search(ctx, center, DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParams_Validate(t *testing.T) {
	base := DefaultParams()
	require.NoError(t, base.Validate())

	invalid := []func(p *Params){
		func(p *Params) { p.ExpansionFactor = 1 },
		func(p *Params) { p.ExpansionFactor = 0.5 },
		func(p *Params) { p.InitialRadiusKm = 0 },
		func(p *Params) { p.MaxRadiusKm = -1 },
		func(p *Params) { p.InitialRadiusKm = 20 },
		func(p *Params) { p.MaxAttempts = 0 },
		func(p *Params) { p.MinResults = -1 },
	}
	for i, mutate := range invalid {
		p := base
		mutate(&p)
		assert.Error(t, p.Validate(), "case %d", i)

		_, err := NewSearcher(&scriptedProviders{counts: []int{0}}, arbor.NewLogger()).Search(context.Background(), center, p)
		assert.Error(t, err, "case %d", i)
	}
}
