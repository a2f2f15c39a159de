package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/orchestrator"
	"github.com/ternarybob/dinewise/internal/services/radius"
	"github.com/ternarybob/dinewise/internal/services/session"
	"github.com/ternarybob/dinewise/internal/services/tracker"
	"github.com/ternarybob/dinewise/internal/storage/memory"
)

var bangkok = models.NewGeoPoint(13.7563, 100.5018)

// fakeProviders answers every radius with count records around the center.
// respond may override the data source and add a delay that ignores cancellation.
type fakeProviders struct {
	mu      sync.Mutex
	count   int
	respond func(center models.GeoPoint) (string, time.Duration)
	radii   []float64
	centers []models.GeoPoint
}

func (f *fakeProviders) Search(ctx context.Context, center models.GeoPoint, radiusKm float64, limit int) (orchestrator.Result, error) {
	f.mu.Lock()
	f.radii = append(f.radii, radiusKm)
	f.centers = append(f.centers, center)
	f.mu.Unlock()

	source := "primary"
	if f.respond != nil {
		var delay time.Duration
		source, delay = f.respond(center)
		time.Sleep(delay)
	}

	records := make([]models.RestaurantRecord, f.count)
	for i := range records {
		loc := geo.Destination(center, float64(i*40), radiusKm*0.5)
		d := radiusKm * 0.5
		records[i] = models.RestaurantRecord{
			Name:           "r",
			IdentityKey:    geo.IdentityKey("r", loc),
			Location:       loc,
			HasLocation:    true,
			SourceProvider: source,
			DistanceKm:     &d,
		}
	}
	return orchestrator.Result{Records: records, DataSource: source}, nil
}

func (f *fakeProviders) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.centers)
}

type fixture struct {
	service   *Service
	providers *fakeProviders
	sources   *tracker.PushRegistry
	sessionID string
}

func newFixture(t *testing.T, providers *fakeProviders) *fixture {
	t.Helper()
	logger := arbor.NewLogger()
	registry := session.NewRegistry(memory.NewSessionStore(), nil, session.Config{DefaultRadiusKm: 2, MaxRadiusKm: 15}, logger)
	sources := tracker.NewPushRegistry()

	service, err := NewService(registry, radius.NewSearcher(providers, logger), sources, nil, Config{
		DefaultAnchor:           bangkok,
		MovementThresholdMeters: 100,
		Radius:                  radius.DefaultParams(),
		Tracker:                 tracker.Config{RequestTimeout: 50 * time.Millisecond},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(service.StopAll)

	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)

	return &fixture{service: service, providers: providers, sources: sources, sessionID: m.ID()}
}

func TestSearchNear_HappyPath(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 8})

	point := bangkok
	outcome, err := f.service.SearchNear(context.Background(), f.sessionID, &point, SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 2.0, outcome.FinalRadiusKm)
	assert.Equal(t, "primary", outcome.DataSource)
	assert.Equal(t, models.LocationOK, outcome.LocationStatus)
	assert.Len(t, outcome.Records, 8)
	assert.Nil(t, outcome.Zones)

	m, err := f.service.Sessions().Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	require.Len(t, m.History(), 1)
	last, ok := m.LastLocation()
	require.True(t, ok)
	assert.Equal(t, bangkok.Latitude, last.Latitude)
}

func TestSearchNear_WithZones(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 6})

	point := bangkok
	outcome, err := f.service.SearchNear(context.Background(), f.sessionID, &point, SearchOptions{WithZones: true})
	require.NoError(t, err)
	require.Len(t, outcome.Zones, 3)

	total := 0
	for _, z := range outcome.Zones {
		total += len(z.Members)
	}
	assert.Equal(t, 6, total)
	assert.Len(t, f.service.Polygons(outcome), 3)
}

func TestSearchNear_UsesSessionRadiusPreferences(t *testing.T) {
	providers := &fakeProviders{count: 0}
	f := newFixture(t, providers)

	m, err := f.service.Sessions().Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	def, max := 4.0, 6.0
	_, err = m.UpdatePreferences(context.Background(), models.Preferences{DefaultRadiusKm: &def, MaxRadiusKm: &max})
	require.NoError(t, err)

	point := bangkok
	outcome, err := f.service.SearchNear(context.Background(), f.sessionID, &point, SearchOptions{})
	require.NoError(t, err)

	assert.Equal(t, []float64{4, 6}, providers.radii)
	assert.Equal(t, 6.0, outcome.FinalRadiusKm)
}

func TestSearchNear_SubstitutesAnchorWhenLocationFails(t *testing.T) {
	t.Run("permission denied", func(t *testing.T) {
		f := newFixture(t, &fakeProviders{count: 5})
		f.sources.Source(f.sessionID).ReportPermission(false)

		outcome, err := f.service.SearchNear(context.Background(), f.sessionID, nil, SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, models.LocationPermissionDenied, outcome.LocationStatus)
		assert.Equal(t, bangkok.Latitude, outcome.Center.Latitude)
		assert.Equal(t, tracker.StateDenied, f.service.LocationState(f.sessionID))
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, &fakeProviders{count: 5})

		outcome, err := f.service.SearchNear(context.Background(), f.sessionID, nil, SearchOptions{})
		require.NoError(t, err)
		assert.Equal(t, models.LocationTimedOut, outcome.LocationStatus)
		assert.Equal(t, bangkok.Longitude, outcome.Center.Longitude)

		m, err := f.service.Sessions().Get(context.Background(), f.sessionID)
		require.NoError(t, err)
		_, ok := m.LastLocation()
		assert.False(t, ok)
	})
}

func TestSearchNear_UsesDeviceFix(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 5})
	device := models.NewGeoPoint(18.7883, 98.9853)

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, f.sources.Source(f.sessionID).Report(device))
	}()

	outcome, err := f.service.SearchNear(context.Background(), f.sessionID, nil, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.LocationOK, outcome.LocationStatus)
	assert.Equal(t, device.Latitude, outcome.Center.Latitude)
}

func TestSearchNear_RejectsBadInput(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 5})

	bad := models.NewGeoPoint(95, 0)
	_, err := f.service.SearchNear(context.Background(), f.sessionID, &bad, SearchOptions{})
	assert.ErrorIs(t, err, models.ErrInvalidCoordinate)

	point := bangkok
	_, err = f.service.SearchNear(context.Background(), "ses_unknown", &point, SearchOptions{})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSearchNear_EmptySessionOpensNewSession(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 5})
	point := bangkok

	_, err := f.service.SearchNear(context.Background(), "", &point, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.service.Sessions().Count())
}

type outcomeCollector struct {
	mu       sync.Mutex
	outcomes []*models.SearchOutcome
}

func (c *outcomeCollector) add(o *models.SearchOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *outcomeCollector) snapshot() []*models.SearchOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.SearchOutcome(nil), c.outcomes...)
}

func TestTrack_StaleUpdateIsSuppressed(t *testing.T) {
	first := bangkok
	second := geo.Destination(bangkok, 0, 0.5)

	providers := &fakeProviders{count: 5, respond: func(center models.GeoPoint) (string, time.Duration) {
		if geo.DistanceMeters(center, first) < 1 {
			// Resolves at t=150ms even though it was cancelled at t=100ms
			return "slow", 150 * time.Millisecond
		}
		return "fast", 10 * time.Millisecond
	}}
	f := newFixture(t, providers)
	collector := &outcomeCollector{}

	tracking, err := f.service.Track(context.Background(), f.sessionID, SearchOptions{}, collector.add)
	require.NoError(t, err)

	source := f.sources.Source(f.sessionID)
	require.NoError(t, source.Report(first))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, source.Report(second))

	time.Sleep(250 * time.Millisecond)
	tracking.Stop()

	outcomes := collector.snapshot()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "fast", outcomes[0].DataSource)
	assert.InDelta(t, second.Latitude, outcomes[0].Center.Latitude, 1e-9)

	m, err := f.service.Sessions().Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "fast", history[0].DataSource)

	last, ok := m.LastLocation()
	require.True(t, ok)
	assert.InDelta(t, second.Latitude, last.Latitude, 1e-9)
}

func TestTrack_MovementThresholdSuppressesJitter(t *testing.T) {
	providers := &fakeProviders{count: 5}
	f := newFixture(t, providers)
	collector := &outcomeCollector{}

	tracking, err := f.service.Track(context.Background(), f.sessionID, SearchOptions{WithZones: true}, collector.add)
	require.NoError(t, err)
	defer tracking.Stop()

	source := f.sources.Source(f.sessionID)
	require.NoError(t, source.Report(bangkok))
	assert.Eventually(t, func() bool { return len(collector.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	for _, meters := range []float64{20, 50, 90} {
		require.NoError(t, source.Report(geo.Destination(bangkok, 45, meters/1000)))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, providers.calls())

	require.NoError(t, source.Report(geo.Destination(bangkok, 45, 0.3)))
	assert.Eventually(t, func() bool { return len(collector.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, collector.snapshot()[1].Zones, 3)
}

func TestTrack_StopEndsDelivery(t *testing.T) {
	providers := &fakeProviders{count: 5}
	f := newFixture(t, providers)
	collector := &outcomeCollector{}

	tracking, err := f.service.Track(context.Background(), f.sessionID, SearchOptions{}, collector.add)
	require.NoError(t, err)
	tracking.Stop()
	tracking.Stop()

	require.NoError(t, f.sources.Source(f.sessionID).Report(bangkok))
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, collector.snapshot())
	assert.Equal(t, 0, f.sources.Source(f.sessionID).Watching())
}

func TestTrack_RequiresKnownSessionAndHandler(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 5})

	_, err := f.service.Track(context.Background(), "ses_unknown", SearchOptions{}, func(*models.SearchOutcome) {})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = f.service.Track(context.Background(), f.sessionID, SearchOptions{}, nil)
	assert.Error(t, err)
}

func TestNewService_ValidatesConfig(t *testing.T) {
	logger := arbor.NewLogger()
	registry := session.NewRegistry(nil, nil, session.Config{}, logger)
	searcher := radius.NewSearcher(&fakeProviders{}, logger)

	_, err := NewService(registry, searcher, tracker.NewPushRegistry(), nil, Config{DefaultAnchor: models.NewGeoPoint(100, 0), Radius: radius.DefaultParams()}, logger)
	assert.Error(t, err)

	_, err = NewService(registry, searcher, tracker.NewPushRegistry(), nil, Config{DefaultAnchor: bangkok, Radius: radius.Params{}}, logger)
	assert.Error(t, err)
}

func TestTrack_DirectSearchDoesNotSupersedeTracking(t *testing.T) {
	elsewhere := geo.Destination(bangkok, 180, 5)
	providers := &fakeProviders{count: 5, respond: func(center models.GeoPoint) (string, time.Duration) {
		if geo.DistanceMeters(center, bangkok) < 1 {
			return "tracked", 80 * time.Millisecond
		}
		return "direct", 0
	}}
	f := newFixture(t, providers)
	collector := &outcomeCollector{}

	tracking, err := f.service.Track(context.Background(), f.sessionID, SearchOptions{}, collector.add)
	require.NoError(t, err)
	defer tracking.Stop()

	require.NoError(t, f.sources.Source(f.sessionID).Report(bangkok))
	time.Sleep(20 * time.Millisecond)

	outcome, err := f.service.SearchNear(context.Background(), f.sessionID, &elsewhere, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "direct", outcome.DataSource)

	require.Eventually(t, func() bool { return len(collector.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	delivered := collector.snapshot()[0]
	assert.Equal(t, "tracked", delivered.DataSource)
	assert.InDelta(t, bangkok.Latitude, delivered.Center.Latitude, 1e-9)

	m, err := f.service.Sessions().Get(context.Background(), f.sessionID)
	require.NoError(t, err)
	assert.Len(t, m.History(), 2)
}

func TestTrack_PinsSessionAgainstEviction(t *testing.T) {
	f := newFixture(t, &fakeProviders{count: 5})
	collector := &outcomeCollector{}
	registry := f.service.Sessions()
	ctx := context.Background()

	tracking, err := f.service.Track(ctx, f.sessionID, SearchOptions{}, collector.add)
	require.NoError(t, err)

	source := f.sources.Source(f.sessionID)
	require.NoError(t, source.Report(bangkok))
	require.Eventually(t, func() bool { return len(collector.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, registry.EvictIdle(ctx, time.Millisecond))

	require.NoError(t, source.Report(geo.Destination(bangkok, 90, 0.5)))
	require.Eventually(t, func() bool { return len(collector.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	tracking.Stop()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, registry.EvictIdle(ctx, time.Millisecond))
}
