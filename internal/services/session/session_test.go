package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/events"
	"github.com/ternarybob/dinewise/internal/storage/memory"
)

func newTestRegistry(t *testing.T, store interfaces.SessionStore, eventService interfaces.EventService) *Registry {
	t.Helper()
	return NewRegistry(store, eventService, Config{DefaultRadiusKm: 2, MaxRadiusKm: 15, HistorySize: 3}, arbor.NewLogger())
}

func floatPtr(v float64) *float64 { return &v }

func unitPtr(u models.DistanceUnit) *models.DistanceUnit { return &u }

func TestOpen_CreatesWithDefaults(t *testing.T) {
	registry := newTestRegistry(t, memory.NewSessionStore(), nil)

	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)

	s := m.Snapshot()
	assert.True(t, strings.HasPrefix(s.SessionID, "ses_"))
	assert.Equal(t, 2.0, s.DefaultRadiusKm)
	assert.Equal(t, 15.0, s.MaxRadiusKm)
	assert.Equal(t, models.UnitKilometers, s.DistanceUnit)
	assert.Nil(t, s.LastLocation)
	assert.False(t, s.CreatedAt.IsZero())

	again, err := registry.Open(context.Background(), s.SessionID)
	require.NoError(t, err)
	assert.Same(t, m, again)
}

func TestOpen_RestoresFromStore(t *testing.T) {
	store := memory.NewSessionStore()
	ctx := context.Background()

	loc := models.NewGeoPoint(13.7563, 100.5018)
	require.NoError(t, store.Put(ctx, &models.SearchSession{
		SessionID:       "ses_saved",
		CreatedAt:       time.Now().Add(-time.Hour),
		UpdatedAt:       time.Now().Add(-time.Hour),
		LastLocation:    &loc,
		DefaultRadiusKm: 4,
		MaxRadiusKm:     10,
		DistanceUnit:    models.UnitMiles,
	}))

	registry := newTestRegistry(t, store, nil)
	m, err := registry.Open(ctx, "ses_saved")
	require.NoError(t, err)

	s := m.Snapshot()
	assert.Equal(t, "ses_saved", s.SessionID)
	assert.Equal(t, 4.0, s.DefaultRadiusKm)
	assert.Equal(t, models.UnitMiles, s.DistanceUnit)
	require.NotNil(t, s.LastLocation)

	unknown, err := registry.Open(ctx, "ses_missing")
	require.NoError(t, err)
	assert.NotEqual(t, "ses_missing", unknown.ID())

	_, err = registry.Get(ctx, "ses_missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestRecordLocation_ToleranceMakesRepeatsNoOps(t *testing.T) {
	registry := newTestRegistry(t, nil, nil)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)
	ctx := context.Background()

	start := models.NewGeoPoint(13.7563, 100.5018)
	assert.True(t, m.RecordLocation(ctx, start))
	assert.False(t, m.RecordLocation(ctx, start))

	// 5 m away is inside the default 10 m tolerance
	assert.False(t, m.RecordLocation(ctx, geo.Destination(start, 90, 0.005)))

	// 40 m away but the fix reports 50 m accuracy
	assert.False(t, m.RecordLocation(ctx, geo.Destination(start, 90, 0.04).WithAccuracy(50)))

	moved := geo.Destination(start, 90, 0.2)
	assert.True(t, m.RecordLocation(ctx, moved))

	last, ok := m.LastLocation()
	require.True(t, ok)
	assert.InDelta(t, moved.Longitude, last.Longitude, 1e-12)

	assert.False(t, m.RecordLocation(ctx, models.NewGeoPoint(91, 0)))
}

func TestRecordLocation_PublishesNotification(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	defer eventService.Close()

	received := make(chan map[string]interface{}, 1)
	require.NoError(t, eventService.Subscribe(interfaces.EventLocationUpdated, func(ctx context.Context, event interfaces.Event) error {
		received <- event.Payload.(map[string]interface{})
		return errors.New("telemetry collector unavailable")
	}))

	registry := newTestRegistry(t, nil, eventService)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)

	assert.True(t, m.RecordLocation(context.Background(), models.NewGeoPoint(1, 2).WithAccuracy(8)))

	select {
	case payload := <-received:
		assert.Equal(t, m.ID(), payload["session_id"])
		assert.Equal(t, 1.0, payload["latitude"])
		assert.Equal(t, 2.0, payload["longitude"])
		assert.Equal(t, 8.0, payload["accuracy_meters"])
		assert.Contains(t, payload, "captured_at")
	case <-time.After(time.Second):
		t.Fatal("location notification not delivered")
	}
}

func TestUpdatePreferences(t *testing.T) {
	tests := []struct {
		name    string
		partial models.Preferences
		wantErr bool
	}{
		{"valid radius pair", models.Preferences{DefaultRadiusKm: floatPtr(3), MaxRadiusKm: floatPtr(20)}, false},
		{"unit only", models.Preferences{DistanceUnit: unitPtr(models.UnitMiles)}, false},
		{"default equals max", models.Preferences{DefaultRadiusKm: floatPtr(15)}, false},
		{"default above max", models.Preferences{DefaultRadiusKm: floatPtr(16)}, true},
		{"max below default", models.Preferences{MaxRadiusKm: floatPtr(1)}, true},
		{"zero radius", models.Preferences{DefaultRadiusKm: floatPtr(0)}, true},
		{"negative max", models.Preferences{MaxRadiusKm: floatPtr(-5)}, true},
		{"unknown unit", models.Preferences{DistanceUnit: unitPtr("furlongs")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewSessionStore()
			registry := newTestRegistry(t, store, nil)
			m, err := registry.Open(context.Background(), "")
			require.NoError(t, err)
			before := m.Snapshot()

			updated, err := m.UpdatePreferences(context.Background(), tt.partial)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrInvalidPreference)
				assert.Equal(t, models.ErrKindInvalidPreference, models.KindOf(err))
				assert.Equal(t, before.DefaultRadiusKm, m.Preferences().DefaultRadiusKm)
				assert.Equal(t, before.MaxRadiusKm, m.Preferences().MaxRadiusKm)
				assert.Equal(t, before.DistanceUnit, m.Preferences().DistanceUnit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, updated.DefaultRadiusKm, m.Preferences().DefaultRadiusKm)

			stored, err := store.Get(context.Background(), m.ID())
			require.NoError(t, err)
			assert.Equal(t, updated.DistanceUnit, stored.DistanceUnit)
		})
	}
}

func TestRecordSearchMetrics_BoundedHistory(t *testing.T) {
	registry := newTestRegistry(t, nil, nil)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		m.RecordSearchMetrics(context.Background(), &models.SearchOutcome{
			FinalRadiusKm: float64(i),
			Attempts:      i,
			DataSource:    fmt.Sprintf("p%d", i),
		})
	}

	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, "p3", history[0].DataSource)
	assert.Equal(t, "p5", history[2].DataSource)
}

func TestApplyOutcome_DiscardsStaleGenerations(t *testing.T) {
	registry := newTestRegistry(t, nil, nil)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)
	ctx := context.Background()

	first := m.BeginSearch(DirectStream)
	second := m.BeginSearch(DirectStream)

	assert.True(t, m.ApplyOutcome(ctx, DirectStream, second, &models.SearchOutcome{DataSource: "second"}))
	assert.False(t, m.ApplyOutcome(ctx, DirectStream, first, &models.SearchOutcome{DataSource: "first"}))

	history := m.History()
	require.Len(t, history, 1)
	assert.Equal(t, "second", history[0].DataSource)
}

func TestManager_ConcurrentAccess(t *testing.T) {
	registry := newTestRegistry(t, memory.NewSessionStore(), nil)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			m.RecordLocation(ctx, models.NewGeoPoint(10+float64(i)*0.01, 100))
			gen := m.BeginSearch(DirectStream)
			m.ApplyOutcome(ctx, DirectStream, gen, &models.SearchOutcome{DataSource: "x"})
			_ = m.Snapshot()
			_, _ = m.UpdatePreferences(ctx, models.Preferences{DefaultRadiusKm: floatPtr(3)})
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(m.History()), 3)
}

func TestEvictIdle(t *testing.T) {
	store := memory.NewSessionStore()
	registry := newTestRegistry(t, store, nil)
	ctx := context.Background()

	m, err := registry.Open(ctx, "")
	require.NoError(t, err)
	id := m.ID()
	require.Equal(t, 1, registry.Count())

	assert.Equal(t, 0, registry.EvictIdle(ctx, time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, registry.EvictIdle(ctx, time.Millisecond))
	assert.Equal(t, 0, registry.Count())

	restored, err := registry.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, restored.ID())
	assert.NotSame(t, m, restored)
}

func TestDelete(t *testing.T) {
	store := memory.NewSessionStore()
	registry := newTestRegistry(t, store, nil)
	ctx := context.Background()

	m, err := registry.Open(ctx, "")
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, m.ID()))
	_, err = registry.Get(ctx, m.ID())
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.ErrorIs(t, registry.Delete(ctx, m.ID()), models.ErrSessionNotFound)
}

func TestApplyOutcome_StreamsAreIndependent(t *testing.T) {
	registry := newTestRegistry(t, nil, nil)
	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)
	ctx := context.Background()

	tracking := m.BeginSearch("tracking-1")
	direct := m.BeginSearch(DirectStream)

	assert.True(t, m.ApplyOutcome(ctx, DirectStream, direct, &models.SearchOutcome{DataSource: "direct"}))
	assert.True(t, m.ApplyOutcome(ctx, "tracking-1", tracking, &models.SearchOutcome{DataSource: "tracking"}))
	assert.Len(t, m.History(), 2)

	m.EndStream("tracking-1")
	assert.Equal(t, uint64(1), m.BeginSearch("tracking-1"))
}

func TestEvictIdle_SkipsPinnedSessions(t *testing.T) {
	registry := newTestRegistry(t, memory.NewSessionStore(), nil)
	ctx := context.Background()

	m, err := registry.Open(ctx, "")
	require.NoError(t, err)
	m.Pin()

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, registry.EvictIdle(ctx, time.Millisecond))
	assert.Equal(t, 1, registry.Count())

	m.Unpin()
	assert.Equal(t, 0, registry.EvictIdle(ctx, time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, registry.EvictIdle(ctx, time.Millisecond))
	assert.Equal(t, 0, registry.Count())
}

type failingEvents struct {
	mu        sync.Mutex
	published []interfaces.Event
}

func (f *failingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (f *failingEvents) Publish(ctx context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return errors.New("event service closed")
}

func (f *failingEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}

func (f *failingEvents) Close() error { return nil }

func TestEvictIdle_PublishFailureStillEvicts(t *testing.T) {
	bus := &failingEvents{}
	registry := newTestRegistry(t, memory.NewSessionStore(), bus)
	ctx := context.Background()

	m, err := registry.Open(ctx, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, registry.EvictIdle(ctx, time.Millisecond))

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.published, 1)
	assert.Equal(t, interfaces.EventSessionEvicted, bus.published[0].Type)
	assert.Equal(t, m.ID(), bus.published[0].Payload.(map[string]interface{})["session_id"])
}

// gatedStore holds the first Put after arm until release is closed
type gatedStore struct {
	interfaces.SessionStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		SessionStore: memory.NewSessionStore(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedStore) Put(ctx context.Context, session *models.SearchSession) error {
	g.mu.Lock()
	hold := g.armed
	g.armed = false
	g.mu.Unlock()

	if hold {
		close(g.entered)
		<-g.release
	}
	return g.SessionStore.Put(ctx, session)
}

func TestPersist_StoreKeepsNewestState(t *testing.T) {
	store := newGatedStore()
	registry := newTestRegistry(t, store, nil)
	ctx := context.Background()

	m, err := registry.Open(ctx, "")
	require.NoError(t, err)

	store.arm()
	located := make(chan struct{})
	go func() {
		defer close(located)
		m.RecordLocation(ctx, models.NewGeoPoint(13.7563, 100.5018))
	}()
	<-store.entered

	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		m.RecordSearchMetrics(ctx, &models.SearchOutcome{DataSource: "primary"})
	}()
	require.Eventually(t, func() bool { return len(m.History()) == 1 }, time.Second, time.Millisecond)

	close(store.release)
	<-located
	<-recorded

	stored, err := store.Get(ctx, m.ID())
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLocation)
	assert.Len(t, stored.History, 1)
}
