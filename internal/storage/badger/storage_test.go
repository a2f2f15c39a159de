package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

func setupTestDB(t *testing.T, path string) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionStorage_RoundTrip(t *testing.T) {
	db := setupTestDB(t, t.TempDir())
	store := NewSessionStorage(db, arbor.NewLogger())
	ctx := context.Background()

	loc := models.NewGeoPoint(13.7563, 100.5018).WithAccuracy(12)
	session := &models.SearchSession{
		SessionID:       "ses_1",
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
		LastLocation:    &loc,
		DefaultRadiusKm: 2,
		MaxRadiusKm:     15,
		DistanceUnit:    models.UnitKilometers,
		History: []models.SearchMetric{
			{RadiusKm: 3, Attempts: 2, DataSource: "primary", RecordCount: 6},
		},
	}
	require.NoError(t, store.Put(ctx, session))

	got, err := store.Get(ctx, "ses_1")
	require.NoError(t, err)
	require.NotNil(t, got.LastLocation)
	assert.InDelta(t, 13.7563, got.LastLocation.Latitude, 1e-9)
	assert.InDelta(t, 12.0, got.LastLocation.Accuracy(), 1e-9)
	require.Len(t, got.History, 1)
	assert.Equal(t, "primary", got.History[0].DataSource)

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, store.Delete(ctx, "ses_1"))
	_, err = store.Get(ctx, "ses_1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "ses_1"), models.ErrSessionNotFound)
}

func TestSessionStorage_RejectsMissingID(t *testing.T) {
	store := NewSessionStorage(setupTestDB(t, ""), arbor.NewLogger())
	assert.Error(t, store.Put(context.Background(), &models.SearchSession{}))
	assert.Error(t, store.Put(context.Background(), nil))
}

func TestKVStorage_CaseInsensitiveKeys(t *testing.T) {
	kv := NewKVStorage(setupTestDB(t, ""), arbor.NewLogger())
	ctx := context.Background()

	created, err := kv.Upsert(ctx, "Google_Places_API_Key", "abc", "places key")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = kv.Upsert(ctx, "google_places_api_key", "def", "rotated")
	require.NoError(t, err)
	assert.False(t, created)

	value, err := kv.Get(ctx, "GOOGLE_PLACES_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "def", value)

	pairs, err := kv.List(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 1)

	require.NoError(t, kv.Delete(ctx, "google_places_api_key"))
	_, err = kv.Get(ctx, "google_places_api_key")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestNewBadgerDB_ResetOnStartup(t *testing.T) {
	dir := t.TempDir()
	logger := arbor.NewLogger()

	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, NewKVStorage(db, logger).Set(context.Background(), "k", "v", ""))
	require.NoError(t, db.Close())

	db, err = NewBadgerDB(logger, &common.BadgerConfig{Path: dir, ResetOnStartup: true})
	require.NoError(t, err)
	defer db.Close()

	_, err = NewKVStorage(db, logger).Get(context.Background(), "k")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestRunValueLogGC(t *testing.T) {
	logger := arbor.NewLogger()

	mem, err := NewBadgerDB(logger, &common.BadgerConfig{})
	require.NoError(t, err)
	defer mem.Close()
	assert.NoError(t, mem.RunValueLogGC(0.5))

	disk, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	defer disk.Close()
	require.NoError(t, NewKVStorage(disk, logger).Set(context.Background(), "k", "v", ""))
	assert.NoError(t, disk.RunValueLogGC(0.5))
}
