package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/session"
	"github.com/ternarybob/dinewise/internal/storage/memory"
)

func waitIdle(t *testing.T, s *Service, name string) *interfaces.JobStatus {
	t.Helper()
	var status *interfaces.JobStatus
	require.Eventually(t, func() bool {
		st, err := s.GetJobStatus(name)
		if err != nil || st.LastRun == nil || st.IsRunning {
			return false
		}
		status = st
		return true
	}, time.Second, 5*time.Millisecond)
	return status
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"*/5 * * * *", false},
		{"0 3 * * *", false},
		{"", true},
		{"every five minutes", true},
		{"* * * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegisterJob(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.RegisterJob("sweep", "*/5 * * * *", "sweep", noop))
	assert.Error(t, s.RegisterJob("sweep", "*/5 * * * *", "again", noop))
	assert.Error(t, s.RegisterJob("bad", "nope", "bad schedule", noop))
	assert.Error(t, s.RegisterJob("nil", "*/5 * * * *", "no handler", nil))

	statuses := s.GetAllJobStatuses()
	require.Len(t, statuses, 1)
	assert.True(t, statuses["sweep"].Enabled)
	assert.Nil(t, statuses["sweep"].NextRun)
}

func TestTriggerJob_RecordsOutcome(t *testing.T) {
	s := NewService(arbor.NewLogger())
	defer s.Stop()

	var calls atomic.Int32
	require.NoError(t, s.RegisterJob("ok", "0 3 * * *", "", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.RegisterJob("fails", "0 3 * * *", "", func(ctx context.Context) error {
		return errors.New("store unavailable")
	}))
	require.NoError(t, s.RegisterJob("panics", "0 3 * * *", "", func(ctx context.Context) error {
		panic("boom")
	}))

	require.NoError(t, s.TriggerJob("ok"))
	assert.Empty(t, waitIdle(t, s, "ok").LastError)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, s.TriggerJob("fails"))
	assert.Equal(t, "store unavailable", waitIdle(t, s, "fails").LastError)

	require.NoError(t, s.TriggerJob("panics"))
	assert.Contains(t, waitIdle(t, s, "panics").LastError, "boom")

	assert.Error(t, s.TriggerJob("missing"))
}

func TestStartStop(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("sweep", "*/5 * * * *", "", func(ctx context.Context) error { return nil }))

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	status, err := s.GetJobStatus("sweep")
	require.NoError(t, err)
	require.NotNil(t, status.NextRun)
	assert.True(t, status.NextRun.After(time.Now()))

	require.NoError(t, s.DisableJob("sweep"))
	status, err = s.GetJobStatus("sweep")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.NextRun)
	require.NoError(t, s.EnableJob("sweep"))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Start())
}

func TestStop_CancelsRunningJob(t *testing.T) {
	s := NewService(arbor.NewLogger())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	require.NoError(t, s.RegisterJob("long", "0 3 * * *", "", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))
	require.NoError(t, s.TriggerJob("long"))
	<-started

	require.NoError(t, s.Stop())
	assert.True(t, sawCancel.Load())
}

func TestHousekeeping_EvictsIdleSessions(t *testing.T) {
	logger := arbor.NewLogger()
	store := memory.NewSessionStore()
	registry := session.NewRegistry(store, nil, session.Config{}, logger)

	m, err := registry.Open(context.Background(), "")
	require.NoError(t, err)
	m.RecordLocation(context.Background(), models.NewGeoPoint(13.7563, 100.5018))

	s := NewService(logger)
	defer s.Stop()
	require.NoError(t, RegisterHousekeeping(s, registry, "*/5 * * * *", time.Millisecond, logger))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TriggerJob(HousekeepingJobName))
	assert.Empty(t, waitIdle(t, s, HousekeepingJobName).LastError)

	assert.Equal(t, 0, registry.Count())

	stored, err := store.Get(context.Background(), m.ID())
	require.NoError(t, err)
	require.NotNil(t, stored.LastLocation)

	restored, err := registry.Get(context.Background(), m.ID())
	require.NoError(t, err)
	_, ok := restored.LastLocation()
	assert.True(t, ok)
}

type fakeCompactor struct {
	ratio float64
	err   error
}

func (f *fakeCompactor) RunValueLogGC(discardRatio float64) error {
	f.ratio = discardRatio
	return f.err
}

func TestStorageGC_ReportsFailure(t *testing.T) {
	logger := arbor.NewLogger()
	s := NewService(logger)
	defer s.Stop()

	store := &fakeCompactor{err: errors.New("disk full")}
	require.NoError(t, RegisterStorageGC(s, store, "0 3 * * *", logger))

	require.NoError(t, s.TriggerJob(StorageGCJobName))
	status := waitIdle(t, s, StorageGCJobName)
	assert.Contains(t, status.LastError, "disk full")
	assert.Equal(t, 0.5, store.ratio)
}
