package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/interfaces"
)

const (
	// HousekeepingJobName is the job that unloads idle sessions
	HousekeepingJobName = "session_housekeeping"

	// StorageGCJobName compacts the session database
	StorageGCJobName = "storage_gc"

	gcDiscardRatio = 0.5
)

// SessionSweeper is the part of the session registry housekeeping drives
type SessionSweeper interface {
	EvictIdle(ctx context.Context, idle time.Duration) int
	Flush(ctx context.Context)
}

// RegisterHousekeeping registers the idle-session sweep. Live sessions are
// flushed to the store after eviction so a crash loses at most one interval.
func RegisterHousekeeping(s interfaces.SchedulerService, sessions SessionSweeper, schedule string, idleTTL time.Duration, logger arbor.ILogger) error {
	return s.RegisterJob(HousekeepingJobName, schedule, "Evict idle sessions and persist live ones", func(ctx context.Context) error {
		evicted := sessions.EvictIdle(ctx, idleTTL)
		sessions.Flush(ctx)
		logger.Debug().
			Int("evicted", evicted).
			Dur("idle_ttl", idleTTL).
			Msg("Session housekeeping complete")
		return ctx.Err()
	})
}

// StorageCompactor reclaims space in the backing store
type StorageCompactor interface {
	RunValueLogGC(discardRatio float64) error
}

// RegisterStorageGC registers periodic value log compaction
func RegisterStorageGC(s interfaces.SchedulerService, store StorageCompactor, schedule string, logger arbor.ILogger) error {
	return s.RegisterJob(StorageGCJobName, schedule, "Compact the session database value log", func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.RunValueLogGC(gcDiscardRatio); err != nil {
			logger.Warn().Err(err).Msg("Storage GC failed")
			return err
		}
		return nil
	})
}
