package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/handlers"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/discovery"
	"github.com/ternarybob/dinewise/internal/services/events"
	"github.com/ternarybob/dinewise/internal/services/orchestrator"
	"github.com/ternarybob/dinewise/internal/services/providers"
	"github.com/ternarybob/dinewise/internal/services/radius"
	"github.com/ternarybob/dinewise/internal/services/scheduler"
	"github.com/ternarybob/dinewise/internal/services/session"
	"github.com/ternarybob/dinewise/internal/services/tracker"
	"github.com/ternarybob/dinewise/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB           *badger.BadgerDB
	KVStorage    interfaces.KeyValueStorage
	SessionStore interfaces.SessionStore

	// Services
	EventService     interfaces.EventService
	Orchestrator     *orchestrator.Orchestrator
	Searcher         *radius.Searcher
	Sessions         *session.Registry
	Sources          *tracker.PushRegistry
	Discovery        *discovery.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	SessionHandler   *handlers.SessionHandler
	SearchHandler    *handlers.SearchHandler
	TrackHandler     *handlers.TrackHandler
	KVHandler        *handlers.KVHandler
	SchedulerHandler *handlers.SchedulerHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if cfg.Housekeeping.Enabled {
		if err := app.SchedulerService.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	logger.Info().
		Strs("providers", app.Orchestrator.Providers()).
		Bool("merge_results", cfg.Providers.MergeResults).
		Bool("housekeeping_enabled", cfg.Housekeeping.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger and the stores built on it
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}

	a.DB = db
	a.KVStorage = badger.NewKVStorage(db, a.Logger)
	a.SessionStore = badger.NewSessionStorage(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order:
// events, provider chain, orchestrator, radius searcher, sessions, discovery,
// then the housekeeping scheduler.
func (a *App) initServices() error {
	cfg := a.Config

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	chain, fallback := providers.BuildChain(context.Background(), &cfg.Providers, a.KVStorage, a.Logger)
	orch, err := orchestrator.New(chain, fallback, orchestrator.Config{
		ProviderTimeout: cfg.Providers.Timeout.Duration(),
		MergeAll:        cfg.Providers.MergeResults,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.Orchestrator = orch
	a.Searcher = radius.NewSearcher(orch, a.Logger)

	a.Sessions = session.NewRegistry(a.SessionStore, a.EventService, session.Config{
		DefaultRadiusKm: cfg.Discovery.InitialRadiusKm,
		MaxRadiusKm:     cfg.Discovery.MaxRadiusKm,
		DistanceUnit:    models.DistanceUnit(cfg.Discovery.DistanceUnit),
		ToleranceMeters: cfg.Discovery.LocationToleranceMeters,
		HistorySize:     cfg.Discovery.HistorySize,
	}, a.Logger)

	a.Sources = tracker.NewPushRegistry()

	anchor := cfg.Discovery.DefaultAnchor
	a.Discovery, err = discovery.NewService(a.Sessions, a.Searcher, a.Sources, a.EventService, discovery.Config{
		DefaultAnchor:           models.NewGeoPoint(anchor.Latitude, anchor.Longitude),
		MovementThresholdMeters: cfg.Discovery.MovementThresholdMeters,
		Radius: radius.Params{
			InitialRadiusKm: cfg.Discovery.InitialRadiusKm,
			MaxRadiusKm:     cfg.Discovery.MaxRadiusKm,
			MinResults:      cfg.Discovery.MinResults,
			ExpansionFactor: cfg.Discovery.ExpansionFactor,
			MaxAttempts:     cfg.Discovery.MaxAttempts,
			Limit:           cfg.Discovery.ResultLimit,
		},
		Tracker: tracker.Config{
			RequestTimeout:     cfg.Tracker.RequestTimeout.Duration(),
			MaximumAge:         cfg.Tracker.MaximumAge.Duration(),
			EnableHighAccuracy: cfg.Tracker.EnableHighAccuracy,
			HighAccuracyMeters: cfg.Tracker.HighAccuracyMeters,
		},
		ZonePolygonPoints: cfg.Discovery.ZonePolygonPoints,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create discovery service: %w", err)
	}

	// Evicted sessions release their tracker and device feed
	if err := a.EventService.Subscribe(interfaces.EventSessionEvicted, a.releaseSession); err != nil {
		return fmt.Errorf("failed to subscribe to session eviction: %w", err)
	}

	a.SchedulerService = scheduler.NewService(a.Logger)
	if cfg.Housekeeping.Enabled {
		if err := scheduler.RegisterHousekeeping(a.SchedulerService, a.Sessions, cfg.Housekeeping.Schedule, cfg.Housekeeping.SessionIdleTTL.Duration(), a.Logger); err != nil {
			return fmt.Errorf("failed to register housekeeping: %w", err)
		}
		if err := scheduler.RegisterStorageGC(a.SchedulerService, a.DB, cfg.Housekeeping.Schedule, a.Logger); err != nil {
			return fmt.Errorf("failed to register storage gc: %w", err)
		}
	}

	return nil
}

func (a *App) releaseSession(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	id, _ := payload["session_id"].(string)
	if id == "" {
		return fmt.Errorf("eviction event without session id")
	}
	a.Discovery.Forget(id)
	a.Sources.Remove(id)
	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Orchestrator, a.Sessions, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.Discovery, a.Sources, a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.Discovery, a.Logger)
	a.TrackHandler = handlers.NewTrackHandler(a.Discovery, a.Sources, a.Logger)
	a.KVHandler = handlers.NewKVHandler(a.KVStorage, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
}

// Close stops background work, persists live sessions and closes storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Discovery != nil {
		a.Discovery.StopAll()
		a.Logger.Info().Msg("Tracking sessions stopped")
	}

	if a.Sessions != nil {
		a.Sessions.Flush(context.Background())
		a.Logger.Info().Int("sessions", a.Sessions.Count()).Msg("Sessions flushed")
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
