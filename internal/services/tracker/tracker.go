// Package tracker acquires device positions through a PositionSource and
// tracks the permission state of the device.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

// State is the tracker's permission/acquisition state
type State string

const (
	StateUnknown    State = "unknown"
	StateRequesting State = "requesting"
	StateGranted    State = "granted"
	StateDenied     State = "denied"
	StateUpdated    State = "updated"
	StateStopped    State = "stopped"
)

// Defaults applied when Config leaves a field zero
const (
	DefaultRequestTimeout     = 10 * time.Second
	DefaultHighAccuracyMeters = 100.0
)

// Config is the acquisition policy
type Config struct {
	RequestTimeout     time.Duration
	MaximumAge         time.Duration
	EnableHighAccuracy bool
	HighAccuracyMeters float64
}

// Tracker drives one device's PositionSource
type Tracker struct {
	source    interfaces.PositionSource
	events    interfaces.EventService
	sessionID string
	config    Config
	logger    arbor.ILogger

	mu    sync.Mutex
	state State
}

// NewTracker creates a tracker for a session. events may be nil.
func NewTracker(source interfaces.PositionSource, events interfaces.EventService, sessionID string, config Config, logger arbor.ILogger) *Tracker {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.HighAccuracyMeters <= 0 {
		config.HighAccuracyMeters = DefaultHighAccuracyMeters
	}
	return &Tracker{
		source:    source,
		events:    events,
		sessionID: sessionID,
		config:    config,
		logger:    logger,
		state:     StateUnknown,
	}
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Options returns the configured acquisition options
func (t *Tracker) Options() interfaces.PositionOptions {
	return interfaces.PositionOptions{
		EnableHighAccuracy: t.config.EnableHighAccuracy,
		Timeout:            t.config.RequestTimeout,
		MaximumAge:         t.config.MaximumAge,
	}
}

// RequestOnce acquires a single fix. Failures are *models.LocationError with kind
// PermissionDenied, PositionUnavailable or LocationTimeout.
func (t *Tracker) RequestOnce(ctx context.Context) (models.GeoPoint, error) {
	previous := t.transition(StateRequesting)

	opts := t.Options()
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	fix, err := t.source.CurrentPosition(reqCtx, opts)
	if err == nil && !geo.ValidPoint(fix) {
		err = &models.LocationError{Kind: models.ErrKindPositionUnavailable, Err: fmt.Errorf("invalid coordinate %f,%f", fix.Latitude, fix.Longitude)}
	}
	if err != nil {
		locErr := classify(reqCtx, err)
		if locErr.Kind == models.ErrKindPermissionDenied {
			t.transition(StateDenied)
		} else {
			t.transition(settled(previous))
		}
		t.logger.Warn().
			Str("session_id", t.sessionID).
			Str("error_kind", string(locErr.Kind)).
			Err(err).
			Msg("Location request failed")
		return models.GeoPoint{}, locErr
	}

	t.transition(StateGranted)
	return fix, nil
}

// StartContinuous starts a watch and invokes callback for every fix that passes
// the MaximumAge and high-accuracy policy. Callbacks run on the subscription's
// goroutine, one at a time.
func (t *Tracker) StartContinuous(ctx context.Context, callback func(models.GeoPoint), opts interfaces.PositionOptions) (*Subscription, error) {
	if callback == nil {
		return nil, fmt.Errorf("callback cannot be nil")
	}

	previous := t.transition(StateRequesting)

	watchCtx, cancel := context.WithCancel(ctx)
	watch, err := t.source.Watch(watchCtx, opts)
	if err != nil {
		cancel()
		locErr := classify(watchCtx, err)
		if locErr.Kind == models.ErrKindPermissionDenied {
			t.transition(StateDenied)
		} else {
			t.transition(settled(previous))
		}
		return nil, locErr
	}

	t.transition(StateGranted)

	sub := &Subscription{
		tracker: t,
		watch:   watch,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.run(watchCtx, callback, opts)

	t.logger.Debug().
		Str("session_id", t.sessionID).
		Bool("high_accuracy", opts.EnableHighAccuracy).
		Dur("maximum_age", opts.MaximumAge).
		Msg("Continuous tracking started")

	return sub, nil
}

// accept applies the MaximumAge and high-accuracy filters
func (t *Tracker) accept(fix models.GeoPoint, opts interfaces.PositionOptions) bool {
	if !geo.ValidPoint(fix) {
		return false
	}
	if opts.MaximumAge > 0 && !fix.CapturedAt.IsZero() && time.Since(fix.CapturedAt) > opts.MaximumAge {
		return false
	}
	if opts.EnableHighAccuracy && fix.AccuracyMeters != nil && *fix.AccuracyMeters > t.config.HighAccuracyMeters {
		return false
	}
	return true
}

// transition moves to next and returns the previous state. Changes are
// published as permission events.
func (t *Tracker) transition(next State) State {
	t.mu.Lock()
	previous := t.state
	t.state = next
	t.mu.Unlock()

	if previous != next && t.events != nil {
		err := t.events.Publish(context.Background(), interfaces.Event{
			Type: interfaces.EventPermissionChanged,
			Payload: map[string]interface{}{
				"session_id": t.sessionID,
				"from":       string(previous),
				"to":         string(next),
			},
		})
		if err != nil {
			t.logger.Warn().Err(err).Str("session_id", t.sessionID).Msg("Failed to publish permission change")
		}
	}
	return previous
}

// settled maps a transient state back to where a failed request leaves the tracker
func settled(previous State) State {
	switch previous {
	case StateRequesting, StateStopped:
		return StateUnknown
	case StateUpdated:
		return StateGranted
	}
	return previous
}

func classify(ctx context.Context, err error) *models.LocationError {
	var locErr *models.LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.LocationError{Kind: models.ErrKindLocationTimeout, Err: err}
	}
	return &models.LocationError{Kind: models.ErrKindPositionUnavailable, Err: err}
}

// Subscription is the handle for a continuous watch. Stop releases the
// platform watch and may be called any number of times from any goroutine.
type Subscription struct {
	tracker *Tracker
	watch   interfaces.PositionWatch
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Stop ends the watch
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		if err := s.watch.Close(); err != nil {
			s.tracker.logger.Warn().Err(err).Str("session_id", s.tracker.sessionID).Msg("Failed to close position watch")
		}
		if s.tracker.State() != StateDenied {
			s.tracker.transition(StateStopped)
		}
	})
}

// Done is closed once the watch loop has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) run(ctx context.Context, callback func(models.GeoPoint), opts interfaces.PositionOptions) {
	defer close(s.done)
	defer s.Stop()
	defer common.Recover(s.tracker.logger, "tracker:"+s.tracker.sessionID)

	fixes := s.watch.Fixes()
	errs := s.watch.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-fixes:
			if !ok {
				return
			}
			if !s.tracker.accept(fix, opts) {
				s.tracker.logger.Debug().
					Str("session_id", s.tracker.sessionID).
					Float64("accuracy_meters", fix.Accuracy()).
					Msg("Fix rejected by acquisition policy")
				continue
			}
			s.tracker.transition(StateUpdated)
			callback(fix)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			locErr := classify(ctx, err)
			if locErr.Kind == models.ErrKindPermissionDenied {
				s.tracker.transition(StateDenied)
				s.tracker.logger.Warn().Str("session_id", s.tracker.sessionID).Msg("Location permission revoked - tracking stopped")
				return
			}
			s.tracker.logger.Warn().
				Str("session_id", s.tracker.sessionID).
				Str("error_kind", string(locErr.Kind)).
				Msg("Position watch error")
		}
	}
}
