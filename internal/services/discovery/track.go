package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/dinewise/internal/common"
	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/models"
	"github.com/ternarybob/dinewise/internal/services/session"
	"github.com/ternarybob/dinewise/internal/services/tracker"
)

// OutcomeHandler receives fresh outcomes while tracking. Stale outcomes are never delivered.
type OutcomeHandler func(*models.SearchOutcome)

// Tracking is an active continuous-tracking loop for one session
type Tracking struct {
	service   *Service
	sessionID string
	stream    string
	manager   *session.Manager
	onOutcome OutcomeHandler
	opts      SearchOptions

	ctx    context.Context
	cancel context.CancelFunc
	sub    *tracker.Subscription

	mu           sync.Mutex
	lastSearched *models.GeoPoint
	cancelSearch context.CancelFunc
	wg           sync.WaitGroup

	deliverMu sync.Mutex
	stopOnce  sync.Once
}

// Track starts continuous tracking. Each fix that moved more than the movement
// threshold from the last searched point cancels the in-flight search and
// starts a new one, so only the newest fix's outcome reaches session state
// and onOutcome. Searches run on their own stream, so one-shot searches on the
// same session never supersede them. The session stays loaded until Stop.
func (s *Service) Track(ctx context.Context, sessionID string, opts SearchOptions, onOutcome OutcomeHandler) (*Tracking, error) {
	if onOutcome == nil {
		return nil, errors.New("outcome handler cannot be nil")
	}
	m, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.trackSeq++
	stream := fmt.Sprintf("tracking-%d", s.trackSeq)
	s.mu.Unlock()

	trackCtx, cancel := context.WithCancel(ctx)
	t := &Tracking{
		service:   s,
		sessionID: sessionID,
		stream:    stream,
		manager:   m,
		onOutcome: onOutcome,
		opts:      opts,
		ctx:       trackCtx,
		cancel:    cancel,
	}

	tr := s.trackerFor(sessionID)
	sub, err := tr.StartContinuous(trackCtx, t.onFix, tr.Options())
	if err != nil {
		cancel()
		return nil, err
	}
	t.sub = sub
	m.Pin()

	s.mu.Lock()
	s.trackings[t] = struct{}{}
	s.mu.Unlock()

	s.logger.Info().
		Str("session_id", sessionID).
		Float64("movement_threshold_meters", s.config.MovementThresholdMeters).
		Msg("Tracking started")

	return t, nil
}

// Stop ends tracking, cancels any in-flight search and waits for it to unwind.
// It must not be called from inside the outcome handler.
func (t *Tracking) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		// Any onFix past its cancellation check has registered with wg once this returns
		t.mu.Lock()
		t.mu.Unlock()
		if t.sub != nil {
			t.sub.Stop()
		}

		t.service.mu.Lock()
		delete(t.service.trackings, t)
		t.service.mu.Unlock()

		t.wg.Wait()
		t.manager.EndStream(t.stream)
		t.manager.Unpin()

		t.service.logger.Info().Str("session_id", t.sessionID).Msg("Tracking stopped")
	})
}

// Done is closed when the underlying watch has ended
func (t *Tracking) Done() <-chan struct{} {
	return t.sub.Done()
}

func (t *Tracking) onFix(fix models.GeoPoint) {
	t.manager.RecordLocation(t.ctx, fix)

	t.mu.Lock()
	if t.lastSearched != nil && geo.DistanceMeters(*t.lastSearched, fix) <= t.service.config.MovementThresholdMeters {
		t.mu.Unlock()
		return
	}
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	point := fix
	t.lastSearched = &point
	if t.cancelSearch != nil {
		t.cancelSearch()
	}
	searchCtx, cancel := context.WithCancel(t.ctx)
	t.cancelSearch = cancel
	generation := t.manager.BeginSearch(t.stream)
	t.wg.Add(1)
	t.mu.Unlock()

	common.SafeGo(t.service.logger, "track-search:"+t.sessionID, func() {
		defer t.wg.Done()
		defer cancel()
		t.search(searchCtx, generation, point)
	})
}

func (t *Tracking) search(ctx context.Context, generation uint64, center models.GeoPoint) {
	outcome, err := t.service.run(ctx, t.manager, center, t.opts)
	if err != nil {
		if ctx.Err() != nil {
			t.service.logger.Debug().Str("session_id", t.sessionID).Msg("Tracking search cancelled by newer fix")
			return
		}
		t.service.logger.Warn().Err(err).Str("session_id", t.sessionID).Msg("Tracking search failed")
		return
	}
	outcome.SessionID = t.sessionID
	outcome.LocationStatus = models.LocationOK

	// Apply and deliver together so a newer outcome can never be overtaken
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	if !t.manager.ApplyOutcome(t.ctx, t.stream, generation, outcome) {
		return
	}
	if t.ctx.Err() != nil {
		return
	}
	t.service.publishCompleted(t.ctx, t.sessionID, outcome)
	t.onOutcome(outcome)
}
