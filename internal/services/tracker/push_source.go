package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/dinewise/internal/geo"
	"github.com/ternarybob/dinewise/internal/interfaces"
	"github.com/ternarybob/dinewise/internal/models"
)

const pushWatchBuffer = 16

// PushSource is a PositionSource fed by fixes the device reports over the API.
// Fixes fan out to every open watch and to pending CurrentPosition calls.
type PushSource struct {
	mu      sync.Mutex
	last    *models.GeoPoint
	denied  bool
	waiters map[chan waiterResult]struct{}
	watches map[*pushWatch]struct{}
}

type waiterResult struct {
	fix models.GeoPoint
	err error
}

// NewPushSource creates an empty push source
func NewPushSource() *PushSource {
	return &PushSource{
		waiters: make(map[chan waiterResult]struct{}),
		watches: make(map[*pushWatch]struct{}),
	}
}

// Report delivers a device fix. A fix implies the device granted permission.
func (p *PushSource) Report(fix models.GeoPoint) error {
	if !geo.ValidPoint(fix) {
		return fmt.Errorf("invalid coordinate %f,%f", fix.Latitude, fix.Longitude)
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.last = &fix
	p.denied = false

	for ch := range p.waiters {
		ch <- waiterResult{fix: fix}
		delete(p.waiters, ch)
	}
	for w := range p.watches {
		w.push(fix)
	}
	return nil
}

// ReportPermission records the device permission decision
func (p *PushSource) ReportPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.denied = !granted
	if granted {
		return
	}
	p.failLocked(&models.LocationError{Kind: models.ErrKindPermissionDenied, Err: errors.New("device denied location permission")})
}

// ReportError records an acquisition failure reported by the device
func (p *PushSource) ReportError(kind models.ErrorKind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kind == models.ErrKindPermissionDenied {
		p.denied = true
	}
	p.failLocked(&models.LocationError{Kind: kind, Err: errors.New(message)})
}

func (p *PushSource) failLocked(err error) {
	for ch := range p.waiters {
		ch <- waiterResult{err: err}
		delete(p.waiters, ch)
	}
	for w := range p.watches {
		w.fail(err)
	}
}

// Last returns the most recent fix, if any
func (p *PushSource) Last() (models.GeoPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return models.GeoPoint{}, false
	}
	return *p.last, true
}

// CurrentPosition returns the cached fix when it is younger than MaximumAge,
// otherwise waits for the next report.
func (p *PushSource) CurrentPosition(ctx context.Context, opts interfaces.PositionOptions) (models.GeoPoint, error) {
	p.mu.Lock()
	if p.denied {
		p.mu.Unlock()
		return models.GeoPoint{}, &models.LocationError{Kind: models.ErrKindPermissionDenied}
	}
	if p.last != nil && opts.MaximumAge > 0 && time.Since(p.last.CapturedAt) <= opts.MaximumAge {
		fix := *p.last
		p.mu.Unlock()
		return fix, nil
	}
	ch := make(chan waiterResult, 1)
	p.waiters[ch] = struct{}{}
	p.mu.Unlock()

	select {
	case res := <-ch:
		return res.fix, res.err
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.waiters, ch)
		p.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.GeoPoint{}, &models.LocationError{Kind: models.ErrKindLocationTimeout, Err: ctx.Err()}
		}
		return models.GeoPoint{}, &models.LocationError{Kind: models.ErrKindPositionUnavailable, Err: ctx.Err()}
	}
}

// Watch opens a watch. The latest fix is replayed first when it satisfies MaximumAge.
func (p *PushSource) Watch(ctx context.Context, opts interfaces.PositionOptions) (interfaces.PositionWatch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied {
		return nil, &models.LocationError{Kind: models.ErrKindPermissionDenied}
	}

	w := &pushWatch{
		source: p,
		fixes:  make(chan models.GeoPoint, pushWatchBuffer),
		errs:   make(chan error, pushWatchBuffer),
	}
	p.watches[w] = struct{}{}

	if p.last != nil && (opts.MaximumAge <= 0 || time.Since(p.last.CapturedAt) <= opts.MaximumAge) {
		w.push(*p.last)
	}
	return w, nil
}

// Watching reports the number of open watches
func (p *PushSource) Watching() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// pushWatch channels are only written and closed while holding source.mu
type pushWatch struct {
	source *PushSource
	fixes  chan models.GeoPoint
	errs   chan error
	closed bool
}

// push keeps the newest fixes when the consumer falls behind
func (w *pushWatch) push(fix models.GeoPoint) {
	select {
	case w.fixes <- fix:
	default:
		select {
		case <-w.fixes:
		default:
		}
		w.fixes <- fix
	}
}

func (w *pushWatch) fail(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

func (w *pushWatch) Fixes() <-chan models.GeoPoint { return w.fixes }

func (w *pushWatch) Errors() <-chan error { return w.errs }

func (w *pushWatch) Close() error {
	w.source.mu.Lock()
	defer w.source.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	delete(w.source.watches, w)
	close(w.fixes)
	close(w.errs)
	return nil
}

// PushRegistry hands out one PushSource per session
type PushRegistry struct {
	mu      sync.Mutex
	sources map[string]*PushSource
}

// NewPushRegistry creates an empty registry
func NewPushRegistry() *PushRegistry {
	return &PushRegistry{sources: make(map[string]*PushSource)}
}

// Source returns the session's push source, creating it on first use
func (r *PushRegistry) Source(sessionID string) *PushSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[sessionID]
	if !ok {
		src = NewPushSource()
		r.sources[sessionID] = src
	}
	return src
}

// PositionSource adapts Source to the discovery service's lookup
func (r *PushRegistry) PositionSource(sessionID string) interfaces.PositionSource {
	return r.Source(sessionID)
}

// Remove drops a session's source
func (r *PushRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, sessionID)
}
