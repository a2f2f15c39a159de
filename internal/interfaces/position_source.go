package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/dinewise/internal/models"
)

// PositionOptions mirrors the acquisition policy a device geolocation API accepts
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration
	MaximumAge         time.Duration
}

// PositionSource is the platform geolocation facility the tracker drives.
// Errors returned are *models.LocationError.
type PositionSource interface {
	// CurrentPosition acquires a single fix
	CurrentPosition(ctx context.Context, opts PositionOptions) (models.GeoPoint, error)

	// Watch starts a continuous watch; the caller owns the returned handle
	Watch(ctx context.Context, opts PositionOptions) (PositionWatch, error)
}

// PositionWatch is a live platform subscription. Close must release it and is
// safe to call more than once.
type PositionWatch interface {
	Fixes() <-chan models.GeoPoint
	Errors() <-chan error
	Close() error
}
