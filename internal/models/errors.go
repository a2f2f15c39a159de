package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures in the discovery flow
type ErrorKind string

const (
	ErrKindPermissionDenied      ErrorKind = "PermissionDenied"
	ErrKindPositionUnavailable   ErrorKind = "PositionUnavailable"
	ErrKindLocationTimeout       ErrorKind = "LocationTimeout"
	ErrKindProviderTimeout       ErrorKind = "ProviderTimeout"
	ErrKindProviderError         ErrorKind = "ProviderError"
	ErrKindInvalidPreference     ErrorKind = "InvalidPreference"
	ErrKindAllProvidersExhausted ErrorKind = "AllProvidersExhausted"
)

var (
	// ErrInvalidPreference is returned by preference updates that fail validation
	ErrInvalidPreference = errors.New("invalid preference")

	// ErrAllProvidersExhausted is internal to the orchestrator and is never returned to callers
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrSessionNotFound is returned by session stores for unknown ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidCoordinate rejects an explicit search center outside lat/lng bounds
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// LocationError is returned by location acquisition
type LocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("location %s", e.Kind)
}

func (e *LocationError) Unwrap() error {
	return e.Err
}

// ProviderError is returned by provider adapters
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind carried by err, defaulting to ProviderError
func KindOf(err error) ErrorKind {
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr.Kind
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}
	if errors.Is(err, ErrInvalidPreference) {
		return ErrKindInvalidPreference
	}
	return ErrKindProviderError
}
