package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventLocationUpdated fires when a session records a new location.
	// Payload: map with latitude, longitude, accuracy_meters, session_id, captured_at
	EventLocationUpdated EventType = "location_updated"

	// EventPermissionChanged fires on tracker permission state transitions.
	// Payload: map with session_id, from, to
	EventPermissionChanged EventType = "permission_changed"

	// EventSearchCompleted fires after an outcome is applied to a session
	EventSearchCompleted EventType = "search_completed"

	// EventSessionEvicted fires when housekeeping drops an idle session from memory
	EventSessionEvicted EventType = "session_evicted"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
