package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dinewise/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs discovery events.
// It is the default collaborator for location update notifications.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["session_id"].(string); ok {
				logEvent = logEvent.Str("session_id", id)
			}
			if lat, ok := payload["latitude"].(float64); ok {
				logEvent = logEvent.Float64("latitude", lat)
			}
			if lng, ok := payload["longitude"].(float64); ok {
				logEvent = logEvent.Float64("longitude", lng)
			}
			if to, ok := payload["to"].(string); ok {
				logEvent = logEvent.Str("state", to)
			}
			if source, ok := payload["data_source"].(string); ok {
				logEvent = logEvent.Str("data_source", source)
			}
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventLocationUpdated,
		interfaces.EventPermissionChanged,
		interfaces.EventSearchCompleted,
		interfaces.EventSessionEvicted,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
