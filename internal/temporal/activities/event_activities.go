package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/helixir/osint-research-service/internal/events"
)

// EventPublisher is the interface used by EventActivities to publish events.
// This decouples the activity from the concrete events.Publisher implementation,
// enabling straightforward testing with mock implementations.
type EventPublisher interface {
	Publish(ctx context.Context, params events.EmitParams) error
}

// EventActivities provides Temporal activities for publishing session
// lifecycle events to Kafka.
//
// Methods on this struct are registered as Temporal activities via the worker.
type EventActivities struct {
	publisher EventPublisher
}

// NewEventActivities creates a new EventActivities with the given publisher.
// A nil publisher turns PublishEvent into a no-op, which is how the worker
// runs when Kafka is disabled.
func NewEventActivities(publisher EventPublisher) *EventActivities {
	return &EventActivities{publisher: publisher}
}

// PublishEvent publishes a session lifecycle event.
//
// This activity is designed to be called with fire-and-forget semantics from the
// workflow: event publishing failure should never fail the workflow.
func (a *EventActivities) PublishEvent(ctx context.Context, input PublishEventInput) error {
	logger := activity.GetLogger(ctx)
	if a.publisher == nil {
		logger.Debug("event publishing disabled", "eventType", input.EventType)
		return nil
	}

	payload := make(map[string]interface{}, len(input.Payload)+2)
	for k, v := range input.Payload {
		payload[k] = v
	}
	payload["subject"] = input.Subject
	if len(input.Tags) > 0 {
		payload["tags"] = input.Tags
	}

	err := a.publisher.Publish(ctx, events.EmitParams{
		SessionID: input.SessionID,
		EventType: input.EventType,
		Payload:   payload,
	})
	if err != nil {
		logger.Error("failed to publish event",
			"eventType", input.EventType,
			"sessionID", input.SessionID,
			"error", err,
		)
		return fmt.Errorf("publish event %s: %w", input.EventType, err)
	}

	logger.Info("event published",
		"eventType", input.EventType,
		"sessionID", input.SessionID,
	)

	return nil
}
