package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// AggregateTypeResearchSession is the aggregate type for research session events.
	AggregateTypeResearchSession = "research_session"

	// defaultServiceName is the source recorded when none is configured.
	defaultServiceName = "osint-research-service"
)

// Session lifecycle event types.
const (
	EventTypeSessionCreated   = "research.session.created"
	EventTypeSessionStarted   = "research.session.started"
	EventTypeSessionCompleted = "research.session.completed"
	EventTypeSessionFailed    = "research.session.failed"
	EventTypeSessionCancelled = "research.session.cancelled"
)

// Envelope is the JSON document written to Kafka for every event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// SessionID is the research session ID (aggregate ID).
	SessionID string
	// EventType is the type of event (e.g., "research.session.started").
	EventType string
	// Payload is the event payload that will be JSON-serialized.
	Payload interface{}
	// CorrelationID for request tracing (optional).
	CorrelationID string
	// OccurredAt overrides the event time (optional).
	OccurredAt time.Time
}

// Emitter creates event envelopes enriched with service context.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config, now: time.Now}
}

// Emit creates an Envelope from the given parameters.
func (e *Emitter) Emit(params EmitParams) (Envelope, error) {
	if params.SessionID == "" {
		return Envelope{}, fmt.Errorf("session_id is required")
	}
	if params.EventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}

	payload, err := json.Marshal(params.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}

	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     params.EventType,
		AggregateID:   params.SessionID,
		AggregateType: AggregateTypeResearchSession,
		Source:        e.config.ServiceName,
		CorrelationID: params.CorrelationID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       payload,
	}, nil
}
