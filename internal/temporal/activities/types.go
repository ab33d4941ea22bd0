// Package activities provides Temporal activity implementations for the
// research workflow.
//
// Activity inputs and outputs are serializable structs that cross the
// Temporal serialization boundary. Collaborator activities take the
// research package's request types directly, since those are already plain
// JSON values; the remaining activities define their own input structs here.
// All fields must be exported for JSON serialization by the Temporal SDK's
// default data converter.
package activities

import (
	"github.com/google/uuid"

	"github.com/helixir/osint-research-service/internal/domain"
)

// SearchBatchInput contains the parameters for the search batch activity.
type SearchBatchInput struct {
	// SessionID identifies the session the batch belongs to (for logging).
	SessionID string

	// Depth is the research depth of the round.
	Depth int

	// Queries are the queries to execute, in plan order.
	Queries []string

	// MaxConcurrent bounds how many queries run at the same time.
	MaxConcurrent int

	// TimeoutSeconds is the per-query timeout.
	TimeoutSeconds int
}

// MarkSessionRunningInput contains the parameters for marking a session as running.
type MarkSessionRunningInput struct {
	// SessionID is the research session being started.
	SessionID uuid.UUID

	// WorkflowID is the Temporal workflow driving the session.
	WorkflowID string

	// RunID is the Temporal run ID of the workflow.
	RunID string
}

// CompleteSessionInput contains the parameters for recording a session outcome.
type CompleteSessionInput struct {
	// SessionID is the research session that finished.
	SessionID uuid.UUID

	// Outcome is the final status and counters of the session.
	Outcome domain.SessionOutcome
}

// PublishEventInput contains the parameters for publishing a session lifecycle event.
type PublishEventInput struct {
	// EventType is the event type (e.g., "research.session.started").
	EventType string

	// SessionID is the research session the event is about.
	SessionID string

	// Subject is the subject under investigation.
	Subject string

	// Tags are the caller-supplied session labels.
	Tags []string

	// Payload contains event-specific data.
	Payload map[string]interface{}
}
