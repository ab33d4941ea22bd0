// Package events publishes research session events to Kafka.
//
// # Overview
//
// Two streams leave the service:
//
//   - Lifecycle events on the events topic, one per session milestone.
//   - The audit stream on the audit topic, a copy of every audit event the
//     engine records. PostgreSQL stays the system of record; the stream lets
//     downstream consumers follow sessions without polling.
//
// Both streams key messages by session ID, so every event of a session lands
// on the same partition and consumers see them in order.
//
// # Event Types
//
//   - research.session.created: A session was accepted and persisted
//   - research.session.started: The workflow began executing the session
//   - research.session.completed: The session produced its report
//   - research.session.failed: The session stopped on an unrecoverable error
//   - research.session.cancelled: The session was cancelled on request
//
// # Usage
//
//	emitter := events.NewEmitter(events.EmitterConfig{ServiceName: "osint-research-service"})
//	pub := events.NewPublisher(events.NewWriter(brokers, topic, events.WriterConfig{}), emitter)
//	defer pub.Close()
//
//	err := pub.Publish(ctx, events.EmitParams{
//	    SessionID: session.ID.String(),
//	    EventType: events.EventTypeSessionCreated,
//	    Payload:   payload,
//	})
package events
