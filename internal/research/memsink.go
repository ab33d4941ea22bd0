package research

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemorySink keeps audit events in memory. It is safe for concurrent use by
// many sessions and rejects out-of-order appends within a session.
type MemorySink struct {
	mu     sync.Mutex
	events map[string][]AuditEvent
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make(map[string][]AuditEvent)}
}

// Append stores ev if it directly follows the session's last event.
func (m *MemorySink) Append(_ context.Context, ev AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.events[ev.SessionID]
	if want := int64(len(existing) + 1); ev.Sequence != want {
		return fmt.Errorf("session %s: expected sequence %d, got %d", ev.SessionID, want, ev.Sequence)
	}
	m.events[ev.SessionID] = append(existing, ev)
	return nil
}

// ListEvents returns a copy of the session's events in sequence order.
func (m *MemorySink) ListEvents(_ context.Context, sessionID string) ([]AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events[sessionID]), nil
}

// Sessions returns the IDs of every session with at least one event.
func (m *MemorySink) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.events)
}

// TeeSink appends every event to a primary sink and then to secondary
// sinks. Only a primary failure is returned; secondary failures are passed
// to OnError.
type TeeSink struct {
	Primary   AuditSink
	Secondary []AuditSink
	OnError   func(ev AuditEvent, err error)
}

// Append implements AuditSink.
func (t *TeeSink) Append(ctx context.Context, ev AuditEvent) error {
	if err := t.Primary.Append(ctx, ev); err != nil {
		return err
	}
	for _, s := range t.Secondary {
		if err := s.Append(ctx, ev); err != nil && t.OnError != nil {
			t.OnError(ev, err)
		}
	}
	return nil
}

// Flush flushes every sink that buffers writes.
func (t *TeeSink) Flush(ctx context.Context) error {
	var firstErr error
	for _, s := range append([]AuditSink{t.Primary}, t.Secondary...) {
		if f, ok := s.(Flusher); ok {
			if err := f.Flush(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
