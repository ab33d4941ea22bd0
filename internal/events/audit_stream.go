package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/helixir/osint-research-service/internal/research"
)

// Compile-time interface verification.
var _ research.AuditSink = (*AuditStream)(nil)

// AuditStream writes audit events to the audit topic. It is meant to be a
// secondary sink of a research.TeeSink; PostgreSQL holds the authoritative
// trail.
type AuditStream struct {
	writer MessageWriter
}

// NewAuditStream creates an AuditStream writing through writer.
func NewAuditStream(writer MessageWriter) *AuditStream {
	return &AuditStream{writer: writer}
}

// Append implements research.AuditSink.
func (s *AuditStream) Append(ctx context.Context, ev research.AuditEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "sequence", Value: []byte(strconv.FormatInt(ev.Sequence, 10))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("stream audit event %d: %w", ev.Sequence, err)
	}
	return nil
}

// Close closes the writer.
func (s *AuditStream) Close() error {
	return s.writer.Close()
}
