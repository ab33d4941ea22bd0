package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

// Compile-time interface verification.
var (
	_ research.AuditSink   = (*PgAuditRepository)(nil)
	_ research.AuditReader = (*PgAuditRepository)(nil)
)

// PgAuditRepository stores session audit trails in the append-only
// audit_events table.
//
// Append only inserts event n when event n-1 of the same session exists, so
// the stored trail never has gaps. Re-appending an event that is already
// stored with the same kind and step succeeds, which makes the call safe to
// retry.
type PgAuditRepository struct {
	db DBTX
}

// NewPgAuditRepository creates a new PostgreSQL audit repository.
func NewPgAuditRepository(db DBTX) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

// Append implements research.AuditSink.
func (r *PgAuditRepository) Append(ctx context.Context, ev research.AuditEvent) error {
	if ev.SessionID == "" {
		return domain.NewValidationError("session_id", "session ID is required")
	}
	if ev.Sequence < 1 {
		return domain.NewValidationError("sequence", "sequence must start at 1")
	}

	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	query := `
		INSERT INTO audit_events (session_id, sequence, occurred_at, kind, step, payload)
		SELECT $1::text, $2::bigint, $3::timestamptz, $4::text, $5::text, $6::jsonb
		WHERE $2::bigint = 1 OR EXISTS (
			SELECT 1 FROM audit_events WHERE session_id = $1::text AND sequence = $2::bigint - 1
		)
		ON CONFLICT (session_id, sequence) DO NOTHING`

	result, err := r.db.Exec(ctx, query,
		ev.SessionID, ev.Sequence, ev.Timestamp, string(ev.Kind), ev.Step, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	var kind, step string
	err = r.db.QueryRow(ctx,
		`SELECT kind, step FROM audit_events WHERE session_id = $1 AND sequence = $2`,
		ev.SessionID, ev.Sequence,
	).Scan(&kind, &step)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &research.UnrecoverableError{
			Reason: "audit trail out of order",
			Err:    fmt.Errorf("session %s: event %d has no predecessor", ev.SessionID, ev.Sequence),
		}
	case err != nil:
		return fmt.Errorf("failed to check existing audit event: %w", err)
	case kind != string(ev.Kind) || step != ev.Step:
		return &research.UnrecoverableError{
			Reason: "audit trail conflict",
			Err: fmt.Errorf("session %s: event %d already recorded as %s/%s",
				ev.SessionID, ev.Sequence, kind, step),
		}
	}
	return nil
}

// ListEvents implements research.AuditReader. Events are returned in
// sequence order.
func (r *PgAuditRepository) ListEvents(ctx context.Context, sessionID string) ([]research.AuditEvent, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("session_id", "session ID is required")
	}

	query := `
		SELECT session_id, sequence, occurred_at, kind, step, payload
		FROM audit_events
		WHERE session_id = $1
		ORDER BY sequence ASC`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []research.AuditEvent
	for rows.Next() {
		var (
			ev      research.AuditEvent
			kind    string
			payload []byte
		)
		if err := rows.Scan(&ev.SessionID, &ev.Sequence, &ev.Timestamp, &kind, &ev.Step, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Kind = research.EventKind(kind)
		ev.Timestamp = ev.Timestamp.UTC()
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// LastSequence returns the highest sequence stored for a session, or 0 when
// the session has no events.
func (r *PgAuditRepository) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM audit_events WHERE session_id = $1`,
		sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read last audit sequence: %w", err)
	}
	return seq, nil
}
