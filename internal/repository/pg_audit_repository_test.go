package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/osint-research-service/internal/domain"
	"github.com/helixir/osint-research-service/internal/research"
)

func testAuditEvent(seq int64) research.AuditEvent {
	return research.AuditEvent{
		SessionID: "session-1",
		Sequence:  seq,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:      research.EventStateTransition,
		Step:      research.StepPhaseChanged,
		Payload:   json.RawMessage(`{"phase":"planning"}`),
	}
}

func TestPgAuditRepository_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts next event", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		ev := testAuditEvent(1)
		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs("session-1", int64(1), ev.Timestamp, "state_transition", research.StepPhaseChanged, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewPgAuditRepository(mock).Append(ctx, ev))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("accepts retried event that is already stored", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		ev := testAuditEvent(2)
		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(anyArgs(6)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT kind, step FROM audit_events").
			WithArgs("session-1", int64(2)).
			WillReturnRows(pgxmock.NewRows([]string{"kind", "step"}).AddRow("state_transition", research.StepPhaseChanged))

		require.NoError(t, NewPgAuditRepository(mock).Append(ctx, ev))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects event without predecessor", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(anyArgs(6)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT kind, step FROM audit_events").
			WithArgs("session-1", int64(5)).
			WillReturnError(pgx.ErrNoRows)

		err = NewPgAuditRepository(mock).Append(ctx, testAuditEvent(5))
		assert.True(t, errors.Is(err, research.ErrUnrecoverable))
		assert.Contains(t, err.Error(), "out of order")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects conflicting event at same sequence", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(anyArgs(6)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectQuery("SELECT kind, step FROM audit_events").
			WithArgs("session-1", int64(3)).
			WillReturnRows(pgxmock.NewRows([]string{"kind", "step"}).AddRow("error", "errors_recorded"))

		err = NewPgAuditRepository(mock).Append(ctx, testAuditEvent(3))
		assert.True(t, errors.Is(err, research.ErrUnrecoverable))
		assert.Contains(t, err.Error(), "conflict")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validates input", func(t *testing.T) {
		repo := NewPgAuditRepository(nil)
		ev := testAuditEvent(0)
		assert.True(t, errors.Is(repo.Append(ctx, ev), domain.ErrInvalidInput))
		ev = testAuditEvent(1)
		ev.SessionID = ""
		assert.True(t, errors.Is(repo.Append(ctx, ev), domain.ErrInvalidInput))
	})
}

func TestPgAuditRepository_ListEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("returns events in order", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		first, second := testAuditEvent(1), testAuditEvent(2)
		second.Kind = research.EventCallAttempt
		second.Step = research.OpPlanning
		rows := pgxmock.NewRows([]string{"session_id", "sequence", "occurred_at", "kind", "step", "payload"}).
			AddRow(first.SessionID, first.Sequence, first.Timestamp, string(first.Kind), first.Step, []byte(first.Payload)).
			AddRow(second.SessionID, second.Sequence, second.Timestamp, string(second.Kind), second.Step, []byte(nil))
		mock.ExpectQuery("SELECT session_id, sequence, occurred_at, kind, step, payload\\s+FROM audit_events").
			WithArgs("session-1").
			WillReturnRows(rows)

		events, err := NewPgAuditRepository(mock).ListEvents(ctx, "session-1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first, events[0])
		assert.Equal(t, research.EventCallAttempt, events[1].Kind)
		assert.Nil(t, events[1].Payload)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires session id", func(t *testing.T) {
		_, err := NewPgAuditRepository(nil).ListEvents(ctx, "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgAuditRepository_LastSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sequence\\), 0\\) FROM audit_events").
		WithArgs("session-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(int64(7)))

	seq, err := NewPgAuditRepository(mock).LastSequence(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}
